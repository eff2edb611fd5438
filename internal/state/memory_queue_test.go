package state

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueClaimAckNackAndRequeueExpired(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_ = q.Enqueue(ctx, SubmissionRef{SubmissionID: "sub-1"})
	_ = q.Enqueue(ctx, SubmissionRef{SubmissionID: "sub-2"})

	claims, err := q.Claim(ctx, 2, "c1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("claims = %d, want 2", len(claims))
	}

	if err := q.Ack(ctx, claims[:1]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Nack(ctx, claims[1:], "transient failure"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// the nacked ref is visible again
	claims, err = q.Claim(ctx, 2, "c2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(claims) != 1 || claims[0].Ref.SubmissionID != "sub-2" {
		t.Fatalf("reclaim = %+v, want sub-2", claims)
	}

	// unacked claims come back after the visibility timeout
	n, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}
}

func TestMemoryQueueDeadLetterAfterRepeatedNacks(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	_ = q.Enqueue(ctx, SubmissionRef{SubmissionID: "poison"})
	for i := 0; i < 5; i++ {
		claims, err := q.Claim(ctx, 1, "c1", time.Second)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if len(claims) != 1 {
			t.Fatalf("claim %d returned %d entries", i, len(claims))
		}
		if err := q.Nack(ctx, claims, "still broken"); err != nil {
			t.Fatalf("nack %d: %v", i, err)
		}
	}

	claims, err := q.Claim(ctx, 1, "c1", time.Second)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if len(claims) != 0 {
		t.Fatal("dead-lettered ref still claimable")
	}
	dead, err := q.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].SubmissionID != "poison" {
		t.Fatalf("dead letters = %+v", dead)
	}
}
