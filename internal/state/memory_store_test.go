package state

import (
	"context"
	"testing"
	"time"
)

func seedSubmission(t *testing.T, s Store, id string) {
	t.Helper()
	err := s.CreateSubmission(context.Background(), SubmissionRecord{
		ID:           id,
		SessionID:    "sess-1",
		DocumentName: "doc.md",
		DocumentRef:  id + "/document",
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSubmission(t, s, "sub-1")

	if err := s.UpdateSubmissionStatus(ctx, "sub-1", StatusInProgress, ""); err != nil {
		t.Fatalf("pending->in_progress: %v", err)
	}
	if err := s.UpdateSubmissionStatus(ctx, "sub-1", StatusPending, ""); err == nil {
		t.Fatal("in_progress->pending allowed")
	}
	if err := s.UpdateSubmissionStatus(ctx, "sub-1", StatusFailed, "agents failed"); err != nil {
		t.Fatalf("in_progress->failed: %v", err)
	}
	// terminal states never move
	if err := s.UpdateSubmissionStatus(ctx, "sub-1", StatusInProgress, ""); err == nil {
		t.Fatal("failed->in_progress allowed")
	}
	if err := s.UpdateSubmissionStatus(ctx, "sub-1", StatusCompleted, ""); err == nil {
		t.Fatal("failed->completed allowed")
	}
	got, _, _ := s.GetSubmission(ctx, "sub-1")
	if got.Status != StatusFailed || got.Message != "agents failed" {
		t.Fatalf("record = %+v", got)
	}
}

func TestCompleteSubmissionIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSubmission(t, s, "sub-1")
	_ = s.UpdateSubmissionStatus(ctx, "sub-1", StatusInProgress, "")

	if _, ok, _ := s.GetFeedback(ctx, "sub-1"); ok {
		t.Fatal("feedback visible before completion")
	}

	score := 84
	fb := FeedbackRecord{
		SubmissionID: "sub-1",
		OverallScore: &score,
		Narrative:    "solid work",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CompleteSubmission(ctx, "sub-1", &score, fb); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _, _ := s.GetSubmission(ctx, "sub-1")
	if got.Status != StatusCompleted || got.OverallScore == nil || *got.OverallScore != 84 {
		t.Fatalf("record = %+v", got)
	}
	stored, ok, _ := s.GetFeedback(ctx, "sub-1")
	if !ok || stored.Narrative != "solid work" {
		t.Fatalf("feedback = %+v ok=%v", stored, ok)
	}

	// completing twice is rejected, feedback stays intact
	if err := s.CompleteSubmission(ctx, "sub-1", &score, fb); err == nil {
		t.Fatal("double completion allowed")
	}
}

func TestInvocationsAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedSubmission(t, s, "sub-1")

	for attempt := 1; attempt <= 3; attempt++ {
		err := s.AppendInvocation(ctx, InvocationRecord{
			SubmissionID: "sub-1",
			AgentKind:    "grammar",
			Attempt:      attempt,
			Status:       InvocationError,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append attempt %d: %v", attempt, err)
		}
	}
	// duplicate (submission, kind, attempt) is rejected
	err := s.AppendInvocation(ctx, InvocationRecord{
		SubmissionID: "sub-1", AgentKind: "grammar", Attempt: 2, Status: InvocationOK,
	})
	if err == nil {
		t.Fatal("duplicate attempt accepted")
	}

	invs, err := s.ListInvocations(ctx, "sub-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(invs) != 3 {
		t.Fatalf("invocations = %d, want 3", len(invs))
	}
}

func TestListSubmissionsFilterAndPaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c", "d"} {
		session := "sess-1"
		if i%2 == 1 {
			session = "sess-2"
		}
		err := s.CreateSubmission(ctx, SubmissionRecord{
			ID: id, SessionID: session, DocumentName: id + ".md",
			DocumentRef: id, Status: StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	got, total, err := s.ListSubmissions(ctx, SubmissionQuery{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", total, len(got))
	}

	got, total, err = s.ListSubmissions(ctx, SubmissionQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 4 || len(got) != 2 {
		t.Fatalf("total=%d len=%d, want 4/2", total, len(got))
	}
	// newest first
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("page order = %s, %s", got[0].ID, got[1].ID)
	}
}
