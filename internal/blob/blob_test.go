package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	body := []byte("# Project Plan\n\nScope and milestones.")
	if err := s.Put(ctx, "sub-1/document", "text/markdown", body); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "sub-1/document")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: %q", got)
	}

	// stored copy must not alias the caller's slice
	got[0] = 'X'
	again, _ := s.Get(ctx, "sub-1/document")
	if again[0] != '#' {
		t.Fatal("stored blob aliased returned slice")
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSizeCeiling(t *testing.T) {
	s := NewMemoryStore()
	big := make([]byte, MaxDocumentBytes+1)
	if err := s.Put(context.Background(), "big", "", big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestMemoryStoreNoPresign(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.PresignedGetURL(context.Background(), "ref", time.Minute); !errors.Is(err, ErrNoPresign) {
		t.Fatalf("err = %v, want ErrNoPresign", err)
	}
}
