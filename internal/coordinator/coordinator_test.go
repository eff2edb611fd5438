package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
	"github.com/futurisms/overlay-platform-sub000/internal/blob"
	"github.com/futurisms/overlay-platform-sub000/internal/overlay"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	store state.Store
	queue state.Queue
	blobs *blob.MemoryStore
	mock  *agents.MockEvaluator
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: state.NewMemoryStore(),
		queue: state.NewMemoryQueue(),
		blobs: blob.NewMemoryStore(),
		mock:  agents.NewMockEvaluator(),
	}
	f.coord = New(f.store, f.queue, f.blobs, overlay.StaticSource{}, f.mock, Options{
		Sleep: noSleep,
	})
	return f
}

func (f *fixture) seedSubmission(t *testing.T, id, body string) state.SubmissionRecord {
	t.Helper()
	ctx := context.Background()
	ref := id + "/document"
	if body != "" {
		if err := f.blobs.Put(ctx, ref, "text/markdown", []byte(body)); err != nil {
			t.Fatalf("put document: %v", err)
		}
	}
	sub := state.SubmissionRecord{
		ID:           id,
		SessionID:    "sess-1",
		DocumentName: "plan.md",
		DocumentRef:  ref,
		Status:       state.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := f.store.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func TestRunCompletesSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "# Plan\n\nA thorough plan.")

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	got, _, err := f.store.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.OverallScore == nil {
		t.Fatal("completed submission missing score")
	}
	fb, ok, err := f.store.GetFeedback(ctx, sub.ID)
	if err != nil || !ok {
		t.Fatalf("feedback missing: ok=%v err=%v", ok, err)
	}
	if fb.Partial {
		t.Fatal("all agents succeeded, feedback should not be partial")
	}
	// one invocation per stage, no retries
	invs, err := f.store.ListInvocations(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list invocations: %v", err)
	}
	if len(invs) != 5 {
		t.Fatalf("invocations = %d, want 5 (3 analysis + scoring + clarification)", len(invs))
	}
	// clarification questions landed
	qs, err := f.store.ListQuestionsBySubmission(ctx, sub.ID)
	if err != nil || len(qs) == 0 {
		t.Fatalf("expected clarification questions, got %d (err=%v)", len(qs), err)
	}
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	f.mock.Script(agents.KindGrammar,
		agents.MockStep{Err: agents.Transient(errors.New("throttled")), Usage: agents.Usage{Model: "mock", InputTokens: 40}},
		agents.MockStep{Err: agents.Transient(errors.New("throttled"))},
		agents.MockStep{Result: agents.Result{Findings: []agents.Finding{{CriterionID: "clarity", Score: 70}}}},
	)

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	if got := f.mock.Calls(agents.KindGrammar); got != 3 {
		t.Fatalf("grammar calls = %d, want 3", got)
	}
	invs, _ := f.store.ListInvocations(ctx, sub.ID)
	var grammarAttempts, grammarErrors int
	for _, inv := range invs {
		if inv.AgentKind == "grammar" {
			grammarAttempts++
			if inv.Status == state.InvocationError {
				grammarErrors++
			}
		}
	}
	if grammarAttempts != 3 || grammarErrors != 2 {
		t.Fatalf("grammar attempts=%d errors=%d, want 3/2", grammarAttempts, grammarErrors)
	}
	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestRunDegradedStageStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	// grammar exhausts its retry budget with transient errors
	f.mock.Script(agents.KindGrammar,
		agents.MockStep{Err: agents.Transient(errors.New("backend down"))},
	)

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	if got := f.mock.Calls(agents.KindGrammar); got != 3 {
		t.Fatalf("grammar calls = %d, want full retry budget of 3", got)
	}
	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed despite degraded grammar", got.Status)
	}
	fb, ok, _ := f.store.GetFeedback(ctx, sub.ID)
	if !ok || !fb.Partial {
		t.Fatalf("feedback should be partial, got ok=%v partial=%v", ok, fb.Partial)
	}
	if len(fb.DegradedAgents) != 1 || fb.DegradedAgents[0] != "grammar" {
		t.Fatalf("degraded = %v, want [grammar]", fb.DegradedAgents)
	}
}

func TestRunPermanentFailureSkipsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	f.mock.Script(agents.KindContent,
		agents.MockStep{Err: agents.Permanent(errors.New("document format unsupported"))},
	)

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	if got := f.mock.Calls(agents.KindContent); got != 1 {
		t.Fatalf("content calls = %d, want 1 (no retry on permanent)", got)
	}
	// clarification depends on content, so it never ran
	if got := f.mock.Calls(agents.KindClarification); got != 0 {
		t.Fatalf("clarification calls = %d, want 0", got)
	}
}

func TestRunAllAgentsFailedFailsSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	for _, kind := range []agents.Kind{agents.KindStructure, agents.KindGrammar, agents.KindContent} {
		f.mock.Script(kind, agents.MockStep{Err: agents.Permanent(errors.New("refused"))})
	}

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if _, ok, _ := f.store.GetFeedback(ctx, sub.ID); ok {
		t.Fatal("failed submission must not have feedback")
	}
	if got := f.mock.Calls(agents.KindScoring); got != 0 {
		t.Fatalf("scoring calls = %d, want 0 when every analysis agent failed", got)
	}
}

func TestRunEmptyDocumentFailsWithoutInvocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "   \n ")

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	invs, _ := f.store.ListInvocations(ctx, sub.ID)
	if len(invs) != 0 {
		t.Fatalf("invocations = %d, want 0 for validation failure", len(invs))
	}
}

func TestRunScoringFailureCompletesFromAnalysisFindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	f.mock.Script(agents.KindScoring,
		agents.MockStep{Err: agents.Permanent(errors.New("schema violation"))},
	)

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	fb, _, _ := f.store.GetFeedback(ctx, sub.ID)
	if !fb.Partial {
		t.Fatal("scoring degraded, feedback must be partial")
	}
	found := false
	for _, d := range fb.DegradedAgents {
		if d == "scoring" {
			found = true
		}
	}
	if !found {
		t.Fatalf("degraded = %v, want scoring listed", fb.DegradedAgents)
	}
	if got.OverallScore == nil {
		t.Fatal("fallback assembly from analysis findings should still score")
	}
}

func TestRunTerminalRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f.coord.Wait()
	before, _ := f.store.ListInvocations(ctx, sub.ID)

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("redelivered run: %v", err)
	}
	after, _ := f.store.ListInvocations(ctx, sub.ID)
	if len(after) != len(before) {
		t.Fatalf("redelivery added invocations: %d -> %d", len(before), len(after))
	}
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []string{"sub-a", "sub-b", "sub-c"}
	for _, id := range ids {
		f.seedSubmission(t, id, "document body for "+id)
		if err := f.queue.Enqueue(ctx, state.SubmissionRef{SubmissionID: id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	f.coord.Start(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for {
		done := 0
		for _, id := range ids {
			sub, _, _ := f.store.GetSubmission(ctx, id)
			if state.IsTerminal(sub.Status) {
				done++
			}
		}
		if done == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained: %d/%d terminal", done, len(ids))
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	f.coord.Wait()

	for _, id := range ids {
		sub, _, _ := f.store.GetSubmission(ctx, id)
		if sub.Status != state.StatusCompleted {
			t.Fatalf("%s status = %s, want completed", id, sub.Status)
		}
	}
}

func TestRunResumesAfterRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")
	if err := f.store.UpdateSubmissionStatus(ctx, sub.ID, state.StatusInProgress, ""); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}

	// A prior delivery already recorded a structure success and a failed
	// grammar attempt before losing its claim.
	structureResult, err := json.Marshal(agents.Result{
		Findings: []agents.Finding{{CriterionID: "structure", Score: 80}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	priors := []state.InvocationRecord{
		{SubmissionID: sub.ID, AgentKind: string(agents.KindStructure), Attempt: 1, Status: state.InvocationOK, Result: string(structureResult)},
		{SubmissionID: sub.ID, AgentKind: string(agents.KindGrammar), Attempt: 1, Status: state.InvocationError, Error: "throttled"},
	}
	for _, p := range priors {
		if err := f.store.AppendInvocation(ctx, p); err != nil {
			t.Fatalf("seed invocation: %v", err)
		}
	}

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	got, _, err := f.store.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	fb, ok, _ := f.store.GetFeedback(ctx, sub.ID)
	if !ok || fb.Partial {
		t.Fatalf("feedback ok=%v partial=%v, want complete non-partial", ok, fb.Partial)
	}
	// recorded structure result is reused, not re-invoked
	if got := f.mock.Calls(agents.KindStructure); got != 0 {
		t.Fatalf("structure calls = %d, want 0", got)
	}
	// grammar resumes at attempt 2 instead of colliding with the record
	invs, err := f.store.ListInvocations(ctx, sub.ID)
	if err != nil {
		t.Fatalf("list invocations: %v", err)
	}
	var grammarAttempts []int
	for _, inv := range invs {
		if inv.AgentKind == string(agents.KindGrammar) {
			grammarAttempts = append(grammarAttempts, inv.Attempt)
		}
	}
	if len(grammarAttempts) != 2 || grammarAttempts[1] != 2 {
		t.Fatalf("grammar attempts = %v, want [1 2]", grammarAttempts)
	}
}

func TestRunExhaustedBudgetOnRecordDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")
	if err := f.store.UpdateSubmissionStatus(ctx, sub.ID, state.StatusInProgress, ""); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}

	// Grammar already burned its whole retry budget on a prior delivery.
	for attempt := 1; attempt <= 3; attempt++ {
		rec := state.InvocationRecord{
			SubmissionID: sub.ID,
			AgentKind:    string(agents.KindGrammar),
			Attempt:      attempt,
			Status:       state.InvocationError,
			Error:        "throttled",
		}
		if err := f.store.AppendInvocation(ctx, rec); err != nil {
			t.Fatalf("seed invocation: %v", err)
		}
	}

	if err := f.coord.Run(ctx, sub.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.coord.Wait()

	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got := f.mock.Calls(agents.KindGrammar); got != 0 {
		t.Fatalf("grammar calls = %d, want 0 with budget spent", got)
	}
	fb, ok, _ := f.store.GetFeedback(ctx, sub.ID)
	if !ok || !fb.Partial {
		t.Fatalf("feedback ok=%v partial=%v, want partial", ok, fb.Partial)
	}
	if len(fb.DegradedAgents) != 1 || fb.DegradedAgents[0] != string(agents.KindGrammar) {
		t.Fatalf("degraded = %v, want [grammar]", fb.DegradedAgents)
	}
}

func TestRunCancellationLeavesSubmissionInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.seedSubmission(t, "sub-1", "body text")

	f.mock.Script(agents.KindGrammar,
		agents.MockStep{Err: agents.Transient(errors.New("throttled"))},
	)
	f.coord = New(f.store, f.queue, f.blobs, overlay.StaticSource{}, f.mock, Options{
		Sleep: func(context.Context, time.Duration) error { return context.Canceled },
	})

	if err := f.coord.Run(ctx, sub.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v, want context.Canceled", err)
	}
	f.coord.Wait()

	got, _, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != state.StatusInProgress {
		t.Fatalf("status = %s, want in_progress for redelivery", got.Status)
	}
	if _, ok, _ := f.store.GetFeedback(ctx, sub.ID); ok {
		t.Fatal("cancelled run must not write feedback")
	}
}
