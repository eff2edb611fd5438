package scoring

import (
	"testing"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
)

func criteria503020() []agents.Criterion {
	return []agents.Criterion{
		{ID: "a", Weight: 50, MaxScore: 100},
		{ID: "b", Weight: 30, MaxScore: 100},
		{ID: "c", Weight: 20, MaxScore: 100},
	}
}

func TestWeightedScore(t *testing.T) {
	findings := []agents.Finding{
		{CriterionID: "a", Score: 80},
		{CriterionID: "b", Score: 60},
		{CriterionID: "c", Score: 90},
	}
	got := Assemble(criteria503020(), findings, "overall narrative", nil)
	if got.Score == nil {
		t.Fatal("expected a score")
	}
	// 80*0.5 + 60*0.3 + 90*0.2 = 76
	if *got.Score != 76 {
		t.Fatalf("score = %d, want 76", *got.Score)
	}
	if got.Feedback.Partial {
		t.Fatal("no degraded agents, feedback should not be partial")
	}
	if got.Feedback.Narrative != "overall narrative" {
		t.Fatalf("narrative = %q", got.Feedback.Narrative)
	}
}

func TestOrderIndependent(t *testing.T) {
	forward := []agents.Finding{
		{CriterionID: "a", Score: 80, Strengths: []string{"clear thesis"}},
		{CriterionID: "b", Score: 60, Weaknesses: []string{"run-on sentences"}},
		{CriterionID: "c", Score: 90},
	}
	reversed := []agents.Finding{forward[2], forward[1], forward[0]}

	fwd := Assemble(criteria503020(), forward, "", nil)
	rev := Assemble(criteria503020(), reversed, "", nil)
	if *fwd.Score != *rev.Score {
		t.Fatalf("scores differ: %d vs %d", *fwd.Score, *rev.Score)
	}
	if len(fwd.Feedback.Strengths) != len(rev.Feedback.Strengths) {
		t.Fatal("strengths differ across orderings")
	}
	for i := range fwd.Feedback.Strengths {
		if fwd.Feedback.Strengths[i] != rev.Feedback.Strengths[i] {
			t.Fatalf("strength %d differs across orderings", i)
		}
	}
}

func TestMissingFindingRenormalizes(t *testing.T) {
	// criterion c unscored: 80*50 + 60*30 over weight 80 = 72.5 -> 73
	findings := []agents.Finding{
		{CriterionID: "a", Score: 80},
		{CriterionID: "b", Score: 60},
	}
	got := Assemble(criteria503020(), findings, "", nil)
	if got.Score == nil || *got.Score != 73 {
		t.Fatalf("score = %v, want 73", got.Score)
	}
}

func TestNoUsableCriteria(t *testing.T) {
	got := Assemble(criteria503020(), nil, "", []string{"content"})
	if got.Score != nil {
		t.Fatalf("score = %d, want nil", *got.Score)
	}
	if !got.Feedback.Partial {
		t.Fatal("degraded agents present, feedback should be partial")
	}
	if len(got.Feedback.DegradedAgents) != 1 || got.Feedback.DegradedAgents[0] != "content" {
		t.Fatalf("degraded = %v", got.Feedback.DegradedAgents)
	}
}

func TestUnknownCriterionIgnoredAndClamped(t *testing.T) {
	findings := []agents.Finding{
		{CriterionID: "a", Score: 250},
		{CriterionID: "ghost", Score: 10},
	}
	got := Assemble(criteria503020(), findings, "", nil)
	if got.Score == nil || *got.Score != 100 {
		t.Fatalf("score = %v, want 100 (clamped, ghost ignored)", got.Score)
	}
}

func TestMaxScoreNormalization(t *testing.T) {
	criteria := []agents.Criterion{{ID: "a", Weight: 1, MaxScore: 10}}
	findings := []agents.Finding{{CriterionID: "a", Score: 7}}
	got := Assemble(criteria, findings, "", nil)
	if got.Score == nil || *got.Score != 70 {
		t.Fatalf("score = %v, want 70", got.Score)
	}
}
