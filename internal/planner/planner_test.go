package planner

import (
	"testing"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
)

func TestCompileScoringJoinsOnAllIndependentStages(t *testing.T) {
	plan := NewCompiler().Compile("sub-1")
	scoring, ok := plan.Stage(agents.KindScoring)
	if !ok {
		t.Fatalf("expected scoring stage")
	}
	if len(scoring.Dependencies) != 3 {
		t.Fatalf("expected scoring to depend on 3 stages, got %v", scoring.Dependencies)
	}
	for _, kind := range []agents.Kind{agents.KindStructure, agents.KindGrammar, agents.KindContent} {
		s, ok := plan.Stage(kind)
		if !ok {
			t.Fatalf("missing stage %s", kind)
		}
		if len(s.Dependencies) != 0 {
			t.Fatalf("stage %s should be independent, deps=%v", kind, s.Dependencies)
		}
		if !s.Required {
			t.Fatalf("stage %s should be required", kind)
		}
	}
}

func TestClarificationStageNeverGatesCompletion(t *testing.T) {
	plan := NewCompiler().Compile("sub-1")
	clar, ok := plan.Stage(agents.KindClarification)
	if !ok {
		t.Fatalf("expected clarification stage")
	}
	if clar.Required {
		t.Fatalf("clarification must not be required")
	}
	if len(clar.Dependencies) != 1 || clar.Dependencies[0] != agents.KindContent {
		t.Fatalf("clarification should follow content analysis, deps=%v", clar.Dependencies)
	}
}

func TestCompilerOptionsApplyToStages(t *testing.T) {
	plan := NewCompilerWithOptions(Options{AgentTimeoutSec: 5, MaxAttempts: 2}).Compile("sub-1")
	s, _ := plan.Stage(agents.KindGrammar)
	if s.TimeoutSec != 5 || s.MaxAttempts != 2 {
		t.Fatalf("options not applied: %#v", s)
	}
}
