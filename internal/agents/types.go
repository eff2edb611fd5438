package agents

import "context"

type Kind string

const (
	KindStructure     Kind = "structure"
	KindContent       Kind = "content"
	KindGrammar       Kind = "grammar"
	KindClarification Kind = "clarification"
	KindScoring       Kind = "scoring"
	KindOrchestrator  Kind = "orchestrator-meta"
)

// Criterion is one entry of the externally supplied overlay rubric. The
// pipeline consumes it read-only and never validates that weights sum to 100.
type Criterion struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Category    string  `json:"category,omitempty" yaml:"category,omitempty"`
	Weight      float64 `json:"weight" yaml:"weight"`
	MaxScore    float64 `json:"max_score" yaml:"max_score"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

type Request struct {
	Kind          Kind
	DocumentText  string
	AppendixTexts []string
	Criteria      []Criterion
	// Upstream carries prior stage results for dependent stages (scoring
	// reads the structure/grammar/content findings from here).
	Upstream []Finding
	// Degraded names upstream stages that failed permanently; the scoring
	// stage records them in its result instead of blocking on them.
	Degraded []string
}

// Finding is one agent's assessment of the document against one criterion.
type Finding struct {
	CriterionID     string   `json:"criterion_id"`
	Score           float64  `json:"score"`
	Comment         string   `json:"comment,omitempty"`
	Strengths       []string `json:"strengths,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

type Question struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
}

type Result struct {
	Findings  []Finding  `json:"findings"`
	Questions []Question `json:"questions,omitempty"`
	Narrative string     `json:"narrative,omitempty"`
}

// Usage is the token accounting for one invocation. It is reported on error
// paths too when the backend charged input tokens before failing.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Calls        int
}

// Evaluator is one stateless evaluation capability. Invocations are not
// deduplicated: calling twice with the same inputs yields two independently
// charged results, so callers retry deliberately, never casually.
type Evaluator interface {
	Invoke(ctx context.Context, req Request) (Result, Usage, error)
}
