package agents

import (
	"context"
	"fmt"
	"sync"
)

// MockStep is one scripted response for a kind. Steps are consumed in order;
// the last step repeats once the script runs out.
type MockStep struct {
	Result Result
	Usage  Usage
	Err    error
}

// MockEvaluator replays scripted responses per agent kind. It backs the
// coordinator and API tests and the local development mode.
type MockEvaluator struct {
	mu      sync.Mutex
	scripts map[Kind][]MockStep
	cursor  map[Kind]int
	calls   map[Kind]int
}

func NewMockEvaluator() *MockEvaluator {
	return &MockEvaluator{
		scripts: make(map[Kind][]MockStep),
		cursor:  make(map[Kind]int),
		calls:   make(map[Kind]int),
	}
}

func (m *MockEvaluator) Script(kind Kind, steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[kind] = append(m.scripts[kind], steps...)
}

func (m *MockEvaluator) Calls(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind]
}

func (m *MockEvaluator) Invoke(_ context.Context, req Request) (Result, Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[req.Kind]++
	steps := m.scripts[req.Kind]
	if len(steps) == 0 {
		return defaultMockResult(req), Usage{Model: "mock", InputTokens: 100, OutputTokens: 50, Calls: 1}, nil
	}
	i := m.cursor[req.Kind]
	if i >= len(steps) {
		i = len(steps) - 1
	} else {
		m.cursor[req.Kind] = i + 1
	}
	step := steps[i]
	usage := step.Usage
	if usage.Calls == 0 {
		usage.Calls = 1
	}
	if usage.Model == "" {
		usage.Model = "mock"
	}
	return step.Result, usage, step.Err
}

// defaultMockResult scores every criterion at 80% of its max so an
// unscripted mock still drives the full pipeline.
func defaultMockResult(req Request) Result {
	findings := make([]Finding, 0, len(req.Criteria))
	for _, c := range req.Criteria {
		findings = append(findings, Finding{
			CriterionID: c.ID,
			Score:       c.MaxScore * 0.8,
			Comment:     fmt.Sprintf("%s assessment of %s", req.Kind, c.Name),
			Strengths:   []string{fmt.Sprintf("solid %s", c.Name)},
			Weaknesses:  []string{fmt.Sprintf("could tighten %s", c.Name)},
		})
	}
	result := Result{Findings: findings, Narrative: fmt.Sprintf("%s review complete", req.Kind)}
	if req.Kind == KindClarification {
		result.Questions = []Question{{Text: "Which audience is this document written for?", Priority: "medium"}}
	}
	return result
}
