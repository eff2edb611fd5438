package planner

import (
	"github.com/futurisms/overlay-platform-sub000/internal/agents"
)

// Stage is one agent invocation slot in a submission's pipeline plan.
type Stage struct {
	Kind         agents.Kind
	Dependencies []agents.Kind
	TimeoutSec   int
	MaxAttempts  int
	// Required stages gate completion; a submission fails only when every
	// required stage fails. Non-required stages (clarification) run on the
	// side and never block the terminal transition.
	Required bool
}

type Plan struct {
	SubmissionID string
	Stages       []Stage
}

func (p Plan) Stage(kind agents.Kind) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Kind == kind {
			return s, true
		}
	}
	return Stage{}, false
}

type Options struct {
	AgentTimeoutSec int
	MaxAttempts     int
}

type Compiler struct {
	opts Options
}

func NewCompiler() *Compiler {
	return NewCompilerWithOptions(Options{})
}

func NewCompilerWithOptions(opts Options) *Compiler {
	if opts.AgentTimeoutSec <= 0 {
		opts.AgentTimeoutSec = 60
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Compiler{opts: opts}
}

// Compile produces the evaluation plan for one submission: structure,
// grammar, and content analysis run independently; scoring joins on all
// three; clarification hangs off content analysis without gating anything.
func (c *Compiler) Compile(submissionID string) Plan {
	return Plan{
		SubmissionID: submissionID,
		Stages: []Stage{
			{Kind: agents.KindStructure, TimeoutSec: c.opts.AgentTimeoutSec, MaxAttempts: c.opts.MaxAttempts, Required: true},
			{Kind: agents.KindGrammar, TimeoutSec: c.opts.AgentTimeoutSec, MaxAttempts: c.opts.MaxAttempts, Required: true},
			{Kind: agents.KindContent, TimeoutSec: c.opts.AgentTimeoutSec, MaxAttempts: c.opts.MaxAttempts, Required: true},
			{
				Kind:         agents.KindScoring,
				Dependencies: []agents.Kind{agents.KindStructure, agents.KindGrammar, agents.KindContent},
				TimeoutSec:   c.opts.AgentTimeoutSec,
				MaxAttempts:  c.opts.MaxAttempts,
				Required:     true,
			},
			{
				Kind:         agents.KindClarification,
				Dependencies: []agents.Kind{agents.KindContent},
				TimeoutSec:   c.opts.AgentTimeoutSec,
				MaxAttempts:  1,
			},
		},
	}
}
