package usage

import (
	"math"
	"testing"

	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate("sub-1", nil, RateTable{})
	if s.TotalTokens != 0 || s.AgentCalls != 0 || s.CostUSD != 0 {
		t.Fatalf("empty aggregate not zero: %+v", s)
	}
	if s.AgentsUsed == nil || len(s.AgentsUsed) != 0 {
		t.Fatalf("agents used = %#v, want empty non-nil slice", s.AgentsUsed)
	}
}

func TestAggregateSumsAcrossAttempts(t *testing.T) {
	records := []state.InvocationRecord{
		{AgentKind: "structure", Model: "gpt-4o-mini", InputTokens: 1000, OutputTokens: 200, CallCount: 1, Status: state.InvocationOK},
		{AgentKind: "grammar", Model: "gpt-4o-mini", InputTokens: 500, OutputTokens: 100, CallCount: 1, Status: state.InvocationError},
		{AgentKind: "grammar", Model: "gpt-4o-mini", InputTokens: 500, OutputTokens: 150, CallCount: 1, Status: state.InvocationOK},
		{AgentKind: "scoring", Model: "gpt-4o", InputTokens: 2000, OutputTokens: 400, CallCount: 1, Status: state.InvocationOK},
	}
	rates := RateTable{Models: map[string]Rate{
		"gpt-4o-mini": {InputPer1K: 0.15, OutputPer1K: 0.60},
		"gpt-4o":      {InputPer1K: 2.50, OutputPer1K: 10.00},
	}}
	s := Aggregate("sub-1", records, rates)
	if s.InputTokens != 4000 || s.OutputTokens != 850 || s.TotalTokens != 4850 {
		t.Fatalf("tokens = in %d out %d total %d", s.InputTokens, s.OutputTokens, s.TotalTokens)
	}
	if s.AgentCalls != 4 {
		t.Fatalf("calls = %d, want 4 (failed attempts count)", s.AgentCalls)
	}
	if len(s.AgentsUsed) != 3 || s.AgentsUsed[0] != "grammar" || s.AgentsUsed[1] != "scoring" || s.AgentsUsed[2] != "structure" {
		t.Fatalf("agents used = %v", s.AgentsUsed)
	}
	// mini: 2.0*0.15 + 0.45*0.60 = 0.57; 4o: 2*2.50 + 0.4*10 = 9.00
	want := 0.57 + 9.00
	if math.Abs(s.CostUSD-want) > 1e-9 {
		t.Fatalf("cost = %f, want %f", s.CostUSD, want)
	}
}

func TestUnknownModelCostsZero(t *testing.T) {
	records := []state.InvocationRecord{
		{AgentKind: "content", Model: "experimental-model", InputTokens: 9999, OutputTokens: 9999, CallCount: 1},
	}
	s := Aggregate("sub-1", records, RateTable{Models: map[string]Rate{"gpt-4o": {InputPer1K: 2.5}}})
	if s.CostUSD != 0 {
		t.Fatalf("cost = %f, want 0 for unknown model", s.CostUSD)
	}
	if s.TotalTokens != 19998 {
		t.Fatalf("tokens still counted, got %d", s.TotalTokens)
	}
}

func TestNegativeCountersClampToZero(t *testing.T) {
	records := []state.InvocationRecord{
		{AgentKind: "structure", InputTokens: -5, OutputTokens: -1, CallCount: -2},
	}
	s := Aggregate("sub-1", records, RateTable{})
	if s.TotalTokens != 0 || s.AgentCalls != 0 {
		t.Fatalf("negative counters leaked: %+v", s)
	}
}
