// Package usage aggregates token and call counts from agent invocation
// records and prices them against a per-model rate table.
package usage

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

// Summary is the rolled-up usage for one submission. Aggregation never
// fails: records with missing counters contribute zero.
type Summary struct {
	SubmissionID string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	AgentCalls   int
	AgentsUsed   []string
	CostUSD      float64
}

// Rate prices a model in USD per 1k tokens.
type Rate struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// RateTable maps model names to rates. Unknown models price at zero so a
// missing table entry never blocks reporting.
type RateTable struct {
	Models map[string]Rate `yaml:"models"`
}

func (t RateTable) Cost(model string, inputTokens, outputTokens int) float64 {
	r, ok := t.Models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*r.InputPer1K + float64(outputTokens)/1000*r.OutputPer1K
}

// LoadRateTable reads a yaml rate table from path.
func LoadRateTable(path string) (RateTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RateTable{}, fmt.Errorf("read rate table: %w", err)
	}
	var t RateTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return RateTable{}, fmt.Errorf("parse rate table: %w", err)
	}
	return t, nil
}

// RateTableFromEnv loads OVERLAY_COST_RATES_FILE, or returns an empty table
// (all costs zero) when unset.
func RateTableFromEnv() (RateTable, error) {
	path := strings.TrimSpace(os.Getenv("OVERLAY_COST_RATES_FILE"))
	if path == "" {
		return RateTable{}, nil
	}
	return LoadRateTable(path)
}

// Aggregate sums usage over all invocation records of a submission,
// successful and failed attempts alike. An empty record set yields an
// all-zero summary.
func Aggregate(submissionID string, records []state.InvocationRecord, rates RateTable) Summary {
	s := Summary{SubmissionID: submissionID, AgentsUsed: []string{}}
	kinds := map[string]bool{}
	for _, r := range records {
		s.InputTokens += nonNegative(r.InputTokens)
		s.OutputTokens += nonNegative(r.OutputTokens)
		s.AgentCalls += nonNegative(r.CallCount)
		s.CostUSD += rates.Cost(r.Model, nonNegative(r.InputTokens), nonNegative(r.OutputTokens))
		if r.AgentKind != "" {
			kinds[r.AgentKind] = true
		}
	}
	s.TotalTokens = s.InputTokens + s.OutputTokens
	for k := range kinds {
		s.AgentsUsed = append(s.AgentsUsed, k)
	}
	sort.Strings(s.AgentsUsed)
	return s
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
