// Package scoring folds per-criterion findings into an overall score and a
// structured feedback record.
package scoring

import (
	"math"
	"sort"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
)

// Assembled is the result of combining findings against an overlay's
// criteria. Score is nil when no usable criterion was scored.
type Assembled struct {
	Score    *int
	Feedback state.FeedbackRecord
}

// Assemble computes the weighted overall score from findings and builds the
// feedback record. Findings are matched to criteria by criterion id; findings
// for unknown criteria are ignored, and criteria without a finding drop out
// of the weighted sum so the remaining weights renormalize. The result does
// not depend on finding order.
func Assemble(criteria []agents.Criterion, findings []agents.Finding, narrative string, degraded []string) Assembled {
	byCriterion := make(map[string]agents.Finding, len(findings))
	for _, f := range findings {
		byCriterion[f.CriterionID] = f
	}

	var weighted float64
	var totalWeight float64
	fb := state.FeedbackRecord{
		Narrative:      narrative,
		DegradedAgents: append([]string(nil), degraded...),
		Partial:        len(degraded) > 0,
	}

	for _, c := range criteria {
		f, ok := byCriterion[c.ID]
		if !ok {
			continue
		}
		maxScore := c.MaxScore
		if maxScore <= 0 {
			maxScore = 100
		}
		normalized := clamp(f.Score/maxScore*100, 0, 100)
		if c.Weight > 0 {
			weighted += normalized * c.Weight
			totalWeight += c.Weight
		}
		fb.Strengths = appendItems(fb.Strengths, c.ID, f.Strengths)
		fb.Weaknesses = appendItems(fb.Weaknesses, c.ID, f.Weaknesses)
		fb.Recommendations = appendItems(fb.Recommendations, c.ID, f.Recommendations)
	}

	sortItems(fb.Strengths)
	sortItems(fb.Weaknesses)
	sortItems(fb.Recommendations)

	out := Assembled{Feedback: fb}
	if totalWeight > 0 {
		score := int(math.Round(clamp(weighted/totalWeight, 0, 100)))
		out.Score = &score
		out.Feedback.OverallScore = &score
	}
	return out
}

func appendItems(dst []state.FeedbackItem, criterionID string, texts []string) []state.FeedbackItem {
	for _, t := range texts {
		if t == "" {
			continue
		}
		dst = append(dst, state.FeedbackItem{Text: t, CriterionID: criterionID})
	}
	return dst
}

func sortItems(items []state.FeedbackItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CriterionID != items[j].CriterionID {
			return items[i].CriterionID < items[j].CriterionID
		}
		return items[i].Text < items[j].Text
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
