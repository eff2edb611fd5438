package agents

import (
	"fmt"
	"strings"
)

type prompt struct {
	System string
	User   string
}

func buildPrompt(req Request) prompt {
	var sys strings.Builder
	switch req.Kind {
	case KindStructure:
		sys.WriteString("You evaluate the structural quality of a submitted document: section ordering, completeness, formatting. ")
	case KindGrammar:
		sys.WriteString("You check a submitted document for grammar, spelling, and style issues. ")
	case KindContent:
		sys.WriteString("You analyze the substantive content of a submitted document against the supplied review criteria. ")
	case KindClarification:
		sys.WriteString("You read a submitted document and raise clarification questions a reviewer would need answered. ")
	case KindScoring:
		sys.WriteString("You produce per-criterion scores for a submitted document, combining the upstream findings you are given. ")
	default:
		sys.WriteString("You evaluate a submitted document. ")
	}
	sys.WriteString(`Respond with a single JSON object of the form {"findings":[{"criterion_id":"","score":0,"comment":"","strengths":[],"weaknesses":[],"recommendations":[]}],"questions":[{"text":"","priority":"low|medium|high"}],"narrative":""}. Scores are on each criterion's max_score scale. Emit no text outside the JSON object.`)

	var user strings.Builder
	if len(req.Criteria) > 0 {
		user.WriteString("Criteria:\n")
		for _, c := range req.Criteria {
			fmt.Fprintf(&user, "- id=%s name=%q category=%s weight=%.0f max_score=%.0f %s\n", c.ID, c.Name, c.Category, c.Weight, c.MaxScore, c.Description)
		}
		user.WriteString("\n")
	}
	if len(req.Upstream) > 0 {
		user.WriteString("Upstream findings:\n")
		for _, f := range req.Upstream {
			fmt.Fprintf(&user, "- criterion=%s score=%.1f comment=%q\n", f.CriterionID, f.Score, f.Comment)
		}
		user.WriteString("\n")
	}
	if len(req.Degraded) > 0 {
		fmt.Fprintf(&user, "Note: the following upstream analyses failed and their findings are unavailable: %s.\n\n", strings.Join(req.Degraded, ", "))
	}
	user.WriteString("Document:\n")
	user.WriteString(req.DocumentText)
	for i, appendix := range req.AppendixTexts {
		fmt.Fprintf(&user, "\n\nAppendix %d:\n%s", i+1, appendix)
	}
	return prompt{System: sys.String(), User: user.String()}
}

// extractJSON tolerates models that wrap the object in a markdown fence or
// leading prose.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
