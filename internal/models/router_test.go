package models

import "testing"

func TestRouteDefaultsByAgentKind(t *testing.T) {
	r := NewDefaultRouter()
	if d := r.Route(RouteInput{AgentKind: "grammar"}); d.Tier != TierFast || d.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected grammar route: %#v", d)
	}
	if d := r.Route(RouteInput{AgentKind: "scoring"}); d.Tier != TierThorough || d.Model != "gpt-4o" {
		t.Fatalf("unexpected scoring route: %#v", d)
	}
}

func TestRouteSelectsAgentKindRule(t *testing.T) {
	r := &Router{cfg: Config{
		FastModel:     "fast-model",
		ThoroughModel: "thorough-model",
		Rules: []Rule{
			{
				Name:          "content-premium",
				WhenAgentKind: "content",
				UseModel:      "premium-model",
			},
		},
	}}
	d := r.Route(RouteInput{AgentKind: "content"})
	if d.Model != "premium-model" || d.Rule != "content-premium" {
		t.Fatalf("unexpected route decision: %#v", d)
	}
	d = r.Route(RouteInput{AgentKind: "grammar"})
	if d.Model != "fast-model" || d.Rule != "default" {
		t.Fatalf("unexpected fallback decision: %#v", d)
	}
}

func TestRequestedModelOverridesDefault(t *testing.T) {
	r := NewDefaultRouter()
	d := r.Route(RouteInput{AgentKind: "content", RequestedModel: "custom"})
	if d.Model != "custom" {
		t.Fatalf("expected requested model to win, got %q", d.Model)
	}
}
