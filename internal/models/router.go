package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TierFast     = "fast"
	TierThorough = "thorough"
)

type RouteInput struct {
	AgentKind      string
	RequestedModel string
}

type Decision struct {
	Model string
	Tier  string
	Rule  string
}

type Rule struct {
	Name          string `yaml:"name"`
	WhenAgentKind string `yaml:"agent_kind"`
	UseModel      string `yaml:"use_model"`
	UseTier       string `yaml:"use_tier"`
}

type Config struct {
	FastModel     string `yaml:"fast_model"`
	ThoroughModel string `yaml:"thorough_model"`
	Rules         []Rule `yaml:"rules"`
}

// Router maps an agent kind to the model tier that serves it: fast models
// for the mechanical checks (structure, grammar), thorough models for
// content analysis, clarification, and scoring.
type Router struct {
	cfg Config
}

func NewDefaultRouter() *Router {
	return &Router{
		cfg: Config{
			FastModel:     "gpt-4o-mini",
			ThoroughModel: "gpt-4o",
		},
	}
}

func LoadFromEnv() (*Router, error) {
	path := strings.TrimSpace(os.Getenv("OVERLAY_MODEL_ROUTING_FILE"))
	if path == "" {
		return NewDefaultRouter(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model routing file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse model routing file: %w", err)
	}
	if strings.TrimSpace(cfg.FastModel) == "" {
		cfg.FastModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.ThoroughModel) == "" {
		cfg.ThoroughModel = "gpt-4o"
	}
	return &Router{cfg: cfg}, nil
}

func (r *Router) Route(in RouteInput) Decision {
	decision := Decision{
		Tier: defaultTier(in.AgentKind),
		Rule: "default",
	}
	decision.Model = r.modelForTier(decision.Tier)
	if in.RequestedModel != "" {
		decision.Model = in.RequestedModel
	}
	for _, rule := range r.cfg.Rules {
		if rule.WhenAgentKind != "" && rule.WhenAgentKind != in.AgentKind {
			continue
		}
		if tier := strings.TrimSpace(rule.UseTier); tier != "" {
			decision.Tier = tier
			decision.Model = r.modelForTier(tier)
		}
		if model := strings.TrimSpace(rule.UseModel); model != "" {
			decision.Model = model
		}
		if name := strings.TrimSpace(rule.Name); name != "" {
			decision.Rule = name
		} else {
			decision.Rule = "rule"
		}
		return decision
	}
	return decision
}

func (r *Router) modelForTier(tier string) string {
	if tier == TierFast {
		return r.cfg.FastModel
	}
	return r.cfg.ThoroughModel
}

func defaultTier(agentKind string) string {
	switch agentKind {
	case "structure", "grammar":
		return TierFast
	default:
		return TierThorough
	}
}
