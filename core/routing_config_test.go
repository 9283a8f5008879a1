package core

import (
	"strings"
	"testing"
)

func validRuleConfig() RuleConfig {
	return RuleConfig{
		Provider:    "github",
		Name:        "deploy-main",
		Conditions:  map[string]any{"op": "json_path_equals", "path": "ref", "value": "refs/heads/main"},
		Action:      "deploy",
		HandlerMode: "command",
	}
}

func TestRoutingConfigValidate(t *testing.T) {
	valid := RoutingConfig{
		Version:  1,
		Mappings: []MappingConfig{{Provider: "github", Action: "sync", HandlerMode: "noop"}},
		Rules:    []RuleConfig{validRuleConfig()},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RoutingConfig)
		want   string
	}{
		{"mapping without provider", func(c *RoutingConfig) { c.Mappings[0].Provider = "" }, "provider is required"},
		{"mapping without action", func(c *RoutingConfig) { c.Mappings[0].Action = " " }, "action is required"},
		{"mapping with bad mode", func(c *RoutingConfig) { c.Mappings[0].HandlerMode = "webhook" }, "handler mode"},
		{"rule without name", func(c *RoutingConfig) { c.Rules[0].Name = "" }, "name is required"},
		{"rule without conditions", func(c *RoutingConfig) { c.Rules[0].Conditions = nil }, "conditions are required"},
		{"rule with bad mode", func(c *RoutingConfig) { c.Rules[0].HandlerMode = "shell" }, "handler mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := RoutingConfig{
				Version:  1,
				Mappings: []MappingConfig{{Provider: "github", Action: "sync", HandlerMode: "noop"}},
				Rules:    []RuleConfig{validRuleConfig()},
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestRuleConfigDefaults(t *testing.T) {
	rule := validRuleConfig()
	if rule.NormalizedPriority() != 100 {
		t.Fatalf("expected default priority 100, got %d", rule.NormalizedPriority())
	}
	explicit := 5
	rule.Priority = &explicit
	if rule.NormalizedPriority() != 5 {
		t.Fatalf("expected explicit priority, got %d", rule.NormalizedPriority())
	}

	if !rule.IsEnabled() {
		t.Fatalf("absent enabled flag must default to enabled")
	}
	disabled := false
	rule.Enabled = &disabled
	if rule.IsEnabled() {
		t.Fatalf("expected explicit disable to stick")
	}

	mapping := MappingConfig{}
	if !mapping.IsEnabled() {
		t.Fatalf("absent mapping enabled flag must default to enabled")
	}
}
