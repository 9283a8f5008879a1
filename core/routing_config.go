package core

import (
	"fmt"
	"strings"
)

// RoutingConfig is the declarative routing document applied onto the rule
// store: provider fallback mappings plus prioritized rules. Application is
// all-or-nothing; a single invalid entry rejects the whole document.
type RoutingConfig struct {
	Version  int             `json:"version" koanf:"version" mapstructure:"version"`
	Mappings []MappingConfig `json:"mappings" koanf:"mappings" mapstructure:"mappings"`
	Rules    []RuleConfig    `json:"rules" koanf:"rules" mapstructure:"rules"`
}

type MappingConfig struct {
	Provider      string `json:"provider" koanf:"provider" mapstructure:"provider"`
	Action        string `json:"action" koanf:"action" mapstructure:"action"`
	HandlerMode   string `json:"handler_mode" koanf:"handler_mode" mapstructure:"handler_mode"`
	HandlerTarget string `json:"handler_target" koanf:"handler_target" mapstructure:"handler_target"`
	Enabled       *bool  `json:"enabled" koanf:"enabled" mapstructure:"enabled"`
}

type RuleConfig struct {
	Provider      string         `json:"provider" koanf:"provider" mapstructure:"provider"`
	Name          string         `json:"name" koanf:"name" mapstructure:"name"`
	Priority      *int           `json:"priority" koanf:"priority" mapstructure:"priority"`
	Conditions    map[string]any `json:"conditions" koanf:"conditions" mapstructure:"conditions"`
	Action        string         `json:"action" koanf:"action" mapstructure:"action"`
	HandlerMode   string         `json:"handler_mode" koanf:"handler_mode" mapstructure:"handler_mode"`
	HandlerTarget string         `json:"handler_target" koanf:"handler_target" mapstructure:"handler_target"`
	Enabled       *bool          `json:"enabled" koanf:"enabled" mapstructure:"enabled"`
}

// ApplyReport summarizes one configuration application.
type ApplyReport struct {
	MappingsApplied int
	RulesApplied    int
}

// ProcessReceipt reports one worker pass triggered on demand.
type ProcessReceipt struct {
	Claimed bool
}

const defaultRulePriority = 100

// NormalizedPriority returns the rule's priority with the documented default.
func (r RuleConfig) NormalizedPriority() int {
	if r.Priority == nil {
		return defaultRulePriority
	}
	return *r.Priority
}

// IsEnabled treats an absent flag as enabled for both mappings and rules.
func (m MappingConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate checks structural requirements. Condition-tree validation happens
// at application time where the rule engine is available.
func (c RoutingConfig) Validate() error {
	for i, mapping := range c.Mappings {
		if strings.TrimSpace(mapping.Provider) == "" {
			return ConfigError(fmt.Sprintf("mappings[%d]: provider is required", i), nil)
		}
		if strings.TrimSpace(mapping.Action) == "" {
			return ConfigError(fmt.Sprintf("mappings[%d]: action is required", i), nil)
		}
		if _, ok := NormalizeHandlerMode(mapping.HandlerMode); !ok {
			return ConfigError(fmt.Sprintf("mappings[%d]: unsupported handler mode %q", i, mapping.HandlerMode), nil)
		}
	}
	for i, rule := range c.Rules {
		if strings.TrimSpace(rule.Provider) == "" {
			return ConfigError(fmt.Sprintf("rules[%d]: provider is required", i), nil)
		}
		if strings.TrimSpace(rule.Name) == "" {
			return ConfigError(fmt.Sprintf("rules[%d]: name is required", i), nil)
		}
		if strings.TrimSpace(rule.Action) == "" {
			return ConfigError(fmt.Sprintf("rules[%d]: action is required", i), nil)
		}
		if len(rule.Conditions) == 0 {
			return ConfigError(fmt.Sprintf("rules[%d]: conditions are required", i), nil)
		}
		if _, ok := NormalizeHandlerMode(rule.HandlerMode); !ok {
			return ConfigError(fmt.Sprintf("rules[%d]: unsupported handler mode %q", i, rule.HandlerMode), nil)
		}
	}
	return nil
}
