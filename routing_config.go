package dispatch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/router"
)

// LoadRoutingConfig reads a routing configuration document from a JSON file.
func LoadRoutingConfig(path string) (core.RoutingConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return core.RoutingConfig{}, core.ConfigError("dispatch: routing config path is required", nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return core.RoutingConfig{}, core.ConfigError(
			fmt.Sprintf("dispatch: read routing config: %v", err),
			map[string]any{"path": path},
		)
	}
	var cfg core.RoutingConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return core.RoutingConfig{}, core.ConfigError(
			fmt.Sprintf("dispatch: parse routing config: %v", err),
			map[string]any{"path": path},
		)
	}
	return cfg, nil
}

// ApplyRoutingConfig validates and applies a routing document onto the rule
// store. Application is all-or-nothing: every mapping and rule is validated,
// including each rule's condition tree, before anything is written.
func (s *Service) ApplyRoutingConfig(ctx context.Context, cfg core.RoutingConfig) (core.ApplyReport, error) {
	if s == nil || s.rules == nil {
		return core.ApplyReport{}, core.MapError(fmt.Errorf("dispatch: rule store is required"))
	}

	if err := cfg.Validate(); err != nil {
		return core.ApplyReport{}, core.MapError(err)
	}
	for i, rule := range cfg.Rules {
		if err := router.ValidateConditions(rule.Conditions); err != nil {
			return core.ApplyReport{}, core.ConfigError(
				fmt.Sprintf("rules[%d] %q: %v", i, rule.Name, err),
				map[string]any{"provider": rule.Provider, "rule": rule.Name},
			)
		}
	}

	report := core.ApplyReport{}
	for _, mapping := range cfg.Mappings {
		mode, _ := core.NormalizeHandlerMode(mapping.HandlerMode)
		err := s.rules.UpsertMapping(ctx, core.ProviderMapping{
			Provider:      strings.ToLower(strings.TrimSpace(mapping.Provider)),
			Action:        strings.TrimSpace(mapping.Action),
			HandlerMode:   mode,
			HandlerTarget: strings.TrimSpace(mapping.HandlerTarget),
			Enabled:       mapping.IsEnabled(),
		})
		if err != nil {
			return report, core.MapError(err)
		}
		report.MappingsApplied++
	}
	for _, rule := range cfg.Rules {
		mode, _ := core.NormalizeHandlerMode(rule.HandlerMode)
		err := s.rules.UpsertRule(ctx, core.RoutingRule{
			Provider:      strings.ToLower(strings.TrimSpace(rule.Provider)),
			Name:          strings.TrimSpace(rule.Name),
			Priority:      rule.NormalizedPriority(),
			Conditions:    rule.Conditions,
			Action:        strings.TrimSpace(rule.Action),
			HandlerMode:   mode,
			HandlerTarget: strings.TrimSpace(rule.HandlerTarget),
			Enabled:       rule.IsEnabled(),
		})
		if err != nil {
			return report, core.MapError(err)
		}
		report.RulesApplied++
	}

	s.logger.Info("routing config applied",
		"version", cfg.Version,
		"mappings", report.MappingsApplied,
		"rules", report.RulesApplied,
	)
	return report, nil
}

// ApplyRoutingConfigFile loads and applies a routing document from disk.
func (s *Service) ApplyRoutingConfigFile(ctx context.Context, path string) (core.ApplyReport, error) {
	cfg, err := LoadRoutingConfig(path)
	if err != nil {
		return core.ApplyReport{}, err
	}
	return s.ApplyRoutingConfig(ctx, cfg)
}
