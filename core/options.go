package core

import (
	"context"
	"fmt"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads configuration on top of supplied defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader yields raw configuration maps from an external source
// (file, environment, flags).
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges defaults, loaded, and runtime configuration layers.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct{}

func (staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || cfg.ServiceName != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.RoutingConfigPath != "" {
		layer["routing_config_path"] = cfg.RoutingConfigPath
	}

	worker := map[string]any{}
	if includeZero || cfg.Worker.PollIntervalSeconds != 0 {
		worker["poll_interval_seconds"] = cfg.Worker.PollIntervalSeconds
	}
	if includeZero || cfg.Worker.MaxAttempts != 0 {
		worker["max_attempts"] = cfg.Worker.MaxAttempts
	}
	if includeZero || cfg.Worker.RunOnce {
		worker["run_once"] = cfg.Worker.RunOnce
	}
	if includeZero || cfg.Worker.ReclaimAfterSeconds != 0 {
		worker["reclaim_after_seconds"] = cfg.Worker.ReclaimAfterSeconds
	}
	if len(worker) > 0 {
		layer["worker"] = worker
	}

	router := map[string]any{}
	if includeZero || cfg.Router.UseClassifier {
		router["use_classifier"] = cfg.Router.UseClassifier
	}
	if includeZero || cfg.Router.ClassifierThreshold != 0 {
		router["classifier_threshold"] = cfg.Router.ClassifierThreshold
	}
	if len(router) > 0 {
		layer["router"] = router
	}

	ingress := map[string]any{}
	if includeZero || cfg.Ingress.IngressSecret != "" {
		ingress["ingress_secret"] = cfg.Ingress.IngressSecret
	}
	if includeZero || cfg.Ingress.CronSecret != "" {
		ingress["cron_secret"] = cfg.Ingress.CronSecret
	}
	if includeZero || cfg.Ingress.AdminSecret != "" {
		ingress["admin_secret"] = cfg.Ingress.AdminSecret
	}
	if includeZero || cfg.Ingress.WebhookSecret != "" {
		ingress["webhook_secret"] = cfg.Ingress.WebhookSecret
	}
	if includeZero || cfg.Ingress.FirefliesWebhookSecret != "" {
		ingress["fireflies_webhook_secret"] = cfg.Ingress.FirefliesWebhookSecret
	}
	if includeZero || cfg.Ingress.MaxBodyBytes != 0 {
		ingress["max_body_bytes"] = cfg.Ingress.MaxBodyBytes
	}
	if includeZero || cfg.Ingress.BurstMode != "" {
		ingress["burst_mode"] = cfg.Ingress.BurstMode
	}
	if includeZero || cfg.Ingress.BurstWindowSeconds != 0 {
		ingress["burst_window_seconds"] = cfg.Ingress.BurstWindowSeconds
	}
	if len(ingress) > 0 {
		layer["ingress"] = ingress
	}

	runner := map[string]any{}
	if includeZero || cfg.Runner.CommandsPath != "" {
		runner["commands_path"] = cfg.Runner.CommandsPath
	}
	if includeZero || cfg.Runner.AgentDir != "" {
		runner["agent_dir"] = cfg.Runner.AgentDir
	}
	if includeZero || cfg.Runner.AgentCommand != "" {
		runner["agent_command"] = cfg.Runner.AgentCommand
	}
	if includeZero || cfg.Runner.AgentTimeoutSeconds != 0 {
		runner["agent_timeout_seconds"] = cfg.Runner.AgentTimeoutSeconds
	}
	if includeZero || cfg.Runner.LLMSystemPrompt != "" {
		runner["llm_system_prompt"] = cfg.Runner.LLMSystemPrompt
	}
	if len(runner) > 0 {
		layer["runner"] = runner
	}

	return layer
}
