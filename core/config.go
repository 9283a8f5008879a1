package core

import (
	"fmt"
	"strings"
	"time"
)

type WorkerConfig struct {
	PollIntervalSeconds float64 `koanf:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	MaxAttempts         int     `koanf:"max_attempts" mapstructure:"max_attempts"`
	RunOnce             bool    `koanf:"run_once" mapstructure:"run_once"`
	// ReclaimAfterSeconds re-queues events stuck in processing after a crash.
	// Zero disables the sweep.
	ReclaimAfterSeconds int `koanf:"reclaim_after_seconds" mapstructure:"reclaim_after_seconds"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds * float64(time.Second))
}

func (c WorkerConfig) ReclaimAfter() time.Duration {
	return time.Duration(c.ReclaimAfterSeconds) * time.Second
}

type RouterConfig struct {
	UseClassifier       bool    `koanf:"use_classifier" mapstructure:"use_classifier"`
	ClassifierThreshold float64 `koanf:"classifier_threshold" mapstructure:"classifier_threshold"`
}

type IngressConfig struct {
	IngressSecret          string `koanf:"ingress_secret" mapstructure:"ingress_secret"`
	CronSecret             string `koanf:"cron_secret" mapstructure:"cron_secret"`
	AdminSecret            string `koanf:"admin_secret" mapstructure:"admin_secret"`
	WebhookSecret          string `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	FirefliesWebhookSecret string `koanf:"fireflies_webhook_secret" mapstructure:"fireflies_webhook_secret"`
	MaxBodyBytes           int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`

	// BurstMode enables in-memory suppression of rapid duplicate deliveries
	// before they reach the queue: "none", "coalesce", or "debounce".
	BurstMode          string  `koanf:"burst_mode" mapstructure:"burst_mode"`
	BurstWindowSeconds float64 `koanf:"burst_window_seconds" mapstructure:"burst_window_seconds"`
}

type RunnerConfig struct {
	CommandsPath        string  `koanf:"commands_path" mapstructure:"commands_path"`
	AgentDir            string  `koanf:"agent_dir" mapstructure:"agent_dir"`
	AgentCommand        string  `koanf:"agent_command" mapstructure:"agent_command"`
	AgentTimeoutSeconds float64 `koanf:"agent_timeout_seconds" mapstructure:"agent_timeout_seconds"`
	LLMSystemPrompt     string  `koanf:"llm_system_prompt" mapstructure:"llm_system_prompt"`
}

func (c RunnerConfig) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds * float64(time.Second))
}

type Config struct {
	ServiceName       string        `koanf:"service_name" mapstructure:"service_name"`
	RoutingConfigPath string        `koanf:"routing_config_path" mapstructure:"routing_config_path"`
	Worker            WorkerConfig  `koanf:"worker" mapstructure:"worker"`
	Router            RouterConfig  `koanf:"router" mapstructure:"router"`
	Ingress           IngressConfig `koanf:"ingress" mapstructure:"ingress"`
	Runner            RunnerConfig  `koanf:"runner" mapstructure:"runner"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "dispatch",
		Worker: WorkerConfig{
			PollIntervalSeconds: 1.0,
			MaxAttempts:         8,
		},
		Router: RouterConfig{
			UseClassifier:       false,
			ClassifierThreshold: 0.65,
		},
		Ingress: IngressConfig{
			MaxBodyBytes: 2 << 20,
		},
		Runner: RunnerConfig{
			CommandsPath:        "commands.json",
			AgentDir:            "agents",
			AgentTimeoutSeconds: 90,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("core: worker.poll_interval_seconds must be positive")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("core: worker.max_attempts must be at least 1")
	}
	if c.Worker.ReclaimAfterSeconds < 0 {
		return fmt.Errorf("core: worker.reclaim_after_seconds must not be negative")
	}
	if c.Router.ClassifierThreshold < 0 || c.Router.ClassifierThreshold > 1 {
		return fmt.Errorf("core: router.classifier_threshold must be within [0, 1]")
	}
	if c.Ingress.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: ingress.max_body_bytes must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Ingress.BurstMode)) {
	case "", "none", "coalesce", "debounce":
	default:
		return fmt.Errorf("core: ingress.burst_mode %q is not supported", c.Ingress.BurstMode)
	}
	if c.Ingress.BurstWindowSeconds < 0 {
		return fmt.Errorf("core: ingress.burst_window_seconds must not be negative")
	}
	if c.Runner.AgentTimeoutSeconds <= 0 {
		return fmt.Errorf("core: runner.agent_timeout_seconds must be positive")
	}
	return nil
}
