package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

const (
	TypeEnqueueEvent       = "dispatch.command.event.enqueue"
	TypeApplyRoutingConfig = "dispatch.command.routing_config.apply"
	TypeProcessNext        = "dispatch.command.event.process_next"
)

type EnqueueEventMessage struct {
	Source  string
	EventID string
	Payload map[string]any
}

func (EnqueueEventMessage) Type() string { return TypeEnqueueEvent }

func (m EnqueueEventMessage) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("command: source is required")
	}
	if m.Payload == nil {
		return fmt.Errorf("command: payload is required")
	}
	return nil
}

type ApplyRoutingConfigMessage struct {
	Config core.RoutingConfig
}

func (ApplyRoutingConfigMessage) Type() string { return TypeApplyRoutingConfig }

func (m ApplyRoutingConfigMessage) Validate() error {
	if len(m.Config.Mappings) == 0 && len(m.Config.Rules) == 0 {
		return fmt.Errorf("command: routing config has no mappings or rules")
	}
	return m.Config.Validate()
}

type ProcessNextMessage struct{}

func (ProcessNextMessage) Type() string { return TypeProcessNext }

func (ProcessNextMessage) Validate() error { return nil }
