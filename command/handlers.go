package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

// MutatingService is the facade surface the commands mutate through.
type MutatingService interface {
	Enqueue(ctx context.Context, source string, eventID string, payload map[string]any) (core.EnqueueReceipt, error)
	ApplyRoutingConfig(ctx context.Context, cfg core.RoutingConfig) (core.ApplyReport, error)
	ProcessNext(ctx context.Context) (core.ProcessReceipt, error)
}

type EnqueueEventCommand struct {
	service MutatingService
}

func NewEnqueueEventCommand(service MutatingService) *EnqueueEventCommand {
	return &EnqueueEventCommand{service: service}
}

func (c *EnqueueEventCommand) Execute(ctx context.Context, msg EnqueueEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: enqueue service is required")
	}
	out, err := c.service.Enqueue(ctx, msg.Source, msg.EventID, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ApplyRoutingConfigCommand struct {
	service MutatingService
}

func NewApplyRoutingConfigCommand(service MutatingService) *ApplyRoutingConfigCommand {
	return &ApplyRoutingConfigCommand{service: service}
}

func (c *ApplyRoutingConfigCommand) Execute(ctx context.Context, msg ApplyRoutingConfigMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: routing config service is required")
	}
	out, err := c.service.ApplyRoutingConfig(ctx, msg.Config)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessNextCommand struct {
	service MutatingService
}

func NewProcessNextCommand(service MutatingService) *ProcessNextCommand {
	return &ProcessNextCommand{service: service}
}

func (c *ProcessNextCommand) Execute(ctx context.Context, msg ProcessNextMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: processing service is required")
	}
	out, err := c.service.ProcessNext(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
