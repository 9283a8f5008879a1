// Package gocommand wires the dispatch command and query handlers into a
// go-command registry and the process-wide dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

// ValidateMessageContract enforces the Type() plus optional Validate()
// contract before a message reaches a handler.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// DispatchSubscriptions groups the live handler subscriptions so hosts can
// tear them down together.
type DispatchSubscriptions struct {
	subscriptions []commanddispatcher.Subscription
}

func (s *DispatchSubscriptions) Unsubscribe() {
	if s == nil {
		return
	}
	for _, subscription := range s.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	s.subscriptions = nil
}

// RegisterDispatchHandlers registers and subscribes the full dispatch
// command/query surface: enqueue, routing-config apply, process-next, event
// lookup, and action-run listing.
func RegisterDispatchHandlers(
	adapter *RegistryAdapter,
	service dispatchcommand.MutatingService,
	reader dispatchquery.EventReader,
	runnerOpts ...runner.Option,
) (*DispatchSubscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: mutating service is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("gocommand: event reader is required")
	}

	subscriptions := &DispatchSubscriptions{}
	register := func(handler any, subscription commanddispatcher.Subscription) error {
		if err := adapter.RegisterCommand(handler); err != nil {
			subscription.Unsubscribe()
			subscriptions.Unsubscribe()
			return err
		}
		subscriptions.subscriptions = append(subscriptions.subscriptions, subscription)
		return nil
	}

	enqueue := dispatchcommand.NewEnqueueEventCommand(service)
	if err := register(enqueue, SubscribeCommand(enqueue, runnerOpts...)); err != nil {
		return nil, err
	}
	applyConfig := dispatchcommand.NewApplyRoutingConfigCommand(service)
	if err := register(applyConfig, SubscribeCommand(applyConfig, runnerOpts...)); err != nil {
		return nil, err
	}
	processNext := dispatchcommand.NewProcessNextCommand(service)
	if err := register(processNext, SubscribeCommand(processNext, runnerOpts...)); err != nil {
		return nil, err
	}
	getEvent := dispatchquery.NewGetEventQuery(reader)
	if err := register(getEvent, SubscribeQuery(getEvent, runnerOpts...)); err != nil {
		return nil, err
	}
	listRuns := dispatchquery.NewListActionRunsQuery(reader)
	if err := register(listRuns, SubscribeQuery(listRuns, runnerOpts...)); err != nil {
		return nil, err
	}

	return subscriptions, nil
}
