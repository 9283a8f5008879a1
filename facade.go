package dispatch

import (
	"fmt"

	dispatchcommand "github.com/goliatone/go-dispatch/command"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

// CommandQueryService is the combined surface the facade exposes through
// message handlers.
type CommandQueryService interface {
	dispatchcommand.MutatingService
	dispatchquery.EventReader
}

type Commands struct {
	EnqueueEvent       *dispatchcommand.EnqueueEventCommand
	ApplyRoutingConfig *dispatchcommand.ApplyRoutingConfigCommand
	ProcessNext        *dispatchcommand.ProcessNextCommand
}

type Queries struct {
	GetEvent       *dispatchquery.GetEventQuery
	ListActionRuns *dispatchquery.ListActionRunsQuery
}

// Facade binds one service instance to the command and query handlers so
// hosts can register them on a message dispatcher.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		EnqueueEvent:       dispatchcommand.NewEnqueueEventCommand(service),
		ApplyRoutingConfig: dispatchcommand.NewApplyRoutingConfigCommand(service),
		ProcessNext:        dispatchcommand.NewProcessNextCommand(service),
	}
	facade.queries = Queries{
		GetEvent:       dispatchquery.NewGetEventQuery(service),
		ListActionRuns: dispatchquery.NewListActionRunsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
