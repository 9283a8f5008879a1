package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

// PayloadRouter resolves a stored payload envelope into a routing decision.
type PayloadRouter interface {
	Route(ctx context.Context, payload map[string]any) (core.RouteDecision, error)
}

// Processor handles exactly one claimed event per call: route the payload,
// consult the action-run ledger, and execute the mapped action when the
// ledger says this (event, action) pair has not completed before.
type Processor struct {
	router PayloadRouter
	runs   core.ActionRunStore
	runner core.ActionRunner
	logger core.Logger
	now    func() time.Time
}

func NewProcessor(payloadRouter PayloadRouter, runs core.ActionRunStore, runner core.ActionRunner, logger core.Logger) (*Processor, error) {
	if payloadRouter == nil {
		return nil, fmt.Errorf("pipeline: router is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("pipeline: action run store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("pipeline: action runner is required")
	}
	return &Processor{
		router: payloadRouter,
		runs:   runs,
		runner: runner,
		logger: glog.Ensure(logger),
		now:    time.Now,
	}, nil
}

// Process resolves and executes one event. A successful pass returns the
// outcome the worker records on the event row. An error return means the
// pass failed and the worker decides between retry and terminal error;
// routing errors and execution failures both surface here.
func (p *Processor) Process(ctx context.Context, event core.Event) (core.ProcessOutcome, error) {
	if p == nil || p.router == nil {
		return core.ProcessOutcome{}, fmt.Errorf("pipeline: processor is not configured")
	}

	decision, err := p.router.Route(ctx, event.Payload)
	if err != nil {
		return core.ProcessOutcome{}, fmt.Errorf("pipeline: route event %d: %w", event.ID, err)
	}

	outcome := core.ProcessOutcome{
		OK:       true,
		Source:   event.Source,
		EventID:  event.EventID,
		Decision: decision,
	}

	if !decision.HasAction() {
		// No rule matched and no provider mapping exists. That is a routed
		// terminal success, not a failure: redelivering the same payload
		// would resolve the same way.
		outcome.NoMapping = true
		p.logger.Info("event routed with no action mapping",
			"event", event.ID,
			"provider", decision.Provider,
			"confidence", decision.Confidence,
		)
		return outcome, nil
	}

	runID, replay, err := p.resolveRun(ctx, event, decision, &outcome)
	if err != nil {
		return core.ProcessOutcome{}, err
	}
	if replay {
		return outcome, nil
	}

	output, execErr := p.runner.Run(ctx, core.ActionRequest{
		Action:        decision.Action,
		HandlerMode:   decision.HandlerMode,
		HandlerTarget: decision.HandlerTarget,
		Payload:       event.Payload,
		Decision:      decision,
	})
	if execErr != nil {
		if finishErr := p.runs.FinishRun(ctx, runID, core.ActionRunStatusError, nil, execErr.Error()); finishErr != nil {
			p.logger.Error("record failed action run",
				"event", event.ID,
				"run", runID,
				"error", finishErr,
			)
		}
		return core.ProcessOutcome{}, core.ExecutionError(execErr,
			fmt.Sprintf("action %q failed for event %d", decision.Action, event.ID))
	}

	if err := p.runs.FinishRun(ctx, runID, core.ActionRunStatusDone, output, ""); err != nil {
		return core.ProcessOutcome{}, fmt.Errorf("pipeline: finish run %d: %w", runID, err)
	}

	outcome.Result = output
	p.logger.Info("event action executed",
		"event", event.ID,
		"run", runID,
		"provider", decision.Provider,
		"action", decision.Action,
		"handler_mode", string(decision.HandlerMode),
	)
	return outcome, nil
}

// resolveRun finds or creates the ledger row for (event, action). A prior
// done run short-circuits into an idempotent replay of its stored output; a
// prior unfinished or errored run is restarted in place so the pair never
// grows a second row.
func (p *Processor) resolveRun(ctx context.Context, event core.Event, decision core.RouteDecision, outcome *core.ProcessOutcome) (int64, bool, error) {
	existing, err := p.runs.GetRunForEventAction(ctx, event.ID, decision.Action)
	if err != nil {
		return 0, false, fmt.Errorf("pipeline: lookup run for event %d: %w", event.ID, err)
	}

	if existing != nil {
		if existing.Status == core.ActionRunStatusDone {
			outcome.Result = existing.Output
			outcome.IdempotentReplay = true
			p.logger.Info("event action replayed from ledger",
				"event", event.ID,
				"run", existing.ID,
				"action", decision.Action,
			)
			return existing.ID, true, nil
		}
		if err := p.runs.RestartRun(ctx, existing.ID); err != nil {
			return 0, false, fmt.Errorf("pipeline: restart run %d: %w", existing.ID, err)
		}
		return existing.ID, false, nil
	}

	runID, err := p.runs.CreateRun(ctx, core.CreateActionRunInput{
		EventRowID:    event.ID,
		Provider:      decision.Provider,
		Action:        decision.Action,
		HandlerMode:   decision.HandlerMode,
		HandlerTarget: decision.HandlerTarget,
		Input:         decision.Summary(),
	})
	if err != nil {
		return 0, false, fmt.Errorf("pipeline: create run for event %d: %w", event.ID, err)
	}
	return runID, false, nil
}
