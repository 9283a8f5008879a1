package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

const maxBackoff = 60 * time.Second

// EventProcessor is the worker's view of the processor.
type EventProcessor interface {
	Process(ctx context.Context, event core.Event) (core.ProcessOutcome, error)
}

// Worker drains the event queue: claim the oldest eligible event, process
// it, and settle the row as done, retry, or error. Multiple workers can run
// against the same queue; the claim is what serializes ownership.
type Worker struct {
	events    core.EventStore
	processor EventProcessor
	cfg       core.WorkerConfig
	logger    core.Logger
	now       func() time.Time

	lastReclaim time.Time
}

func NewWorker(events core.EventStore, processor EventProcessor, cfg core.WorkerConfig, logger core.Logger) (*Worker, error) {
	if events == nil {
		return nil, fmt.Errorf("pipeline: event store is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("pipeline: processor is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = core.DefaultConfig().Worker.MaxAttempts
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = core.DefaultConfig().Worker.PollIntervalSeconds
	}
	return &Worker{
		events:    events,
		processor: processor,
		cfg:       cfg,
		logger:    glog.Ensure(logger),
		now:       time.Now,
	}, nil
}

// Backoff returns the retry delay for the given attempt count:
// 2^attempt seconds, exponent capped at 6, total capped at one minute.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 6 {
		attempt = 6
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Run drives the worker loop until the context is canceled. In run-once
// mode the worker makes exactly one claim attempt and returns, whether or
// not an event was available.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.events == nil || w.processor == nil {
		return fmt.Errorf("pipeline: worker is not configured")
	}

	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval().String(),
		"max_attempts", w.cfg.MaxAttempts,
		"run_once", w.cfg.RunOnce,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.maybeReclaim(ctx)

		processed, err := w.Tick(ctx)
		if err != nil {
			// Claim or settle failures are infrastructure trouble; log and
			// back off a poll interval rather than spin.
			w.logger.Error("worker pass failed", "error", err)
		}
		if w.cfg.RunOnce {
			return nil
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval()):
		}
	}
}

// Tick claims and settles at most one event. It reports whether an event was
// claimed; errors come from the store, never from action execution, which is
// settled onto the event row instead.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	event, err := w.events.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("pipeline: claim next event: %w", err)
	}
	if event == nil {
		return false, nil
	}

	outcome, procErr := w.processSafely(ctx, *event)
	if procErr == nil {
		if err := w.events.MarkDone(ctx, event.ID, outcome.ResultDocument()); err != nil {
			return true, fmt.Errorf("pipeline: mark event %d done: %w", event.ID, err)
		}
		return true, nil
	}

	attempt := event.AttemptCount + 1
	cause := procErr.Error()
	if attempt >= w.cfg.MaxAttempts {
		w.logger.Error("event exhausted retries",
			"event", event.ID,
			"attempt", attempt,
			"error", cause,
		)
		if err := w.events.MarkError(ctx, event.ID, attempt, cause); err != nil {
			return true, fmt.Errorf("pipeline: mark event %d error: %w", event.ID, err)
		}
		return true, nil
	}

	delay := Backoff(attempt)
	w.logger.Warn("event processing failed, scheduling retry",
		"event", event.ID,
		"attempt", attempt,
		"retry_in", delay.String(),
		"error", cause,
	)
	if err := w.events.MarkRetry(ctx, event.ID, attempt, w.now().Add(delay), cause); err != nil {
		return true, fmt.Errorf("pipeline: mark event %d retry: %w", event.ID, err)
	}
	return true, nil
}

// processSafely keeps a panicking handler from taking the worker loop down;
// the panic settles onto the event like any other processing failure.
func (w *Worker) processSafely(ctx context.Context, event core.Event) (outcome core.ProcessOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic processing event %d: %v", event.ID, r)
		}
	}()
	return w.processor.Process(ctx, event)
}

// maybeReclaim sweeps events stuck in processing back to retry. The sweep is
// opt-in and runs at most once per reclaim window.
func (w *Worker) maybeReclaim(ctx context.Context) {
	olderThan := w.cfg.ReclaimAfter()
	if olderThan <= 0 {
		return
	}
	now := w.now()
	if !w.lastReclaim.IsZero() && now.Sub(w.lastReclaim) < olderThan {
		return
	}
	w.lastReclaim = now

	reclaimed, err := w.events.ReclaimStale(ctx, olderThan)
	if err != nil {
		w.logger.Error("reclaim stale events", "error", err)
		return
	}
	if reclaimed > 0 {
		w.logger.Warn("reclaimed stale processing events", "count", reclaimed)
	}
}
