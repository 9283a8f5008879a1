// Package gojob bridges go-job queues into the dispatch event queue. Hosts
// that already run a go-job scheduler can route periodic work (cron ticks,
// maintenance sweeps) through dispatch as ordinary cron events instead of
// wiring a second scheduler against the HTTP ingress.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dispatch/core"
)

const (
	// JobIDCronEnqueue marks messages that become cron events on the queue.
	JobIDCronEnqueue = "dispatch.cron.enqueue"
	// JobIDQueueReclaim marks messages that trigger a stale-claim sweep.
	JobIDQueueReclaim = "dispatch.queue.reclaim"
)

// EventEnqueuer is the slice of the dispatch service the bridge needs.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, source string, eventID string, payload map[string]any) (core.EnqueueReceipt, error)
}

// NewCronMessage builds the go-job message for one scheduled dispatch job.
// The idempotency key doubles as the dispatch event id, so a redelivered
// message dedupes against the queue instead of running twice.
func NewCronMessage(jobName string, idempotencyKey string, params map[string]any) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDCronEnqueue,
		ScriptPath:     strings.TrimSpace(jobName),
		Parameters:     copyAnyMap(params),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// RetryPolicy bounds requeue behavior when a bridge handoff fails.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Normalize clamps nack options for the given attempt: the delay never
// exceeds MaxDelay, and once MaxAttempts is reached the message stops
// requeueing (dead-lettering when configured).
func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Bridge converts go-job deliveries into dispatch cron events.
type Bridge struct {
	events EventEnqueuer
	policy RetryPolicy
	logger glog.Logger
}

func NewBridge(events EventEnqueuer, policy RetryPolicy, logger glog.Logger) (*Bridge, error) {
	if events == nil {
		return nil, fmt.Errorf("gojob: event enqueuer is required")
	}
	return &Bridge{
		events: events,
		policy: policy,
		logger: glog.Ensure(logger),
	}, nil
}

// Handle stores one scheduled message as a cron event. The job name travels
// in ScriptPath; message parameters ride along in the payload envelope.
func (b *Bridge) Handle(ctx context.Context, msg *job.ExecutionMessage) error {
	if b == nil || b.events == nil {
		return fmt.Errorf("gojob: bridge is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	jobName := strings.TrimSpace(msg.ScriptPath)
	if jobName == "" {
		jobName = strings.TrimSpace(msg.JobID)
	}
	if jobName == "" {
		return fmt.Errorf("gojob: message job name is required")
	}

	payload := map[string]any{
		"job":         jobName,
		"source_hint": "cron",
	}
	if len(msg.Parameters) > 0 {
		payload["params"] = copyAnyMap(msg.Parameters)
	}

	receipt, err := b.events.Enqueue(ctx, "cron", strings.TrimSpace(msg.IdempotencyKey), payload)
	if err != nil {
		return err
	}
	b.logger.Debug("scheduled job bridged onto event queue",
		"job", jobName,
		"row_id", receipt.ID,
		"duplicate", receipt.AlreadyExists,
	)
	return nil
}

// DrainOne pulls a single delivery, hands it off, and settles it: ack on
// success, policy-normalized nack on failure. Returns whether a delivery was
// consumed.
func (b *Bridge) DrainOne(ctx context.Context, dequeuer queue.Dequeuer) (bool, error) {
	if b == nil || dequeuer == nil {
		return false, fmt.Errorf("gojob: dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	if handleErr := b.Handle(ctx, delivery.Message()); handleErr != nil {
		nack := b.policy.Normalize(queue.NackOptions{
			Requeue: true,
			Reason:  handleErr.Error(),
		}, attemptOf(delivery))
		if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
			return true, fmt.Errorf("gojob: nack after handoff failure: %w", nackErr)
		}
		return true, handleErr
	}

	if ackErr := delivery.Ack(ctx); ackErr != nil {
		return true, fmt.Errorf("gojob: ack delivery: %w", ackErr)
	}
	return true, nil
}

func attemptOf(delivery queue.Delivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok {
		return counted.Attempt()
	}
	return 0
}

// LoggingHook reports go-job worker lifecycle events through the dispatch
// logging stack.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("job started", hookFields(event)...)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Info("job finished", append(hookFields(event), "duration", event.Duration.String())...)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("job failed", append(hookFields(event), "error", event.Err)...)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("job retry scheduled", append(hookFields(event),
		"attempt", event.Attempt,
		"delay", event.Delay.String(),
		"error", event.Err,
	)...)
}

func hookFields(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	jobID := ""
	script := ""
	if message != nil {
		jobID = message.JobID
		script = message.ScriptPath
	}
	return []any{"job_id", jobID, "script", script}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ worker.Hook = (*LoggingHook)(nil)
