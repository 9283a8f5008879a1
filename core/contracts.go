package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// EventStore owns the durable event queue and all of its state transitions.
// No other component mutates event rows directly.
type EventStore interface {
	// Enqueue inserts a pending event. When eventID is non-empty and the
	// (source, eventID) pair already exists, the receipt carries the existing
	// row id with AlreadyExists set; duplicates are never surfaced as errors.
	Enqueue(ctx context.Context, source string, eventID string, payload map[string]any) (EnqueueReceipt, error)

	// ClaimNext atomically takes ownership of the oldest eligible event
	// (pending or retry, next_attempt_at elapsed) and moves it to processing.
	// Returns nil when no row is eligible.
	ClaimNext(ctx context.Context) (*Event, error)

	// MarkDone, MarkRetry, and MarkError are only legal from processing.
	MarkDone(ctx context.Context, id int64, result map[string]any) error
	MarkRetry(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, cause string) error
	MarkError(ctx context.Context, id int64, attemptCount int, cause string) error

	GetEvent(ctx context.Context, id int64) (Event, error)

	// ReclaimStale re-queues events stuck in processing longer than olderThan.
	// Opt-in; there is no heartbeat or lease on claims.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RuleStore owns routing rules and provider mappings. Writers use upsert
// semantics keyed by natural uniqueness so re-application is idempotent.
type RuleStore interface {
	UpsertRule(ctx context.Context, rule RoutingRule) error
	// ListRules returns the provider's enabled rules in (priority, id) order.
	ListRules(ctx context.Context, provider string) ([]RoutingRule, error)
	UpsertMapping(ctx context.Context, mapping ProviderMapping) error
	GetMapping(ctx context.Context, provider string) (*ProviderMapping, error)
}

type CreateActionRunInput struct {
	EventRowID    int64
	Provider      string
	Action        string
	HandlerMode   HandlerMode
	HandlerTarget string
	Input         map[string]any
}

// ActionRunStore owns the idempotency ledger for action executions.
type ActionRunStore interface {
	// CreateRun inserts a running row; when a row for (event, action) already
	// exists its id is returned instead of inserting.
	CreateRun(ctx context.Context, in CreateActionRunInput) (int64, error)
	GetRun(ctx context.Context, runID int64) (ActionRun, error)
	GetRunForEventAction(ctx context.Context, eventRowID int64, action string) (*ActionRun, error)
	// RestartRun resets a previously errored run back to running in place,
	// clearing output and error while preserving the row id.
	RestartRun(ctx context.Context, runID int64) error
	FinishRun(ctx context.Context, runID int64, status ActionRunStatus, output map[string]any, cause string) error
	ListRunsForEvent(ctx context.Context, eventRowID int64, limit int) ([]ActionRun, error)
}

// ActionRequest carries everything an execution backend needs for one call.
type ActionRequest struct {
	Action        string
	HandlerMode   HandlerMode
	HandlerTarget string
	Payload       map[string]any
	Decision      RouteDecision
}

// ActionRunner executes one action synchronously. Implementations must be
// wall-clock bounded; a timeout is an execution failure.
type ActionRunner interface {
	Run(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// Classifier is the AI provider-classification collaborator. Callers must
// tolerate failure and fall back to heuristic detection.
type Classifier interface {
	Classify(ctx context.Context, payload map[string]any) (Classification, error)
}

// StructuredClient produces a JSON document constrained by a schema from an
// LLM backend. Used for llm handler runs and AI provider classification.
type StructuredClient interface {
	GenerateStructured(ctx context.Context, systemPrompt string, prompt string, schema map[string]any) (map[string]any, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
