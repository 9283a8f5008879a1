package core

import (
	"strings"
	"time"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusRetry      EventStatus = "retry"
	EventStatusDone       EventStatus = "done"
	EventStatusError      EventStatus = "error"
)

// Event is one queued unit of ingested work. Events are created pending,
// claimed into processing by exactly one worker, and finish as done, retry,
// or error. Rows are never deleted.
type Event struct {
	ID                  int64
	Source              string
	EventID             string // external dedup key; empty means none
	ReceivedAt          time.Time
	Status              EventStatus
	AttemptCount        int
	NextAttemptAt       time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	Payload             map[string]any
	Result              map[string]any
	LastError           string
}

// EnqueueReceipt reports the stored row for an enqueue request.
// AlreadyExists means the (source, event_id) pair was previously queued and
// the receipt carries the existing row id; callers treat that as success.
type EnqueueReceipt struct {
	ID            int64
	AlreadyExists bool
}

type HandlerMode string

const (
	HandlerModeNoop    HandlerMode = "noop"
	HandlerModeCommand HandlerMode = "command"
	HandlerModeAgent   HandlerMode = "agent"
	HandlerModeLLM     HandlerMode = "llm"
)

// NormalizeHandlerMode maps loose configuration values onto the supported
// handler modes. Empty and "none" collapse to noop.
func NormalizeHandlerMode(raw string) (HandlerMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "noop", "none":
		return HandlerModeNoop, true
	case "command":
		return HandlerModeCommand, true
	case "agent":
		return HandlerModeAgent, true
	case "llm":
		return HandlerModeLLM, true
	}
	return "", false
}

// RoutingRule binds a condition tree to an action for one provider.
// Rules are evaluated in ascending (priority, id) order among enabled rules;
// the first match wins.
type RoutingRule struct {
	ID            string
	Provider      string
	Name          string
	Priority      int
	Conditions    map[string]any
	Action        string
	HandlerMode   HandlerMode
	HandlerTarget string
	Enabled       bool
	UpdatedAt     time.Time
}

// ProviderMapping is the provider-level fallback action used when no routing
// rule matches.
type ProviderMapping struct {
	Provider      string
	Action        string
	HandlerMode   HandlerMode
	HandlerTarget string
	Enabled       bool
	UpdatedAt     time.Time
}

type ActionRunStatus string

const (
	ActionRunStatusRunning ActionRunStatus = "running"
	ActionRunStatusDone    ActionRunStatus = "done"
	ActionRunStatusError   ActionRunStatus = "error"
)

// ActionRun is the idempotency ledger entry for one (event, action) pair.
// At most one run exists per pair; a prior error run is restarted in place.
type ActionRun struct {
	ID            int64
	EventRowID    int64
	StartedAt     time.Time
	FinishedAt    *time.Time
	Status        ActionRunStatus
	Provider      string
	Action        string
	HandlerMode   HandlerMode
	HandlerTarget string
	Input         map[string]any
	Output        map[string]any
	Error         string
}

// Detection is the heuristic classification of a payload's origin.
type Detection struct {
	Provider   string
	Confidence float64
	Signals    []string
}

const (
	ProviderUnknown = "unknown"

	// UnknownConfidence is the floor returned when no signal matches.
	UnknownConfidence = 0.2

	// SourceHintConfidence is the fixed weight of a caller-asserted source
	// label. A hint never outranks a signature match.
	SourceHintConfidence = 0.6
)

// Classification is the AI classifier's best guess for a payload.
type Classification struct {
	Provider      string
	Confidence    float64
	EventType     string
	EventTypePath string
	EventID       string
	EventIDPath   string
	Notes         string
}

// RouteDecision is the resolved routing output for one payload: provider,
// matched rule or mapping fallback, and the handler binding to execute.
// Action is empty when neither a rule nor a mapping resolved.
type RouteDecision struct {
	Provider       string
	Confidence     float64
	Detection      Detection
	Classification *Classification
	EventType      string
	MatchedRule    string
	Action         string
	HandlerMode    HandlerMode
	HandlerTarget  string
	Reasons        []string
}

func (d RouteDecision) HasAction() bool {
	return strings.TrimSpace(d.Action) != "" && strings.TrimSpace(string(d.HandlerMode)) != ""
}

// Summary renders the decision as the JSON-shaped snapshot persisted on
// action runs and event results.
func (d RouteDecision) Summary() map[string]any {
	out := map[string]any{
		"provider":       d.Provider,
		"confidence":     d.Confidence,
		"event_type":     nilIfEmpty(d.EventType),
		"matched_rule":   nilIfEmpty(d.MatchedRule),
		"mapped_action":  nilIfEmpty(d.Action),
		"handler_mode":   nilIfEmpty(string(d.HandlerMode)),
		"handler_target": nilIfEmpty(d.HandlerTarget),
		"reasons":        append([]string(nil), d.Reasons...),
	}
	if d.Classification != nil {
		out["ai_detection"] = map[string]any{
			"provider":   d.Classification.Provider,
			"confidence": d.Classification.Confidence,
			"event_type": nilIfEmpty(d.Classification.EventType),
			"notes":      d.Classification.Notes,
		}
	}
	return out
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// ProcessOutcome is the terminal result recorded on an event after one
// processing pass.
type ProcessOutcome struct {
	OK               bool
	Source           string
	EventID          string
	Decision         RouteDecision
	Result           map[string]any
	IdempotentReplay bool
	NoMapping        bool
}

// ResultDocument renders the outcome in the shape stored on the event row.
func (o ProcessOutcome) ResultDocument() map[string]any {
	doc := map[string]any{
		"ok":       o.OK,
		"source":   o.Source,
		"event_id": nilIfEmpty(o.EventID),
		"router":   o.Decision.Summary(),
	}
	if o.Result != nil {
		doc["result"] = o.Result
	}
	if o.IdempotentReplay {
		doc["idempotent_replay"] = true
	}
	return doc
}
