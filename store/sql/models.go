package sqlstore

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/uptrace/bun"
)

type eventRecord struct {
	bun.BaseModel `bun:"table:dispatch_events,alias:de"`

	ID                  int64      `bun:"id,pk,autoincrement"`
	Source              string     `bun:"source,notnull"`
	EventID             *string    `bun:"event_id"`
	ReceivedAt          time.Time  `bun:"received_at,notnull"`
	Status              string     `bun:"status,notnull"`
	AttemptCount        int        `bun:"attempt_count,notnull"`
	NextAttemptAt       time.Time  `bun:"next_attempt_at,notnull"`
	ProcessingStartedAt *time.Time `bun:"processing_started_at"`
	ProcessedAt         *time.Time `bun:"processed_at"`
	PayloadJSON         string     `bun:"payload_json,notnull"`
	ResultJSON          *string    `bun:"result_json"`
	LastError           *string    `bun:"last_error"`
}

type routingRuleRecord struct {
	bun.BaseModel `bun:"table:dispatch_routing_rules,alias:drr"`

	ID             string    `bun:"id,pk"`
	Provider       string    `bun:"provider,notnull"`
	Name           string    `bun:"name,notnull"`
	Priority       int       `bun:"priority,notnull"`
	ConditionsJSON string    `bun:"conditions_json,notnull"`
	Action         string    `bun:"action,notnull"`
	HandlerMode    string    `bun:"handler_mode,notnull"`
	HandlerTarget  *string   `bun:"handler_target"`
	Enabled        bool      `bun:"enabled,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

type providerMappingRecord struct {
	bun.BaseModel `bun:"table:dispatch_provider_mappings,alias:dpm"`

	Provider      string    `bun:"provider,pk"`
	Action        string    `bun:"action,notnull"`
	HandlerMode   string    `bun:"handler_mode,notnull"`
	HandlerTarget *string   `bun:"handler_target"`
	Enabled       bool      `bun:"enabled,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

type actionRunRecord struct {
	bun.BaseModel `bun:"table:dispatch_action_runs,alias:dar"`

	ID            int64      `bun:"id,pk,autoincrement"`
	EventRowID    int64      `bun:"event_row_id,notnull"`
	StartedAt     time.Time  `bun:"started_at,notnull"`
	FinishedAt    *time.Time `bun:"finished_at"`
	Status        string     `bun:"status,notnull"`
	Provider      *string    `bun:"provider"`
	Action        string     `bun:"action,notnull"`
	HandlerMode   *string    `bun:"handler_mode"`
	HandlerTarget *string    `bun:"handler_target"`
	InputJSON     string     `bun:"input_json,notnull"`
	OutputJSON    *string    `bun:"output_json"`
	Error         *string    `bun:"error"`
}

func marshalDocument(doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalDocument(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// Stored documents are written by this store; a decode failure means
		// manual tampering. Surface the raw text instead of dropping it.
		return map[string]any{"raw": raw}
	}
	return doc
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
