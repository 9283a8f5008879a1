package query

import "fmt"

const (
	TypeGetEvent       = "dispatch.query.event.get"
	TypeListActionRuns = "dispatch.query.action_runs.list"
)

type GetEventMessage struct {
	EventRowID int64
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if m.EventRowID < 1 {
		return fmt.Errorf("query: event row id must be positive")
	}
	return nil
}

type ListActionRunsMessage struct {
	EventRowID int64
	Limit      int
}

func (ListActionRunsMessage) Type() string { return TypeListActionRuns }

func (m ListActionRunsMessage) Validate() error {
	if m.EventRowID < 1 {
		return fmt.Errorf("query: event row id must be positive")
	}
	if m.Limit < 0 {
		return fmt.Errorf("query: limit must not be negative")
	}
	return nil
}
