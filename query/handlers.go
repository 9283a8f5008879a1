package query

import (
	"context"

	"github.com/goliatone/go-dispatch/core"
)

// EventReader is the read-only facade surface the queries consume.
type EventReader interface {
	GetEvent(ctx context.Context, id int64) (core.Event, error)
	ListActionRuns(ctx context.Context, eventRowID int64, limit int) ([]core.ActionRun, error)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.Event, error) {
	if q == nil || q.reader == nil {
		return core.Event{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.GetEvent(ctx, msg.EventRowID)
}

type ListActionRunsQuery struct {
	reader EventReader
}

func NewListActionRunsQuery(reader EventReader) *ListActionRunsQuery {
	return &ListActionRunsQuery{reader: reader}
}

func (q *ListActionRunsQuery) Query(ctx context.Context, msg ListActionRunsMessage) ([]core.ActionRun, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: event reader is required")
	}
	return q.reader.ListActionRuns(ctx, msg.EventRowID, msg.Limit)
}
