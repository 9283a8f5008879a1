package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/uptrace/bun"
)

// EventStore owns the durable event queue. All lifecycle transitions run as
// single bounded-latency statements; the claim path is one atomic
// read-modify-write transaction so concurrent claimants never take the same
// row.
type EventStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &EventStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) Enqueue(
	ctx context.Context,
	source string,
	eventID string,
	payload map[string]any,
) (core.EnqueueReceipt, error) {
	if s == nil || s.db == nil {
		return core.EnqueueReceipt{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return core.EnqueueReceipt{}, fmt.Errorf("sqlstore: event source is required")
	}
	payloadJSON, err := marshalDocument(payload)
	if err != nil {
		return core.EnqueueReceipt{}, fmt.Errorf("sqlstore: encode payload: %w", err)
	}

	now := s.now()
	record := &eventRecord{
		Source:        source,
		EventID:       optionalString(strings.TrimSpace(eventID)),
		ReceivedAt:    now,
		Status:        string(core.EventStatusPending),
		AttemptCount:  0,
		NextAttemptAt: now,
		PayloadJSON:   payloadJSON,
	}

	var id int64
	err = s.db.NewRaw(
		`INSERT INTO dispatch_events (source, event_id, received_at, status, attempt_count, next_attempt_at, payload_json)
VALUES (?, ?, ?, ?, 0, ?, ?)
RETURNING id`,
		record.Source,
		record.EventID,
		record.ReceivedAt,
		record.Status,
		record.NextAttemptAt,
		record.PayloadJSON,
	).Scan(ctx, &id)
	if err == nil {
		return core.EnqueueReceipt{ID: id}, nil
	}
	if !isUniqueViolation(err) || record.EventID == nil {
		return core.EnqueueReceipt{}, err
	}

	// Redelivery of a known (source, event_id) pair: report the existing row.
	var existingID int64
	lookupErr := s.db.NewRaw(
		`SELECT id FROM dispatch_events WHERE source = ? AND event_id = ? LIMIT 1`,
		record.Source,
		*record.EventID,
	).Scan(ctx, &existingID)
	if lookupErr != nil {
		return core.EnqueueReceipt{}, err
	}
	return core.EnqueueReceipt{ID: existingID, AlreadyExists: true}, nil
}

func (s *EventStore) ClaimNext(ctx context.Context) (*core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	now := s.now()
	var records []eventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
UPDATE dispatch_events
SET status = ?, processing_started_at = ?
WHERE id IN (
	SELECT id
	FROM dispatch_events
	WHERE status IN (?, ?)
	  AND next_attempt_at <= ?
	ORDER BY received_at ASC
	LIMIT 1
)
  AND status IN (?, ?)
RETURNING
	id,
	source,
	event_id,
	received_at,
	status,
	attempt_count,
	next_attempt_at,
	processing_started_at,
	processed_at,
	payload_json,
	result_json,
	last_error
`
		return tx.NewRaw(
			query,
			string(core.EventStatusProcessing),
			now,
			string(core.EventStatusPending),
			string(core.EventStatusRetry),
			now,
			string(core.EventStatusPending),
			string(core.EventStatusRetry),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	event := eventRecordToEvent(records[0])
	return &event, nil
}

func (s *EventStore) MarkDone(ctx context.Context, id int64, result map[string]any) error {
	resultJSON, err := marshalDocument(result)
	if err != nil {
		return fmt.Errorf("sqlstore: encode result: %w", err)
	}
	now := s.now()
	return s.transition(ctx, id, func(update *bun.UpdateQuery) *bun.UpdateQuery {
		return update.
			Set("status = ?", string(core.EventStatusDone)).
			Set("processed_at = ?", now).
			Set("result_json = ?", resultJSON).
			Set("last_error = NULL")
	})
}

func (s *EventStore) MarkRetry(
	ctx context.Context,
	id int64,
	attemptCount int,
	nextAttemptAt time.Time,
	cause string,
) error {
	return s.transition(ctx, id, func(update *bun.UpdateQuery) *bun.UpdateQuery {
		return update.
			Set("status = ?", string(core.EventStatusRetry)).
			Set("attempt_count = ?", attemptCount).
			Set("next_attempt_at = ?", nextAttemptAt.UTC()).
			Set("last_error = ?", cause)
	})
}

func (s *EventStore) MarkError(ctx context.Context, id int64, attemptCount int, cause string) error {
	now := s.now()
	return s.transition(ctx, id, func(update *bun.UpdateQuery) *bun.UpdateQuery {
		return update.
			Set("status = ?", string(core.EventStatusError)).
			Set("attempt_count = ?", attemptCount).
			Set("processed_at = ?", now).
			Set("last_error = ?", cause)
	})
}

// transition applies a terminal or re-queuing update; only rows currently in
// processing are eligible, which keeps the state machine honest under
// concurrent claimants and restarts.
func (s *EventStore) transition(
	ctx context.Context,
	id int64,
	apply func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	update := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Where("id = ?", id).
		Where("status = ?", string(core.EventStatusProcessing))
	res, err := apply(update).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: event %d is not in processing state", id)
	}
	return nil
}

func (s *EventStore) GetEvent(ctx context.Context, id int64) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	record := new(eventRecord)
	err := s.db.NewSelect().Model(record).Where("de.id = ?", id).Scan(ctx)
	if err != nil {
		return core.Event{}, err
	}
	return eventRecordToEvent(*record), nil
}

func (s *EventStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event store is not configured")
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("sqlstore: reclaim window must be positive")
	}
	now := s.now()
	cutoff := now.Add(-olderThan)
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(core.EventStatusRetry)).
		Set("next_attempt_at = ?", now).
		Set("last_error = ?", "reclaimed from stale processing claim").
		Where("status = ?", string(core.EventStatusProcessing)).
		Where("processing_started_at IS NOT NULL").
		Where("processing_started_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func eventRecordToEvent(record eventRecord) core.Event {
	event := core.Event{
		ID:            record.ID,
		Source:        record.Source,
		EventID:       derefString(record.EventID),
		ReceivedAt:    record.ReceivedAt,
		Status:        core.EventStatus(record.Status),
		AttemptCount:  record.AttemptCount,
		NextAttemptAt: record.NextAttemptAt,
		Payload:       unmarshalDocument(record.PayloadJSON),
		LastError:     derefString(record.LastError),
	}
	if record.ProcessingStartedAt != nil {
		started := record.ProcessingStartedAt.UTC()
		event.ProcessingStartedAt = &started
	}
	if record.ProcessedAt != nil {
		processed := record.ProcessedAt.UTC()
		event.ProcessedAt = &processed
	}
	if record.ResultJSON != nil {
		event.Result = unmarshalDocument(*record.ResultJSON)
	}
	return event
}
