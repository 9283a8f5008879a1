package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	"github.com/uptrace/bun"
)

// ActionRunStore owns the idempotency ledger: at most one run row per
// (event, action) pair, enforced by a uniqueness constraint and translated
// into fetch-existing behavior on collision.
type ActionRunStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewActionRunStore(db *bun.DB) (*ActionRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ActionRunStore{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *ActionRunStore) CreateRun(ctx context.Context, in core.CreateActionRunInput) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: action run store is not configured")
	}
	action := strings.TrimSpace(in.Action)
	if in.EventRowID <= 0 || action == "" {
		return 0, fmt.Errorf("sqlstore: action run event id and action are required")
	}
	inputJSON, err := marshalDocument(in.Input)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: encode action run input: %w", err)
	}

	var id int64
	err = s.db.NewRaw(
		`INSERT INTO dispatch_action_runs (event_row_id, started_at, status, provider, action, handler_mode, handler_target, input_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		in.EventRowID,
		s.now(),
		string(core.ActionRunStatusRunning),
		optionalString(strings.TrimSpace(in.Provider)),
		action,
		optionalString(strings.TrimSpace(string(in.HandlerMode))),
		optionalString(strings.TrimSpace(in.HandlerTarget)),
		inputJSON,
	).Scan(ctx, &id)
	if err == nil {
		return id, nil
	}
	if !isUniqueViolation(err) {
		return 0, err
	}

	// A run for this (event, action) pair already exists: idempotent creation
	// returns its id instead of inserting.
	var existingID int64
	lookupErr := s.db.NewRaw(
		`SELECT id FROM dispatch_action_runs WHERE event_row_id = ? AND action = ? ORDER BY id DESC LIMIT 1`,
		in.EventRowID,
		action,
	).Scan(ctx, &existingID)
	if lookupErr != nil {
		return 0, err
	}
	return existingID, nil
}

func (s *ActionRunStore) GetRun(ctx context.Context, runID int64) (core.ActionRun, error) {
	if s == nil || s.db == nil {
		return core.ActionRun{}, fmt.Errorf("sqlstore: action run store is not configured")
	}
	record := new(actionRunRecord)
	err := s.db.NewSelect().Model(record).Where("dar.id = ?", runID).Scan(ctx)
	if err != nil {
		return core.ActionRun{}, err
	}
	return actionRunRecordToRun(*record), nil
}

func (s *ActionRunStore) GetRunForEventAction(
	ctx context.Context,
	eventRowID int64,
	action string,
) (*core.ActionRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: action run store is not configured")
	}
	record := new(actionRunRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("dar.event_row_id = ?", eventRowID).
		Where("dar.action = ?", strings.TrimSpace(action)).
		OrderExpr("dar.id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run := actionRunRecordToRun(*record)
	return &run, nil
}

// RestartRun resets a previously errored run back to running in place. The
// row id is preserved so the ledger keeps one entry per (event, action).
func (s *ActionRunStore) RestartRun(ctx context.Context, runID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: action run store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*actionRunRecord)(nil)).
		Set("started_at = ?", s.now()).
		Set("finished_at = NULL").
		Set("status = ?", string(core.ActionRunStatusRunning)).
		Set("output_json = NULL").
		Set("error = NULL").
		Where("id = ?", runID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: action run %d not found", runID)
	}
	return nil
}

func (s *ActionRunStore) FinishRun(
	ctx context.Context,
	runID int64,
	status core.ActionRunStatus,
	output map[string]any,
	cause string,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: action run store is not configured")
	}
	if status != core.ActionRunStatusDone && status != core.ActionRunStatusError {
		return fmt.Errorf("sqlstore: invalid terminal action run status %q", status)
	}
	var outputJSON *string
	if output != nil {
		encoded, err := marshalDocument(output)
		if err != nil {
			return fmt.Errorf("sqlstore: encode action run output: %w", err)
		}
		outputJSON = &encoded
	}
	_, err := s.db.NewUpdate().
		Model((*actionRunRecord)(nil)).
		Set("finished_at = ?", s.now()).
		Set("status = ?", string(status)).
		Set("output_json = ?", outputJSON).
		Set("error = ?", optionalString(strings.TrimSpace(cause))).
		Where("id = ?", runID).
		Exec(ctx)
	return err
}

func (s *ActionRunStore) ListRunsForEvent(
	ctx context.Context,
	eventRowID int64,
	limit int,
) ([]core.ActionRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: action run store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	var records []actionRunRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("dar.event_row_id = ?", eventRowID).
		OrderExpr("dar.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	runs := make([]core.ActionRun, 0, len(records))
	for _, record := range records {
		runs = append(runs, actionRunRecordToRun(record))
	}
	return runs, nil
}

func actionRunRecordToRun(record actionRunRecord) core.ActionRun {
	run := core.ActionRun{
		ID:            record.ID,
		EventRowID:    record.EventRowID,
		StartedAt:     record.StartedAt,
		Status:        core.ActionRunStatus(record.Status),
		Provider:      derefString(record.Provider),
		Action:        record.Action,
		HandlerMode:   core.HandlerMode(derefString(record.HandlerMode)),
		HandlerTarget: derefString(record.HandlerTarget),
		Input:         unmarshalDocument(record.InputJSON),
		Error:         derefString(record.Error),
	}
	if record.FinishedAt != nil {
		finished := record.FinishedAt.UTC()
		run.FinishedAt = &finished
	}
	if record.OutputJSON != nil {
		run.Output = unmarshalDocument(*record.OutputJSON)
	}
	return run
}
