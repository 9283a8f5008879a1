package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RuleStore owns routing rules and provider mappings. Writers use upsert
// semantics keyed by (provider, name) and provider respectively, so
// re-applying a configuration is idempotent.
type RuleStore struct {
	db   *bun.DB
	repo repository.Repository[*routingRuleRecord]
	now  func() time.Time
}

func NewRuleStore(db *bun.DB) (*RuleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*routingRuleRecord](db, routingRuleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid routing rule repository wiring: %w", err)
		}
	}
	return &RuleStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *RuleStore) UpsertRule(ctx context.Context, rule core.RoutingRule) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rule store is not configured")
	}
	provider := strings.ToLower(strings.TrimSpace(rule.Provider))
	name := strings.TrimSpace(rule.Name)
	action := strings.TrimSpace(rule.Action)
	if provider == "" || name == "" || action == "" {
		return fmt.Errorf("sqlstore: rule provider, name, and action are required")
	}
	conditionsJSON, err := marshalDocument(rule.Conditions)
	if err != nil {
		return fmt.Errorf("sqlstore: encode rule conditions: %w", err)
	}

	record := &routingRuleRecord{
		ID:             uuid.NewString(),
		Provider:       provider,
		Name:           name,
		Priority:       rule.Priority,
		ConditionsJSON: conditionsJSON,
		Action:         action,
		HandlerMode:    string(rule.HandlerMode),
		HandlerTarget:  optionalString(strings.TrimSpace(rule.HandlerTarget)),
		Enabled:        rule.Enabled,
		UpdatedAt:      s.now(),
	}

	_, err = s.repo.Create(ctx, record)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}

	_, err = s.db.NewUpdate().
		Model((*routingRuleRecord)(nil)).
		Set("priority = ?", record.Priority).
		Set("conditions_json = ?", record.ConditionsJSON).
		Set("action = ?", record.Action).
		Set("handler_mode = ?", record.HandlerMode).
		Set("handler_target = ?", record.HandlerTarget).
		Set("enabled = ?", record.Enabled).
		Set("updated_at = ?", record.UpdatedAt).
		Where("provider = ?", provider).
		Where("name = ?", name).
		Exec(ctx)
	return err
}

func (s *RuleStore) ListRules(ctx context.Context, provider string) ([]core.RoutingRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: rule store is not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, nil
	}
	var records []routingRuleRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("drr.provider = ?", provider).
		Where("drr.enabled = ?", true).
		OrderExpr("drr.priority ASC, drr.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]core.RoutingRule, 0, len(records))
	for _, record := range records {
		rules = append(rules, routingRuleRecordToRule(record))
	}
	return rules, nil
}

func (s *RuleStore) UpsertMapping(ctx context.Context, mapping core.ProviderMapping) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rule store is not configured")
	}
	provider := strings.ToLower(strings.TrimSpace(mapping.Provider))
	action := strings.TrimSpace(mapping.Action)
	if provider == "" || action == "" {
		return fmt.Errorf("sqlstore: mapping provider and action are required")
	}
	record := &providerMappingRecord{
		Provider:      provider,
		Action:        action,
		HandlerMode:   string(mapping.HandlerMode),
		HandlerTarget: optionalString(strings.TrimSpace(mapping.HandlerTarget)),
		Enabled:       mapping.Enabled,
		UpdatedAt:     s.now(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider) DO UPDATE").
		Set("action = EXCLUDED.action").
		Set("handler_mode = EXCLUDED.handler_mode").
		Set("handler_target = EXCLUDED.handler_target").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *RuleStore) GetMapping(ctx context.Context, provider string) (*core.ProviderMapping, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: rule store is not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, nil
	}
	record := new(providerMappingRecord)
	err := s.db.NewSelect().Model(record).Where("dpm.provider = ?", provider).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mapping := providerMappingRecordToMapping(*record)
	return &mapping, nil
}

func routingRuleRecordToRule(record routingRuleRecord) core.RoutingRule {
	mode, ok := core.NormalizeHandlerMode(record.HandlerMode)
	if !ok {
		mode = core.HandlerMode(record.HandlerMode)
	}
	return core.RoutingRule{
		ID:            record.ID,
		Provider:      record.Provider,
		Name:          record.Name,
		Priority:      record.Priority,
		Conditions:    unmarshalDocument(record.ConditionsJSON),
		Action:        record.Action,
		HandlerMode:   mode,
		HandlerTarget: derefString(record.HandlerTarget),
		Enabled:       record.Enabled,
		UpdatedAt:     record.UpdatedAt,
	}
}

func providerMappingRecordToMapping(record providerMappingRecord) core.ProviderMapping {
	mode, ok := core.NormalizeHandlerMode(record.HandlerMode)
	if !ok {
		mode = core.HandlerMode(record.HandlerMode)
	}
	return core.ProviderMapping{
		Provider:      record.Provider,
		Action:        record.Action,
		HandlerMode:   mode,
		HandlerTarget: derefString(record.HandlerTarget),
		Enabled:       record.Enabled,
		UpdatedAt:     record.UpdatedAt,
	}
}
