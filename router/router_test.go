package router

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/goliatone/go-dispatch/core"
)

type staticRuleStore struct {
	rules    map[string][]core.RoutingRule
	mappings map[string]core.ProviderMapping
	listErr  error
}

func (s *staticRuleStore) UpsertRule(context.Context, core.RoutingRule) error { return nil }

func (s *staticRuleStore) ListRules(_ context.Context, provider string) ([]core.RoutingRule, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	rules := append([]core.RoutingRule(nil), s.rules[provider]...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules, nil
}

func (s *staticRuleStore) UpsertMapping(context.Context, core.ProviderMapping) error { return nil }

func (s *staticRuleStore) GetMapping(_ context.Context, provider string) (*core.ProviderMapping, error) {
	mapping, ok := s.mappings[provider]
	if !ok {
		return nil, nil
	}
	return &mapping, nil
}

type scriptedClassifier struct {
	out    core.Classification
	err    error
	called bool
}

func (c *scriptedClassifier) Classify(context.Context, map[string]any) (core.Classification, error) {
	c.called = true
	if c.err != nil {
		return core.Classification{}, c.err
	}
	return c.out, nil
}

func githubPushPayload() map[string]any {
	return map[string]any{
		"headers": map[string]any{"x-github-event": "push"},
		"json":    map[string]any{"ref": "refs/heads/main"},
	}
}

func TestRoute_LowerPriorityRuleWinsOverCatchAll(t *testing.T) {
	store := &staticRuleStore{
		rules: map[string][]core.RoutingRule{
			"github": {
				{
					Name:        "catch-all",
					Priority:    100,
					Conditions:  map[string]any{"op": "header_present", "name": "x-github-event"},
					Action:      "log_event",
					HandlerMode: core.HandlerModeNoop,
					Enabled:     true,
				},
				{
					Name:        "deploy-main",
					Priority:    10,
					Conditions:  map[string]any{"op": "json_path_equals", "path": "ref", "value": "refs/heads/main"},
					Action:      "deploy",
					HandlerMode: core.HandlerModeCommand,
					Enabled:     true,
				},
			},
		},
	}
	r, err := New(store)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	decision, err := r.Route(context.Background(), githubPushPayload())
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.MatchedRule != "deploy-main" {
		t.Fatalf("expected priority 10 rule to win, got %q", decision.MatchedRule)
	}
	if decision.Action != "deploy" {
		t.Fatalf("expected deploy action, got %q", decision.Action)
	}
}

func TestRoute_DisabledRulesAreSkipped(t *testing.T) {
	store := &staticRuleStore{
		rules: map[string][]core.RoutingRule{
			"github": {
				{
					Name:        "disabled",
					Priority:    1,
					Conditions:  map[string]any{"op": "header_present", "name": "x-github-event"},
					Action:      "never",
					HandlerMode: core.HandlerModeNoop,
					Enabled:     false,
				},
			},
		},
		mappings: map[string]core.ProviderMapping{
			"github": {Provider: "github", Action: "fallback_sync", HandlerMode: core.HandlerModeNoop, Enabled: true},
		},
	}
	r, _ := New(store)

	decision, err := r.Route(context.Background(), githubPushPayload())
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.Action != "fallback_sync" {
		t.Fatalf("expected mapping fallback, got %q", decision.Action)
	}
	found := false
	for _, reason := range decision.Reasons {
		if reason == "fallback:provider_mapping" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fallback reason, got %v", decision.Reasons)
	}
}

func TestRoute_NoRuleNoMappingYieldsNoAction(t *testing.T) {
	r, _ := New(&staticRuleStore{})

	decision, err := r.Route(context.Background(), githubPushPayload())
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.HasAction() {
		t.Fatalf("expected no action, got %+v", decision)
	}
	if decision.Provider != "github" {
		t.Fatalf("expected detection to still resolve, got %q", decision.Provider)
	}
}

func TestRoute_SourceHintArbitration(t *testing.T) {
	r, _ := New(&staticRuleStore{})

	hinted, err := r.Route(context.Background(), map[string]any{
		"source_hint": "fireflies",
		"json":        map[string]any{"hello": "world"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if hinted.Provider != "fireflies" || hinted.Confidence != 0.6 {
		t.Fatalf("expected hint to beat the unknown floor, got %+v", hinted)
	}

	signed, err := r.Route(context.Background(), map[string]any{
		"source_hint": "fireflies",
		"headers":     map[string]any{"x-github-event": "push"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if signed.Provider != "github" {
		t.Fatalf("expected signature header to beat the hint, got %+v", signed)
	}
}

func TestRoute_ClassifierOnlyBelowThreshold(t *testing.T) {
	classifier := &scriptedClassifier{out: core.Classification{Provider: "github", Confidence: 0.9}}
	r, _ := New(&staticRuleStore{}, WithClassifier(classifier, 0.65))

	if _, err := r.Route(context.Background(), githubPushPayload()); err != nil {
		t.Fatalf("route: %v", err)
	}
	if classifier.called {
		t.Fatalf("expected classifier to be skipped at 0.98 detection confidence")
	}
}

func TestRoute_ClassifierOverridesLowConfidenceDetection(t *testing.T) {
	classifier := &scriptedClassifier{out: core.Classification{
		Provider:   "Stripe",
		Confidence: 0.9,
		EventType:  "invoice.paid",
	}}
	store := &staticRuleStore{
		mappings: map[string]core.ProviderMapping{
			"stripe": {Provider: "stripe", Action: "record_payment", HandlerMode: core.HandlerModeNoop, Enabled: true},
		},
	}
	r, _ := New(store, WithClassifier(classifier, 0.65))

	decision, err := r.Route(context.Background(), map[string]any{
		"json": map[string]any{"amount": float64(100)},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !classifier.called {
		t.Fatalf("expected classifier to run below threshold")
	}
	if decision.Provider != "stripe" {
		t.Fatalf("expected lowercased AI override, got %q", decision.Provider)
	}
	if decision.EventType != "invoice.paid" {
		t.Fatalf("expected classified event type, got %q", decision.EventType)
	}
	if decision.Action != "record_payment" {
		t.Fatalf("expected mapping on the overridden provider, got %q", decision.Action)
	}
	if decision.Classification == nil {
		t.Fatalf("expected classification to be attached to the decision")
	}
}

func TestRoute_ClassifierUnknownDoesNotOverride(t *testing.T) {
	classifier := &scriptedClassifier{out: core.Classification{Provider: "unknown", Confidence: 0.9}}
	r, _ := New(&staticRuleStore{}, WithClassifier(classifier, 0.65))

	decision, err := r.Route(context.Background(), map[string]any{
		"json": map[string]any{"hello": "world"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.Provider != core.ProviderUnknown {
		t.Fatalf("expected heuristic provider to stand, got %q", decision.Provider)
	}
}

func TestRoute_ClassifierFailureIsAReasonNotAnError(t *testing.T) {
	classifier := &scriptedClassifier{err: errors.New("model unavailable")}
	r, _ := New(&staticRuleStore{}, WithClassifier(classifier, 0.65))

	decision, err := r.Route(context.Background(), map[string]any{
		"json": map[string]any{"hello": "world"},
	})
	if err != nil {
		t.Fatalf("expected routing to survive classifier failure, got %v", err)
	}
	found := false
	for _, reason := range decision.Reasons {
		if strings.HasPrefix(reason, "ai:error:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ai error reason, got %v", decision.Reasons)
	}
}

func TestRoute_RuleStoreFailurePropagates(t *testing.T) {
	r, _ := New(&staticRuleStore{listErr: errors.New("db down")})

	if _, err := r.Route(context.Background(), githubPushPayload()); err == nil {
		t.Fatalf("expected store failure to propagate")
	}
}
