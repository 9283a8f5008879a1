package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

// Router composes provider detection, rule evaluation, and the optional AI
// classifier into one routing decision. Rule and mapping state is read
// through an explicit store handle; Router holds no mutable state of its own.
type Router struct {
	Rules      core.RuleStore
	Classifier core.Classifier
	// UseClassifier gates the AI fallback; the classifier is only consulted
	// when detection confidence is below ClassifierThreshold.
	UseClassifier       bool
	ClassifierThreshold float64
	ClassifierTimeout   time.Duration
}

func New(rules core.RuleStore, opts ...Option) (*Router, error) {
	if rules == nil {
		return nil, fmt.Errorf("router: rule store is required")
	}
	r := &Router{
		Rules:               rules,
		ClassifierThreshold: 0.65,
		ClassifierTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

type Option func(*Router)

func WithClassifier(classifier core.Classifier, threshold float64) Option {
	return func(r *Router) {
		r.Classifier = classifier
		r.UseClassifier = classifier != nil
		if threshold > 0 {
			r.ClassifierThreshold = threshold
		}
	}
}

func WithClassifierTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		if timeout > 0 {
			r.ClassifierTimeout = timeout
		}
	}
}

// chooseProvider runs the detector and arbitrates against a caller hint.
// The hint wins only when its fixed confidence beats the detector's own.
func chooseProvider(payload map[string]any) core.Detection {
	detection := DetectProvider(payload)
	if hint, hintConf := SourceHint(payload); hint != "" && hintConf > detection.Confidence {
		return core.Detection{Provider: hint, Confidence: hintConf, Signals: []string{"path:source_hint"}}
	}
	return detection
}

// Route resolves one payload. The decision is a pure function of the payload
// and the committed rule/mapping state; re-running it on redelivery is safe.
func (r *Router) Route(ctx context.Context, payload map[string]any) (core.RouteDecision, error) {
	if r == nil || r.Rules == nil {
		return core.RouteDecision{}, fmt.Errorf("router: rule store is required")
	}

	detection := chooseProvider(payload)
	reasons := append([]string(nil), detection.Signals...)

	var classification *core.Classification
	eventType := ""
	if r.UseClassifier && r.Classifier != nil && detection.Confidence < r.ClassifierThreshold {
		classifyCtx := ctx
		if r.ClassifierTimeout > 0 {
			var cancel context.CancelFunc
			classifyCtx, cancel = context.WithTimeout(ctx, r.ClassifierTimeout)
			defer cancel()
		}
		out, err := r.Classifier.Classify(classifyCtx, payload)
		if err != nil {
			// Classifier failure is a routing reason, never a routing error.
			reasons = append(reasons, "ai:error:"+strings.TrimSpace(err.Error()))
		} else {
			classification = &out
			provider := strings.ToLower(strings.TrimSpace(out.Provider))
			if provider != "" && provider != core.ProviderUnknown && out.Confidence >= detection.Confidence {
				reasons = append(reasons, "ai:provider_override")
				detection = core.Detection{
					Provider:   provider,
					Confidence: out.Confidence,
					Signals:    append(append([]string(nil), detection.Signals...), "ai:detected"),
				}
			}
			eventType = strings.TrimSpace(out.EventType)
		}
	}

	decision := core.RouteDecision{
		Provider:       detection.Provider,
		Confidence:     detection.Confidence,
		Detection:      detection,
		Classification: classification,
		EventType:      eventType,
		Reasons:        reasons,
	}

	provider := detection.Provider
	if provider == "" {
		return decision, nil
	}

	rules, err := r.Rules.ListRules(ctx, provider)
	if err != nil {
		return core.RouteDecision{}, err
	}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		match := EvaluateConditions(payload, rule.Conditions)
		if !match.Matched {
			continue
		}
		decision.Reasons = append(decision.Reasons, "rule:"+rule.Name)
		decision.Reasons = append(decision.Reasons, match.Reasons...)
		decision.MatchedRule = rule.Name
		decision.Action = rule.Action
		decision.HandlerMode = rule.HandlerMode
		decision.HandlerTarget = rule.HandlerTarget
		return decision, nil
	}

	mapping, err := r.Rules.GetMapping(ctx, provider)
	if err != nil {
		return core.RouteDecision{}, err
	}
	if mapping != nil && mapping.Enabled {
		decision.Reasons = append(decision.Reasons, "fallback:provider_mapping")
		decision.Action = mapping.Action
		decision.HandlerMode = mapping.HandlerMode
		decision.HandlerTarget = mapping.HandlerTarget
		return decision, nil
	}

	return decision, nil
}
