package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goliatone/go-dispatch/core"
)

var slackTokenPattern = regexp.MustCompile(`(?i)slack`)

// LowerHeaders normalizes a payload's header map to lowercased names with
// stringified values. Nil-safe.
func LowerHeaders(raw any) map[string]string {
	lowered := map[string]string{}
	add := func(k string, v any) {
		key := strings.ToLower(strings.TrimSpace(k))
		if key != "" {
			lowered[key] = stringify(v)
		}
	}
	switch headers := raw.(type) {
	case map[string]any:
		for k, v := range headers {
			add(k, v)
		}
	case map[string]string:
		// Envelopes that have not round-tripped through JSON yet.
		for k, v := range headers {
			add(k, v)
		}
	}
	return lowered
}

func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

// DetectProvider classifies the origin of a payload. Signature headers are
// checked first in fixed priority order since they are provider-specific and
// hard to spoof by accident; body-shape heuristics follow; the result is
// always total, with (unknown, 0.2) as the floor. Never fails.
func DetectProvider(payload map[string]any) core.Detection {
	headers := LowerHeaders(payload["headers"])
	jsonBody, _ := payload["json"].(map[string]any)
	signals := []string{}

	// Fireflies webhooks use x-hub-signature (HMAC SHA-256) per their docs.
	if _, ok := headers["x-hub-signature"]; ok {
		signals = append(signals, "header:x-hub-signature")
		if jsonBody != nil {
			_, hasMeeting := jsonBody["meetingId"]
			_, hasEventType := jsonBody["eventType"]
			if hasMeeting && hasEventType {
				signals = append(signals, "json:fireflies_shape")
				return core.Detection{Provider: "fireflies", Confidence: 0.98, Signals: signals}
			}
		}
		return core.Detection{Provider: "fireflies", Confidence: 0.8, Signals: signals}
	}

	if _, ok := headers["stripe-signature"]; ok {
		signals = append(signals, "header:stripe-signature")
		return core.Detection{Provider: "stripe", Confidence: 0.98, Signals: signals}
	}

	_, hasGithubEvent := headers["x-github-event"]
	_, hasGithubDelivery := headers["x-github-delivery"]
	if hasGithubEvent || hasGithubDelivery {
		if hasGithubEvent {
			signals = append(signals, "header:x-github-event")
		}
		if hasGithubDelivery {
			signals = append(signals, "header:x-github-delivery")
		}
		return core.Detection{Provider: "github", Confidence: 0.98, Signals: signals}
	}

	if _, ok := headers["x-shopify-topic"]; ok {
		signals = append(signals, "header:x-shopify-topic")
		return core.Detection{Provider: "shopify", Confidence: 0.98, Signals: signals}
	}

	if _, ok := headers["x-slack-signature"]; ok {
		signals = append(signals, "header:x-slack-signature")
		return core.Detection{Provider: "slack", Confidence: 0.95, Signals: signals}
	}

	if _, ok := headers["x-twilio-signature"]; ok {
		signals = append(signals, "header:x-twilio-signature")
		return core.Detection{Provider: "twilio", Confidence: 0.95, Signals: signals}
	}

	if jsonBody != nil {
		if obj, _ := jsonBody["object"].(string); obj == "event" {
			_, hasType := jsonBody["type"]
			_, hasData := jsonBody["data"]
			if hasType && hasData {
				signals = append(signals, "json:stripe_event_shape")
				return core.Detection{Provider: "stripe", Confidence: 0.85, Signals: signals}
			}
		}

		_, hasZen := jsonBody["zen"]
		_, hasHookID := jsonBody["hook_id"]
		if hasZen && hasHookID {
			signals = append(signals, "json:github_ping_shape")
			return core.Detection{Provider: "github", Confidence: 0.75, Signals: signals}
		}

		if _, hasChallenge := jsonBody["challenge"]; hasChallenge {
			if token := stringify(jsonBody["token"]); slackTokenPattern.MatchString(token) {
				signals = append(signals, "json:slack_challenge_shape")
				return core.Detection{Provider: "slack", Confidence: 0.65, Signals: signals}
			}
		}
	}

	return core.Detection{Provider: core.ProviderUnknown, Confidence: core.UnknownConfidence, Signals: signals}
}

// SourceHint extracts a caller-asserted provider label from the payload.
// Hints carry a fixed confidence and never outrank a signature match.
func SourceHint(payload map[string]any) (string, float64) {
	hint, ok := payload["source_hint"]
	if !ok || hint == nil {
		return "", 0
	}
	label := strings.ToLower(strings.TrimSpace(stringify(hint)))
	if label == "" || label == core.ProviderUnknown || label == "test" {
		return "", 0
	}
	return label, core.SourceHintConfidence
}
