package classifier

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

const classifySystemPrompt = "You are a webhook payload classifier.\n" +
	"Given an arbitrary webhook payload summary, identify which provider/service likely sent it.\n" +
	"Return ONLY the JSON required by the schema.\n" +
	"If unsure, use provider='unknown' and low confidence.\n" +
	"If you can identify an event type (like 'invoice.paid') and where it lives in the JSON body, fill event_type and event_type_path.\n" +
	"Paths are dot-separated within the JSON body (e.g. 'type', 'event.type')."

// classifySchema constrains the structured LLM output to the classification
// document shape; every field is required so absent values come back null.
var classifySchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"provider":        map[string]any{"type": "string"},
		"confidence":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"event_type":      map[string]any{"type": []any{"string", "null"}},
		"event_type_path": map[string]any{"type": []any{"string", "null"}},
		"event_id":        map[string]any{"type": []any{"string", "null"}},
		"event_id_path":   map[string]any{"type": []any{"string", "null"}},
		"notes":           map[string]any{"type": "string"},
	},
	"required": []any{"provider", "confidence", "event_type", "event_type_path", "event_id", "event_id_path", "notes"},
}

// Classifier asks a structured LLM client to identify a payload's provider.
type Classifier struct {
	client core.StructuredClient
	logger core.Logger
}

func New(client core.StructuredClient, logger core.Logger) (*Classifier, error) {
	if client == nil {
		return nil, fmt.Errorf("classifier: structured client is required")
	}
	return &Classifier{client: client, logger: glog.Ensure(logger)}, nil
}

func (c *Classifier) Classify(ctx context.Context, payload map[string]any) (core.Classification, error) {
	if c == nil || c.client == nil {
		return core.Classification{}, fmt.Errorf("classifier: classifier is not configured")
	}

	prompt, err := json.Marshal(map[string]any{
		"task":            "classify_webhook_provider",
		"payload_summary": SummarizePayload(payload),
	})
	if err != nil {
		return core.Classification{}, fmt.Errorf("classifier: encode payload summary: %w", err)
	}

	doc, err := c.client.GenerateStructured(ctx, classifySystemPrompt, string(prompt), classifySchema)
	if err != nil {
		return core.Classification{}, fmt.Errorf("classifier: classify payload: %w", err)
	}

	classification := classificationFromDocument(doc)
	c.logger.Debug("payload classified",
		"provider", classification.Provider,
		"confidence", classification.Confidence,
		"event_type", classification.EventType,
	)
	return classification, nil
}

func classificationFromDocument(doc map[string]any) core.Classification {
	classification := core.Classification{
		Provider:      strings.ToLower(strings.TrimSpace(docString(doc, "provider"))),
		EventType:     docString(doc, "event_type"),
		EventTypePath: docString(doc, "event_type_path"),
		EventID:       docString(doc, "event_id"),
		EventIDPath:   docString(doc, "event_id_path"),
		Notes:         docString(doc, "notes"),
	}
	if classification.Provider == "" {
		classification.Provider = core.ProviderUnknown
	}
	if confidence, ok := doc["confidence"].(float64); ok {
		switch {
		case confidence < 0:
			classification.Confidence = 0
		case confidence > 1:
			classification.Confidence = 1
		default:
			classification.Confidence = confidence
		}
	}
	return classification
}

func docString(doc map[string]any, key string) string {
	if value, ok := doc[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

var _ core.Classifier = (*Classifier)(nil)
