package classifier

import (
	"sort"

	json "github.com/goccy/go-json"
	"github.com/goliatone/go-dispatch/router"
)

const (
	maxSummaryJSONChars = 20000
	maxListedNames      = 200
)

// interestingHeaders is the allowlist of header names forwarded verbatim in
// a payload summary. Everything else contributes only its name.
var interestingHeaders = map[string]struct{}{
	"x-github-event":     {},
	"x-github-delivery":  {},
	"stripe-signature":   {},
	"x-shopify-topic":    {},
	"x-slack-signature":  {},
	"x-twilio-signature": {},
	"content-type":       {},
	"user-agent":         {},
}

// SummarizePayload condenses a stored payload envelope for classification:
// allowlisted headers plus the full set of header names, the request path
// and content type, a size-capped body, and the body's top-level keys.
func SummarizePayload(payload map[string]any) map[string]any {
	headers := router.LowerHeaders(payload["headers"])
	headersOut := map[string]any{}
	names := make([]string, 0, len(headers))
	for name, value := range headers {
		names = append(names, name)
		if _, ok := interestingHeaders[name]; ok {
			headersOut[name] = value
		}
	}
	sort.Strings(names)
	if len(names) > maxListedNames {
		names = names[:maxListedNames]
	}
	headersOut["__all_header_names__"] = names

	summary := map[string]any{
		"source_hint":  payload["source_hint"],
		"path":         payload["path"],
		"content_type": payload["content_type"],
		"headers":      headersOut,
	}

	if body, ok := payload["json"].(map[string]any); ok {
		summary["json"] = truncateJSON(body)
		keys := make([]string, 0, len(body))
		for key := range body {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) > maxListedNames {
			keys = keys[:maxListedNames]
		}
		summary["json_top_level_keys"] = keys
	}
	return summary
}

// truncateJSON returns the value unchanged when its encoding fits the size
// cap, otherwise a marker document carrying the truncated text.
func truncateJSON(value any) any {
	encoded, err := json.Marshal(value)
	if err != nil {
		return map[string]any{"note": "unserializable"}
	}
	if len(encoded) <= maxSummaryJSONChars {
		return value
	}
	return map[string]any{
		"truncated_json":  string(encoded[:maxSummaryJSONChars]),
		"original_length": len(encoded),
	}
}
