package ingress

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveEventID produces the deduplication key for one delivery. The sources
// are tried in fixed preference order; the ordering decides which
// redeliveries collapse onto the same event row:
//  1. explicit x-event-id idempotency header
//  2. x-github-delivery provider delivery id
//  3. a JSON body "id" of at least 8 characters
//  4. a Fireflies clientReferenceId of at least 4 characters
//  5. the Fireflies (meetingId, eventType) composite
//  6. a SHA-256 of the raw body as the last resort
func DeriveEventID(headers map[string]string, jsonBody map[string]any, rawBody []byte) string {
	if id := strings.TrimSpace(headers["x-event-id"]); id != "" {
		return id
	}
	if id := strings.TrimSpace(headers["x-github-delivery"]); id != "" {
		return id
	}

	if jsonBody != nil {
		if id, ok := jsonBody["id"].(string); ok && len(strings.TrimSpace(id)) >= 8 {
			return id
		}
		if ref, ok := jsonBody["clientReferenceId"].(string); ok && len(strings.TrimSpace(ref)) >= 4 {
			return "fireflies_ref:" + strings.TrimSpace(ref)
		}
		meetingID, _ := jsonBody["meetingId"].(string)
		eventType, _ := jsonBody["eventType"].(string)
		if strings.TrimSpace(meetingID) != "" && strings.TrimSpace(eventType) != "" {
			return "fireflies:" + strings.TrimSpace(meetingID) + ":" + strings.TrimSpace(eventType)
		}
	}

	sum := sha256.Sum256(rawBody)
	return "sha256:" + hex.EncodeToString(sum[:])
}
