package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type recordingEventStore struct {
	nextID   int64
	byKey    map[string]int64
	enqueued []enqueuedEvent
	events   map[int64]core.Event
}

type enqueuedEvent struct {
	source  string
	eventID string
	payload map[string]any
}

func newRecordingEventStore() *recordingEventStore {
	return &recordingEventStore{nextID: 1, byKey: map[string]int64{}, events: map[int64]core.Event{}}
}

func (s *recordingEventStore) Enqueue(ctx context.Context, source, eventID string, payload map[string]any) (core.EnqueueReceipt, error) {
	if eventID != "" {
		if existing, ok := s.byKey[source+"\x00"+eventID]; ok {
			return core.EnqueueReceipt{ID: existing, AlreadyExists: true}, nil
		}
	}
	id := s.nextID
	s.nextID++
	if eventID != "" {
		s.byKey[source+"\x00"+eventID] = id
	}
	s.enqueued = append(s.enqueued, enqueuedEvent{source: source, eventID: eventID, payload: payload})
	s.events[id] = core.Event{ID: id, Source: source, EventID: eventID, Status: core.EventStatusPending, Payload: payload, ReceivedAt: time.Now()}
	return core.EnqueueReceipt{ID: id}, nil
}

func (s *recordingEventStore) ClaimNext(ctx context.Context) (*core.Event, error) { return nil, nil }
func (s *recordingEventStore) MarkDone(ctx context.Context, id int64, result map[string]any) error {
	return nil
}
func (s *recordingEventStore) MarkRetry(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, cause string) error {
	return nil
}
func (s *recordingEventStore) MarkError(ctx context.Context, id int64, attemptCount int, cause string) error {
	return nil
}
func (s *recordingEventStore) GetEvent(ctx context.Context, id int64) (core.Event, error) {
	event, ok := s.events[id]
	if !ok {
		return core.Event{}, errors.New("event not found")
	}
	return event, nil
}
func (s *recordingEventStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type staticRunStore struct {
	runs []core.ActionRun
}

func (s *staticRunStore) CreateRun(ctx context.Context, in core.CreateActionRunInput) (int64, error) {
	return 0, errors.New("not implemented")
}
func (s *staticRunStore) GetRun(ctx context.Context, runID int64) (core.ActionRun, error) {
	return core.ActionRun{}, fmt.Errorf("run %d not found", runID)
}
func (s *staticRunStore) GetRunForEventAction(ctx context.Context, eventRowID int64, action string) (*core.ActionRun, error) {
	return nil, nil
}
func (s *staticRunStore) RestartRun(ctx context.Context, runID int64) error { return nil }
func (s *staticRunStore) FinishRun(ctx context.Context, runID int64, status core.ActionRunStatus, output map[string]any, cause string) error {
	return nil
}
func (s *staticRunStore) ListRunsForEvent(ctx context.Context, eventRowID int64, limit int) ([]core.ActionRun, error) {
	return s.runs, nil
}

func newTestServer(t *testing.T, cfg core.IngressConfig) (*Server, *recordingEventStore) {
	t.Helper()
	events := newRecordingEventStore()
	server, err := NewServer(events, &staticRunStore{}, cfg, nil)
	if err != nil {
		t.Fatalf("expected server, got error: %v", err)
	}
	return server, events
}

func postWebhook(handler http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return doc
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookEnqueuesJSONEnvelope(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024})
	body := []byte(`{"id":"evt_12345678","action":"push"}`)

	rec := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{
		"Content-Type":   "application/json",
		"X-GitHub-Event": "push",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	doc := decodeBody(t, rec)
	if doc["status"] != "queued" {
		t.Fatalf("expected queued, got %v", doc)
	}

	if len(events.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(events.enqueued))
	}
	got := events.enqueued[0]
	if got.source != "webhook" {
		t.Fatalf("expected webhook source, got %q", got.source)
	}
	if got.eventID != "evt_12345678" {
		t.Fatalf("expected body id dedup key, got %q", got.eventID)
	}
	if got.payload["agent_name"] != "github" {
		t.Fatalf("expected agent in envelope, got %v", got.payload["agent_name"])
	}
	headers, ok := got.payload["headers"].(map[string]string)
	if !ok || headers["x-github-event"] != "push" {
		t.Fatalf("expected lowercased headers, got %v", got.payload["headers"])
	}
	if _, ok := got.payload["json"].(map[string]any); !ok {
		t.Fatalf("expected parsed json body, got %v", got.payload["json"])
	}
}

func TestWebhookDuplicateDeliveryIsAccepted(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024})
	body := []byte(`{"id":"evt_12345678"}`)
	headers := map[string]string{"Content-Type": "application/json"}

	first := postWebhook(server.Handler(), "/webhook/github", body, headers)
	second := postWebhook(server.Handler(), "/webhook/github", body, headers)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if got := decodeBody(t, second)["status"]; got != "duplicate" {
		t.Fatalf("expected duplicate status, got %v", got)
	}
	if len(events.enqueued) != 1 {
		t.Fatalf("expected a single stored event, got %d", len(events.enqueued))
	}
}

func TestWebhookBurstCoalesceAnswersRepeatsWithoutEnqueue(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{
		MaxBodyBytes:       1024,
		BurstMode:          "coalesce",
		BurstWindowSeconds: 60,
	})
	body := []byte(`{"id":"evt_12345678"}`)
	headers := map[string]string{"Content-Type": "application/json"}

	first := postWebhook(server.Handler(), "/webhook/github", body, headers)
	if first.Code != http.StatusOK || decodeBody(t, first)["status"] != "queued" {
		t.Fatalf("expected first delivery to queue, got %d: %s", first.Code, first.Body.String())
	}

	second := postWebhook(server.Handler(), "/webhook/github", body, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for coalesced repeat, got %d", second.Code)
	}
	if got := decodeBody(t, second)["status"]; got != "coalesced" {
		t.Fatalf("expected coalesced status, got %v", got)
	}
	if len(events.enqueued) != 1 {
		t.Fatalf("coalesced repeat must not reach the store, got %d enqueues", len(events.enqueued))
	}
}

func TestWebhookBurstDebounceRejectsRapidRepeats(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{
		MaxBodyBytes:       1024,
		BurstMode:          "debounce",
		BurstWindowSeconds: 60,
	})
	body := []byte(`{"id":"evt_12345678"}`)
	headers := map[string]string{"Content-Type": "application/json"}

	if rec := postWebhook(server.Handler(), "/webhook/github", body, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected first delivery to pass, got %d", rec.Code)
	}
	repeat := postWebhook(server.Handler(), "/webhook/github", body, headers)
	if repeat.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for debounced repeat, got %d", repeat.Code)
	}
	if len(events.enqueued) != 1 {
		t.Fatalf("debounced repeat must not reach the store, got %d enqueues", len(events.enqueued))
	}
}

func TestWebhookRejectsInvalidSignatureOnlyWhenHeaderPresent(t *testing.T) {
	server, _ := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024, WebhookSecret: "s3cret"})
	body := []byte(`{"id":"evt_12345678"}`)

	// No signature header: the secret alone does not reject.
	ok := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{"Content-Type": "application/json"})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 without signature header, got %d", ok.Code)
	}

	bad := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{
		"Content-Type": "application/json",
		"X-Signature":  "sha256=" + sign("wrong", body),
	})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", bad.Code)
	}

	good := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{
		"Content-Type": "application/json",
		"X-Signature":  sign("s3cret", body),
	})
	if good.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", good.Code)
	}
}

func TestWebhookRequiresIngressSecret(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024, IngressSecret: "front-door"})
	body := []byte(`{"id":"evt_12345678"}`)

	denied := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{"Content-Type": "application/json"})
	if denied.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", denied.Code)
	}
	if len(events.enqueued) != 0 {
		t.Fatal("rejected delivery must not create an event")
	}

	allowed := postWebhook(server.Handler(), "/webhook/github", body, map[string]string{
		"Content-Type":     "application/json",
		"X-Ingress-Secret": "front-door",
	})
	if allowed.Code != http.StatusOK {
		t.Fatalf("expected 200 with secret, got %d", allowed.Code)
	}
}

func TestWebhookRejectsOversizedAndEmptyBodies(t *testing.T) {
	server, _ := newTestServer(t, core.IngressConfig{MaxBodyBytes: 16})

	big := postWebhook(server.Handler(), "/webhook/github", bytes.Repeat([]byte("a"), 32), nil)
	if big.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", big.Code)
	}
	empty := postWebhook(server.Handler(), "/webhook/github", nil, nil)
	if empty.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for empty body, got %d", empty.Code)
	}
}

func TestWebhookWrapsNonJSONBodies(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024})

	rec := postWebhook(server.Handler(), "/webhook/drop", []byte("plain text"), map[string]string{"Content-Type": "text/plain"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := events.enqueued[0].payload
	if _, ok := payload["raw_body_base64"].(string); !ok {
		t.Fatalf("expected base64 raw body, got %v", payload)
	}
	if _, ok := payload["json"]; ok {
		t.Fatal("non-JSON body must not carry a json document")
	}
}

func TestCronEnqueueRequiresJobAndSecrets(t *testing.T) {
	server, events := newTestServer(t, core.IngressConfig{MaxBodyBytes: 1024, CronSecret: "tick"})

	denied := postWebhook(server.Handler(), "/cron/enqueue?job=poll_inbox", nil, nil)
	if denied.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cron secret, got %d", denied.Code)
	}

	missing := postWebhook(server.Handler(), "/cron/enqueue", nil, map[string]string{"X-Cron-Secret": "tick"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without job, got %d", missing.Code)
	}

	ok := postWebhook(server.Handler(), "/cron/enqueue?job=poll_inbox", nil, map[string]string{"X-Cron-Secret": "tick"})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ok.Code, ok.Body.String())
	}
	got := events.enqueued[0]
	if got.source != "cron" || got.eventID != "" {
		t.Fatalf("expected cron source without dedup key, got %+v", got)
	}
	if got.payload["source_hint"] != "cron" {
		t.Fatalf("expected cron source hint, got %v", got.payload)
	}
}

func TestGetEventRequiresAdminSecretAndRendersRuns(t *testing.T) {
	events := newRecordingEventStore()
	finished := time.Now()
	runs := &staticRunStore{runs: []core.ActionRun{{
		ID: 7, EventRowID: 1, StartedAt: time.Now(), FinishedAt: &finished,
		Status: core.ActionRunStatusDone, Provider: "github", Action: "sync_repo",
		Output: map[string]any{"ok": true},
	}}}
	server, err := NewServer(events, runs, core.IngressConfig{MaxBodyBytes: 1024, AdminSecret: "admin"}, nil)
	if err != nil {
		t.Fatalf("expected server, got error: %v", err)
	}
	if _, err := events.Enqueue(context.Background(), "webhook", "evt_12345678", map[string]any{"x": 1}); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	handler := server.Handler()

	denied := httptest.NewRecorder()
	handler.ServeHTTP(denied, httptest.NewRequest(http.MethodGet, "/events/1", nil))
	if denied.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin secret, got %d", denied.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/events/1", nil)
	req.Header.Set("X-Admin-Secret", "admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	doc := decodeBody(t, rec)
	event, ok := doc["event"].(map[string]any)
	if !ok || event["source"] != "webhook" {
		t.Fatalf("expected event document, got %v", doc["event"])
	}
	runDocs, ok := doc["action_runs"].([]any)
	if !ok || len(runDocs) != 1 {
		t.Fatalf("expected one run document, got %v", doc["action_runs"])
	}

	req = httptest.NewRequest(http.MethodGet, "/events/99", nil)
	req.Header.Set("X-Admin-Secret", "admin")
	missing := httptest.NewRecorder()
	handler.ServeHTTP(missing, req)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event, got %d", missing.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/events/not-a-number", nil)
	req.Header.Set("X-Admin-Secret", "admin")
	invalid := httptest.NewRecorder()
	handler.ServeHTTP(invalid, req)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", invalid.Code)
	}
}
