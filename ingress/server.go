package ingress

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Server exposes the ingress HTTP surface: webhook intake, cron enqueue,
// event inspection, and health. Every authenticated rejection happens before
// an event row is created.
type Server struct {
	events core.EventStore
	runs   core.ActionRunStore
	cfg    core.IngressConfig
	burst  *BurstGate
	logger core.Logger
}

func NewServer(events core.EventStore, runs core.ActionRunStore, cfg core.IngressConfig, logger core.Logger) (*Server, error) {
	if events == nil {
		return nil, fmt.Errorf("ingress: event store is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("ingress: action run store is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = core.DefaultConfig().Ingress.MaxBodyBytes
	}
	return &Server{
		events: events,
		runs:   runs,
		cfg:    cfg,
		burst: NewBurstGate(BurstOptions{
			Mode:   NormalizeBurstMode(cfg.BurstMode),
			Window: time.Duration(cfg.BurstWindowSeconds * float64(time.Second)),
		}),
		logger: glog.Ensure(logger),
	}, nil
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/events/{eventID}", s.handleGetEvent)
	r.Post("/cron/enqueue", s.handleCronEnqueue)
	r.Post("/webhook/{agent}", s.handleWebhook)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r, s.cfg.IngressSecret, "X-Ingress-Secret") {
		return
	}

	agent := strings.Trim(chi.URLParam(r, "agent"), "/")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent name required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) == 0 || int64(len(body)) > s.cfg.MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large or empty")
		return
	}

	// Signature checks are per-header: a configured secret only rejects
	// deliveries that actually carry the matching signature header.
	if s.cfg.WebhookSecret != "" {
		if sig := r.Header.Get("X-Signature"); sig != "" && !VerifySignature(s.cfg.WebhookSecret, body, sig) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}
	if s.cfg.FirefliesWebhookSecret != "" {
		if sig := r.Header.Get("X-Hub-Signature"); sig != "" && !VerifySignature(s.cfg.FirefliesWebhookSecret, body, sig) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	headers := map[string]string{}
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	contentType := strings.ToLower(r.Header.Get("Content-Type"))

	payload := map[string]any{
		"agent_name":   agent,
		"method":       r.Method,
		"path":         r.URL.Path,
		"content_type": contentType,
		"headers":      headers,
	}

	var jsonBody map[string]any
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			payload["parse_error"] = "invalid_json"
			payload["raw_body_base64"] = base64.StdEncoding.EncodeToString(body)
		} else if object, ok := parsed.(map[string]any); ok {
			jsonBody = object
			payload["json"] = jsonBody
		} else {
			payload["json"] = map[string]any{"_non_object_json": true}
		}
	} else {
		payload["raw_body_base64"] = base64.StdEncoding.EncodeToString(body)
	}

	eventID := DeriveEventID(headers, jsonBody, body)
	if suppressed, mode := s.burst.Suppress(agent, eventID); suppressed {
		s.logger.Info("webhook burst suppressed",
			"agent", agent,
			"event_id", eventID,
			"mode", string(mode),
		)
		if mode == BurstModeDebounce {
			writeError(w, http.StatusTooManyRequests, "debounced")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"status": "coalesced",
		})
		return
	}
	receipt, err := s.events.Enqueue(r.Context(), "webhook", eventID, payload)
	if err != nil {
		s.logger.Error("enqueue webhook event", "agent", agent, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	status := "queued"
	if receipt.AlreadyExists {
		status = "duplicate"
	}
	s.logger.Info("webhook accepted",
		"agent", agent,
		"event", receipt.ID,
		"event_id", eventID,
		"status", status,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": status,
		"row_id": receipt.ID,
	})
}

func (s *Server) handleCronEnqueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r, s.cfg.IngressSecret, "X-Ingress-Secret") {
		return
	}
	if !s.requireSecret(w, r, s.cfg.CronSecret, "X-Cron-Secret") {
		return
	}

	job := strings.TrimSpace(r.URL.Query().Get("job"))
	if job == "" {
		writeError(w, http.StatusBadRequest, "missing job")
		return
	}

	receipt, err := s.events.Enqueue(r.Context(), "cron", "", map[string]any{
		"job":         job,
		"source_hint": "cron",
	})
	if err != nil {
		s.logger.Error("enqueue cron event", "job", job, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.logger.Info("cron job queued", "job", job, "event", receipt.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": "queued",
		"row_id": receipt.ID,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireSecret(w, r, s.cfg.AdminSecret, "X-Admin-Secret") {
		return
	}

	raw := strings.TrimSpace(chi.URLParam(r, "eventID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := s.events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	runs, err := s.runs.ListRunsForEvent(r.Context(), id, 10)
	if err != nil {
		s.logger.Error("list action runs", "event", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	runDocs := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		runDocs = append(runDocs, runDocument(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"event":       eventDocument(event),
		"action_runs": runDocs,
	})
}

// requireSecret enforces a shared-secret header when the secret is
// configured. An empty secret disables the check.
func (s *Server) requireSecret(w http.ResponseWriter, r *http.Request, secret, headerName string) bool {
	if secret == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get(headerName))
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func eventDocument(event core.Event) map[string]any {
	return map[string]any{
		"id":              event.ID,
		"source":          event.Source,
		"event_id":        emptyToNil(event.EventID),
		"received_at":     timestamp(&event.ReceivedAt),
		"status":          string(event.Status),
		"attempt_count":   event.AttemptCount,
		"next_attempt_at": timestamp(&event.NextAttemptAt),
		"processed_at":    timestamp(event.ProcessedAt),
		"payload":         event.Payload,
		"result":          event.Result,
		"last_error":      emptyToNil(event.LastError),
	}
}

func runDocument(run core.ActionRun) map[string]any {
	return map[string]any{
		"id":             run.ID,
		"event_row_id":   run.EventRowID,
		"started_at":     timestamp(&run.StartedAt),
		"finished_at":    timestamp(run.FinishedAt),
		"status":         string(run.Status),
		"provider":       emptyToNil(run.Provider),
		"action":         run.Action,
		"handler_mode":   emptyToNil(string(run.HandlerMode)),
		"handler_target": emptyToNil(run.HandlerTarget),
		"input":          run.Input,
		"output":         run.Output,
		"error":          emptyToNil(run.Error),
	}
}

func emptyToNil(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func timestamp(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, doc map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
