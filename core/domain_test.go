package core

import "testing"

func TestNormalizeHandlerMode(t *testing.T) {
	cases := []struct {
		raw  string
		mode HandlerMode
		ok   bool
	}{
		{"", HandlerModeNoop, true},
		{"none", HandlerModeNoop, true},
		{"NOOP", HandlerModeNoop, true},
		{" command ", HandlerModeCommand, true},
		{"Agent", HandlerModeAgent, true},
		{"llm", HandlerModeLLM, true},
		{"webhook", "", false},
	}
	for _, tc := range cases {
		mode, ok := NormalizeHandlerMode(tc.raw)
		if ok != tc.ok || mode != tc.mode {
			t.Fatalf("NormalizeHandlerMode(%q) = %q/%v, expected %q/%v", tc.raw, mode, ok, tc.mode, tc.ok)
		}
	}
}

func TestRouteDecision_HasAction(t *testing.T) {
	if (RouteDecision{}).HasAction() {
		t.Fatalf("empty decision must have no action")
	}
	if (RouteDecision{Action: "deploy"}).HasAction() {
		t.Fatalf("action without handler mode is not executable")
	}
	decision := RouteDecision{Action: "deploy", HandlerMode: HandlerModeCommand}
	if !decision.HasAction() {
		t.Fatalf("expected executable decision")
	}
}

func TestRouteDecision_Summary(t *testing.T) {
	decision := RouteDecision{
		Provider:    "github",
		Confidence:  0.98,
		MatchedRule: "deploy-main",
		Action:      "deploy",
		HandlerMode: HandlerModeCommand,
		Reasons:     []string{"header:x-github-event", "rule:deploy-main"},
		Classification: &Classification{
			Provider:   "github",
			Confidence: 0.9,
			EventType:  "push",
		},
	}

	summary := decision.Summary()
	if summary["provider"] != "github" {
		t.Fatalf("unexpected provider: %v", summary)
	}
	if summary["matched_rule"] != "deploy-main" {
		t.Fatalf("unexpected matched rule: %v", summary)
	}
	if summary["event_type"] != nil {
		t.Fatalf("expected empty event type to render as nil, got %v", summary["event_type"])
	}
	if summary["handler_target"] != nil {
		t.Fatalf("expected empty handler target to render as nil")
	}
	ai, ok := summary["ai_detection"].(map[string]any)
	if !ok || ai["event_type"] != "push" {
		t.Fatalf("expected ai detection block, got %v", summary["ai_detection"])
	}
}

func TestProcessOutcome_ResultDocument(t *testing.T) {
	outcome := ProcessOutcome{
		OK:      true,
		Source:  "webhook",
		EventID: "evt_12345678",
		Result:  map[string]any{"ok": true},
	}
	doc := outcome.ResultDocument()
	if doc["ok"] != true || doc["source"] != "webhook" {
		t.Fatalf("unexpected document: %v", doc)
	}
	if _, present := doc["idempotent_replay"]; present {
		t.Fatalf("replay marker must be absent on fresh runs")
	}
	if _, present := doc["router"]; !present {
		t.Fatalf("expected router snapshot in document")
	}

	replay := ProcessOutcome{OK: true, Source: "webhook", IdempotentReplay: true}
	if replay.ResultDocument()["idempotent_replay"] != true {
		t.Fatalf("expected replay marker")
	}

	noResult := ProcessOutcome{OK: true, Source: "cron"}
	if _, present := noResult.ResultDocument()["result"]; present {
		t.Fatalf("expected absent result key when no action ran")
	}
	if noResult.ResultDocument()["event_id"] != nil {
		t.Fatalf("expected empty event id to render as nil")
	}
}
