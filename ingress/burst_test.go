package ingress

import (
	"testing"
	"time"
)

func TestBurstGate_SuppressesRepeatsInsideWindow(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate := NewBurstGate(BurstOptions{
		Mode:   BurstModeCoalesce,
		Window: 2 * time.Second,
		Now:    func() time.Time { return clock },
	})

	if suppressed, _ := gate.Suppress("email-agent", "evt_1"); suppressed {
		t.Fatalf("first delivery must pass")
	}
	suppressed, mode := gate.Suppress("email-agent", "evt_1")
	if !suppressed || mode != BurstModeCoalesce {
		t.Fatalf("expected repeat inside window to be suppressed, got %v/%s", suppressed, mode)
	}

	if suppressed, _ := gate.Suppress("other-agent", "evt_1"); suppressed {
		t.Fatalf("distinct agents must not share burst keys")
	}
	if suppressed, _ := gate.Suppress("email-agent", "evt_2"); suppressed {
		t.Fatalf("distinct event ids must not share burst keys")
	}

	clock = clock.Add(3 * time.Second)
	if suppressed, _ := gate.Suppress("email-agent", "evt_1"); suppressed {
		t.Fatalf("expected window expiry to re-admit the delivery")
	}
}

func TestBurstGate_AnonymousDeliveriesPass(t *testing.T) {
	gate := NewBurstGate(BurstOptions{Mode: BurstModeDebounce, Window: time.Minute})

	for i := 0; i < 3; i++ {
		if suppressed, _ := gate.Suppress("email-agent", ""); suppressed {
			t.Fatalf("deliveries without an event id must never be suppressed")
		}
	}
}

func TestBurstGate_DisabledModesPassEverything(t *testing.T) {
	var nilGate *BurstGate
	if suppressed, _ := nilGate.Suppress("a", "evt"); suppressed {
		t.Fatalf("nil gate must pass")
	}

	gate := NewBurstGate(BurstOptions{Mode: BurstModeNone, Window: time.Minute})
	gate.Suppress("a", "evt")
	if suppressed, _ := gate.Suppress("a", "evt"); suppressed {
		t.Fatalf("mode none must pass repeats")
	}
}

func TestNormalizeBurstMode(t *testing.T) {
	cases := map[string]BurstMode{
		"":          BurstModeNone,
		"none":      BurstModeNone,
		" Coalesce": BurstModeCoalesce,
		"DEBOUNCE":  BurstModeDebounce,
		"throttle":  BurstModeNone,
	}
	for raw, want := range cases {
		if got := NormalizeBurstMode(raw); got != want {
			t.Fatalf("NormalizeBurstMode(%q) = %s, expected %s", raw, got, want)
		}
	}
}
