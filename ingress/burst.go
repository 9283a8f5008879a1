package ingress

import (
	"strings"
	"sync"
	"time"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
	BurstModeDebounce BurstMode = "debounce"
)

// BurstGate suppresses rapid redeliveries of the same webhook before they
// reach the queue. Providers that retry aggressively, or fan the same event
// across multiple endpoints, otherwise hammer the dedup index with inserts
// that all collapse to one row anyway.
//
// The gate is purely in-memory and per-process; the durable dedup on
// (source, event_id) remains the source of truth.
type BurstGate struct {
	mode    BurstMode
	window  time.Duration
	maxKeys int
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

type BurstOptions struct {
	Mode    BurstMode
	Window  time.Duration
	MaxKeys int
	Now     func() time.Time
}

func NewBurstGate(opts BurstOptions) *BurstGate {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &BurstGate{
		mode:    NormalizeBurstMode(string(opts.Mode)),
		window:  window,
		maxKeys: maxKeys,
		now:     now,
		seen:    map[string]time.Time{},
	}
}

// Suppress reports whether a delivery for (agent, eventID) arriving now falls
// inside the burst window of a previous one. Deliveries without a derived
// event id are never suppressed; they carry no identity to coalesce on.
func (g *BurstGate) Suppress(agent, eventID string) (bool, BurstMode) {
	if g == nil || g.mode == BurstModeNone {
		return false, BurstModeNone
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, g.mode
	}
	key := strings.ToLower(strings.TrimSpace(agent)) + ":" + eventID

	now := g.now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	lastSeen, exists := g.seen[key]
	g.seen[key] = now
	g.cleanup(now)
	if !exists || now.Sub(lastSeen) >= g.window {
		return false, g.mode
	}
	return true, g.mode
}

func (g *BurstGate) cleanup(now time.Time) {
	if len(g.seen) <= g.maxKeys {
		for key, seenAt := range g.seen {
			if now.Sub(seenAt) > g.window*4 {
				delete(g.seen, key)
			}
		}
		return
	}
	for key, seenAt := range g.seen {
		if now.Sub(seenAt) > g.window {
			delete(g.seen, key)
		}
		if len(g.seen) <= g.maxKeys {
			break
		}
	}
}

func NormalizeBurstMode(mode string) BurstMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	case string(BurstModeDebounce):
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}
