// Package tracker is the stateful filter that carries match context across
// the events of a session and enriches gameplay events with it.
package tracker

import (
	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/config"
	"github.com/gametrace/uplog/pkg/parser"
)

// State is the tracker's lifecycle state.
type State int

const (
	// Idle means no active session context.
	Idle State = iota

	// InSession means a match context is established.
	InSession
)

// MatchContext holds the identifiers that scope a sequence of gameplay
// events until an end-of-session marker. Exactly one is active at a time.
type MatchContext struct {
	SessionID  string `json:"sessionId"`
	MatchID    string `json:"matchId,omitempty"`
	GameNumber int    `json:"gameNumber,omitempty"`
	Seat       int    `json:"seat,omitempty"`
}

// EnrichedEvent is a ParsedEvent joined with the MatchContext active when
// it was parsed. Context is nil only for pre-match events.
type EnrichedEvent struct {
	Event   parser.ParsedEvent
	Context *MatchContext
}

// Tracker recognizes session lifecycle events and enriches the rest.
// It is driven by the polling loop only and is not safe for concurrent use.
type Tracker struct {
	state State
	ctx   *MatchContext
	log   *logging.Logger
}

// New creates a Tracker in the Idle state.
func New(log *logging.Logger) *Tracker {
	return &Tracker{log: log}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return t.state
}

// Context returns the active match context, or nil when Idle.
func (t *Tracker) Context() *MatchContext {
	return t.ctx
}

// Reset clears any active context. Called when the tailer detects
// truncation or rotation, since the log no longer supports the context.
func (t *Tracker) Reset() {
	if t.state == InSession {
		t.log.Warnf("clearing session context for %s after log reset", t.ctx.SessionID)
	}
	t.state = Idle
	t.ctx = nil
}

// Track feeds one parsed event through the state machine. It returns the
// enriched event and true when the event should be forwarded for delivery.
func (t *Tracker) Track(ev parser.ParsedEvent) (EnrichedEvent, bool) {
	switch ev.Role {
	case config.RoleSession:
		if t.state == InSession {
			// A new session without a clean end (e.g. after client
			// restart) must not leave stale context in place.
			t.log.Warnf("new session observed while in session %s, replacing context", t.ctx.SessionID)
		}
		t.ctx = contextFromPayload(ev.Payload)
		t.state = InSession
		t.log.Infof("session %s started (match %s)", t.ctx.SessionID, t.ctx.MatchID)
		return EnrichedEvent{}, false

	case config.RoleGameStart:
		if t.state == InSession {
			if n, ok := intField(ev.Payload, "gameNumber"); ok {
				t.ctx.GameNumber = n
			} else {
				t.ctx.GameNumber++
			}
		}
		return t.enrich(ev)

	case config.RoleGameEnd, config.RoleGameplay:
		return t.enrich(ev)

	case config.RoleMatchEnd:
		if t.state != InSession {
			t.log.Debugf("match end with no active session, dropping seq %d", ev.Seq)
			return EnrichedEvent{}, false
		}
		enriched, _ := t.enrich(ev)
		t.log.Infof("session %s ended", t.ctx.SessionID)
		t.state = Idle
		t.ctx = nil
		return enriched, true

	default:
		// Kinds outside the taxonomy never reach the tracker; an
		// unmapped role in config would land here.
		return EnrichedEvent{}, false
	}
}

// enrich attaches a snapshot of the active context. Pre-match events pass
// through with a nil context.
func (t *Tracker) enrich(ev parser.ParsedEvent) (EnrichedEvent, bool) {
	if t.state != InSession {
		return EnrichedEvent{Event: ev}, true
	}

	snapshot := *t.ctx
	return EnrichedEvent{Event: ev, Context: &snapshot}, true
}

func contextFromPayload(payload map[string]any) *MatchContext {
	ctx := &MatchContext{}
	if v, ok := stringField(payload, "sessionId"); ok {
		ctx.SessionID = v
	}
	if v, ok := stringField(payload, "matchId"); ok {
		ctx.MatchID = v
	}
	if v, ok := intField(payload, "seatId"); ok {
		ctx.Seat = v
	}
	return ctx
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok
}

func intField(payload map[string]any, key string) (int, bool) {
	// JSON numbers decode as float64.
	if v, ok := payload[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}
