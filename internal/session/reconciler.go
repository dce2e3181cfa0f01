package session

import (
	"sync"
	"time"

	"github.com/flashpay/pos-terminald/internal/stream"
	"github.com/flashpay/pos-terminald/pkg/clock"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

// Config contains reconciler grace-window tuning. The windows absorb event
// races around session teardown: some backends delete session state
// immediately on cancel, so closes and stragglers arrive in any order.
type Config struct {
	SeedGrace    time.Duration
	WaitingGrace time.Duration
	EndGrace     time.Duration
}

// EventSink receives every raw frame for durable journaling. Implementations
// must not fail loudly; *sqlite.EventJournal satisfies it.
type EventSink interface {
	Append(eventName, raw string)
}

// State is the reconciler's full read model. It is copied out on every read
// and notification; nested snapshots are replaced wholesale and never
// mutated in place, so the shallow copy is safe to hold.
type State struct {
	ConnectionStatus stream.Status `json:"connection_status"`
	Ticket           string        `json:"ticket,omitempty"`
	TerminalMeta     *TerminalMeta `json:"terminal_meta,omitempty"`
	ActiveSessionID  string        `json:"active_session_id,omitempty"`
	ActiveSession    *Snapshot     `json:"active_session,omitempty"`
	LastEvent        *LastEvent    `json:"last_event,omitempty"`
	EndMemory        *EndMemory    `json:"end_memory,omitempty"`
}

// Observer receives the new state after each atomic transition
type Observer func(State)

// Reconciler folds the unordered, at-least-once event feed into the single
// authoritative session snapshot. It is the only writer of that state;
// everything downstream (HTTP API, websocket push) reads through it.
type Reconciler struct {
	cfg     Config
	manager *stream.Manager
	journal EventSink
	clock   clock.Clock
	logger  *logger.Logger

	mu        sync.Mutex
	started   bool
	sub       *stream.Subscription
	state     State
	seedTime  time.Time
	clearTime time.Time
	clearedID string

	observers    []registeredObserver
	nextObserver int
}

type registeredObserver struct {
	id int
	fn Observer
}

// NewReconciler creates a new session state reconciler
func NewReconciler(cfg Config, manager *stream.Manager, journal EventSink, clk clock.Clock, log *logger.Logger) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		manager: manager,
		journal: journal,
		clock:   clk,
		logger:  log.Named("session-reconciler"),
		state:   State{ConnectionStatus: stream.StatusIdle},
	}
}

// Start begins consuming the terminal event feed. Idempotent.
func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.logger.Info("Starting session reconciler")

	sub := r.manager.Subscribe(stream.Handlers{
		OnStatus:    r.onStatus,
		OnEvent:     r.onEvent,
		OnError:     r.onStreamError,
		OnReconnect: r.onReconnect,
	})

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
}

// Stop tears the stream subscription down and resets all reconciler state to
// initial values. A subsequent Start begins a fresh subscription with fresh
// state. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	sub := r.sub
	r.sub = nil
	r.state = State{ConnectionStatus: stream.StatusIdle}
	r.seedTime = time.Time{}
	r.clearTime = time.Time{}
	r.clearedID = ""
	r.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}

	r.logger.Info("Session reconciler stopped")
	r.notify()
}

// Snapshot returns a copy of the current state
func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe registers an observer and returns its unsubscribe function.
// Observers are notified synchronously, in registration order, after each
// state transition.
func (r *Reconciler) Subscribe(fn Observer) func() {
	r.mu.Lock()
	id := r.nextObserver
	r.nextObserver++
	r.observers = append(r.observers, registeredObserver{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, obs := range r.observers {
			if obs.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Reconciler) onStatus(status stream.Status) {
	r.mu.Lock()
	r.state.ConnectionStatus = status
	if r.sub != nil {
		r.state.Ticket = r.sub.Ticket()
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Reconciler) onStreamError(err error) {
	r.logger.Warn("Stream error", logger.Error(err))
}

func (r *Reconciler) onReconnect(info stream.ReconnectInfo) {
	r.logger.Info("Stream reconnecting",
		logger.Int("attempt", info.Attempt),
		logger.Duration("delay", info.Delay),
		logger.String("reason", string(info.Reason)))
}

// onEvent journals the frame and folds it into the state
func (r *Reconciler) onEvent(ev stream.RawEvent) {
	if r.journal != nil {
		r.journal.Append(ev.Name, ev.Raw)
	}

	r.handleEvent(ev)
}

// handleEvent applies one raw event atomically and notifies observers once.
// Stale and conflicting events are dropped silently; that is reconciliation
// working as intended, not a failure.
func (r *Reconciler) handleEvent(ev stream.RawEvent) {
	now := r.clock.Now()

	r.mu.Lock()
	r.state.LastEvent = &LastEvent{
		Name:       ev.Name,
		Payload:    ev.Payload,
		Raw:        ev.Raw,
		ReceivedAt: now,
	}

	switch ev.Name {
	case stream.EventTerminalState:
		// Metadata only. Never touches the active session.
		if meta := decodeTerminalState(ev.Payload); meta != nil {
			r.state.TerminalMeta = meta
		}

	case stream.EventCurrentSession:
		snap, ok := decodeCurrentSession(ev.Payload)
		if ok {
			r.setActiveLocked(snap, now)
			if snap != nil {
				r.seedTime = now
			}
		}

	case stream.EventSessionCreated:
		// A new session always wins over whatever was active.
		if snap := decodeSessionEvent(ev.Payload); snap != nil {
			r.setActiveLocked(snap, now)
			r.seedTime = now
		}

	case stream.EventSessionUpdated:
		if snap := decodeSessionEvent(ev.Payload); snap != nil {
			r.applyUpdateLocked(snap, now)
		}

	case stream.EventSessionClosed:
		r.applyClosedLocked(ev.Payload, now)
	}

	r.mu.Unlock()
	r.notify()
}

// applyUpdateLocked applies a session_updated snapshot per the late-event
// rules. Caller holds r.mu.
func (r *Reconciler) applyUpdateLocked(snap *Snapshot, now time.Time) {
	if r.state.ActiveSession != nil {
		if snap.SessionID == r.state.ActiveSessionID {
			r.setActiveLocked(snap, now)
		}
		// Updates for any other session are late stragglers; drop them.
		return
	}

	// No active session: adopt only recent updates, so a close racing with
	// stragglers does not make the session flap back into existence.
	if !r.seedTime.IsZero() && now.Sub(r.seedTime) <= r.cfg.SeedGrace {
		r.setActiveLocked(snap, now)
		return
	}

	if r.clearTime.IsZero() {
		return
	}
	sinceClear := now.Sub(r.clearTime)

	if snap.Status == StatusWaitingFace && sinceClear <= r.cfg.WaitingGrace {
		r.setActiveLocked(snap, now)
		return
	}

	// A terminal-status straggler for the session that was just cleared
	// still carries the end reason the close event may have omitted.
	if snap.SessionID == r.clearedID && isTerminalStatus(snap.Status) && sinceClear <= r.cfg.EndGrace {
		r.state.EndMemory = &EndMemory{
			SessionID:      snap.SessionID,
			TerminalStatus: snap.Status,
		}
	}
}

// applyClosedLocked handles a session_closed event. Caller holds r.mu.
func (r *Reconciler) applyClosedLocked(payload interface{}, now time.Time) {
	closedID, status := decodeSessionClosed(payload)
	if closedID == "" {
		return
	}

	if status == "" && r.state.ActiveSession != nil && r.state.ActiveSessionID == closedID {
		status = r.state.ActiveSession.Status
	}
	r.state.EndMemory = &EndMemory{
		SessionID:      closedID,
		TerminalStatus: status,
	}

	if r.state.ActiveSession != nil && r.state.ActiveSessionID == closedID {
		r.setActiveLocked(nil, now)
	}
}

// setActiveLocked replaces the active snapshot wholesale. Clearing a live
// session records when and which session was cleared for the grace windows.
// Caller holds r.mu.
func (r *Reconciler) setActiveLocked(snap *Snapshot, now time.Time) {
	if snap == nil {
		if r.state.ActiveSession != nil {
			r.clearedID = r.state.ActiveSessionID
			r.clearTime = now
		}
		r.state.ActiveSession = nil
		r.state.ActiveSessionID = ""
		return
	}

	r.state.ActiveSession = snap
	r.state.ActiveSessionID = snap.SessionID
}

// notify delivers the current state to every observer, in order
func (r *Reconciler) notify() {
	r.mu.Lock()
	state := r.state
	observers := make([]registeredObserver, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, obs := range observers {
		obs.fn(state)
	}
}
