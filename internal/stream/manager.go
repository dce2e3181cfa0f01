package stream

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/flashpay/pos-terminald/internal/gateway"
	"github.com/flashpay/pos-terminald/pkg/clock"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

// TicketIssuer mints short-lived stream tickets. *gateway.Client satisfies it.
type TicketIssuer interface {
	CreateEventsTicket(ctx context.Context, defaultTTL time.Duration) (gateway.Ticket, error)
}

// PreflightFunc probes the ticketed URL and returns the HTTP status so a
// failure can be classified as unauthorized, network, or unknown.
type PreflightFunc func(ctx context.Context, streamURL string) (int, error)

// Config contains connection manager tuning
type Config struct {
	BaseURL          string
	DefaultTicketTTL time.Duration
	RefreshFraction  float64
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	PreflightTimeout time.Duration
}

// Manager maintains exactly one logical subscription to the terminal event
// feed, transparently re-authenticating and reconnecting. Ticket acquisition
// failures, unauthorized tickets, and transport drops are all contained here;
// subscribers only ever observe status transitions and raw events.
type Manager struct {
	cfg       Config
	issuer    TicketIssuer
	transport Transport
	preflight PreflightFunc
	clock     clock.Clock
	jitter    func() float64
	logger    *logger.Logger

	mu  sync.Mutex
	sub *Subscription
}

// NewManager creates a new connection manager
func NewManager(cfg Config, issuer TicketIssuer, transport Transport, clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		issuer:    issuer,
		transport: transport,
		preflight: DefaultPreflight,
		clock:     clk,
		jitter:    rand.Float64,
		logger:    log.Named("stream-manager"),
	}
}

// SetPreflight overrides the preflight probe (tests)
func (m *Manager) SetPreflight(fn PreflightFunc) {
	m.preflight = fn
}

// SetJitterSource overrides the backoff jitter source (tests)
func (m *Manager) SetJitterSource(fn func() float64) {
	m.jitter = fn
}

// Subscribe starts the subscription, or returns the existing live handle
// without side effects when one is already active.
func (m *Manager) Subscribe(handlers Handlers) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil && !m.sub.isStopped() {
		return m.sub
	}

	s := &Subscription{
		m:        m,
		handlers: handlers,
	}
	m.sub = s

	m.logger.Info("Starting terminal event subscription")
	go s.connect()

	return s
}

// Subscription is the handle for one live terminal event subscription
type Subscription struct {
	m        *Manager
	handlers Handlers

	mu             sync.Mutex
	stopped        bool
	connecting     bool
	ticket         gateway.Ticket
	forceNewTicket bool
	attempt        int
	reconnectTimer clock.Timer
	refreshTimer   clock.Timer
	conn           Conn
	connGen        int
}

// Ticket returns the current ticket value for diagnostics ("" when none)
func (s *Subscription) Ticket() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket.Value
}

// Stop tears the subscription down: all pending timers are cancelled, the
// transport is closed, and the cached ticket is cleared. Stop is idempotent;
// after it returns no handler other than the final idle status fires.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.clearReconnectTimerLocked()
	s.clearRefreshTimerLocked()
	conn := s.conn
	s.conn = nil
	s.ticket = gateway.Ticket{}
	onStatus := s.handlers.OnStatus
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.m.logger.Info("Terminal event subscription stopped")
	if onStatus != nil {
		onStatus(StatusIdle)
	}
}

func (s *Subscription) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// connect runs one connection attempt: ensure a valid ticket, preflight it,
// then open the transport and swap it in. The previous connection stays live
// until the new one is established, so proactive ticket rotation never drops
// the stream.
func (s *Subscription) connect() {
	s.mu.Lock()
	if s.stopped || s.connecting {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.clearReconnectTimerLocked()
	attempt := s.attempt
	s.mu.Unlock()

	if attempt > 0 {
		s.emitStatus(StatusReconnecting)
	} else {
		s.emitStatus(StatusConnecting)
	}

	ticket, err := s.ensureTicket()
	if err != nil {
		s.failConnect(err, s.classifyError(err))
		return
	}

	streamURL := BuildStreamURL(s.m.cfg.BaseURL, ticket.Value)

	status, perr := s.runPreflight(streamURL)
	if s.isStopped() {
		s.finishConnecting()
		return
	}
	if perr == nil && status == 401 {
		s.mu.Lock()
		s.forceNewTicket = true
		s.mu.Unlock()
		s.failConnect(&UnexpectedStatusError{Status: 401}, ReasonUnauthorized)
		return
	}

	conn, err := s.m.transport.Open(context.Background(), streamURL)
	if err != nil {
		s.failConnect(err, s.classifyError(err))
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	old := s.conn
	s.conn = conn
	s.connGen++
	gen := s.connGen
	s.attempt = 0
	s.connecting = false
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	s.m.logger.Info("Terminal event stream connected")
	s.emitStatus(StatusConnected)

	go s.readLoop(conn, gen)
}

// readLoop forwards frames from one connection until it dies. Frames from a
// superseded connection (ticket rotation swapped in a newer one) are dropped.
func (s *Subscription) readLoop(conn Conn, gen int) {
	for ev := range conn.Events() {
		s.mu.Lock()
		stale := s.stopped || gen != s.connGen
		onEvent := s.handlers.OnEvent
		s.mu.Unlock()
		if stale {
			return
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}

	s.mu.Lock()
	stale := s.stopped || gen != s.connGen
	s.mu.Unlock()
	if stale {
		return
	}

	err := conn.Err()
	if err == nil {
		err = errors.New("stream connection closed")
	}
	s.handleTransportError(conn, err)
}

// handleTransportError closes the broken connection, re-classifies the
// failure via preflight, and schedules a reconnect. A connection that was
// already superseded by a rotation is ignored so the live stream stays up.
func (s *Subscription) handleTransportError(conn Conn, err error) {
	s.mu.Lock()
	if s.stopped || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connGen++
	s.clearRefreshTimerLocked()
	ticket := s.ticket
	s.mu.Unlock()

	s.emitError(err)
	s.emitStatus(StatusError)

	conn.Close()

	s.m.logger.Warn("Terminal event stream error", logger.Error(err))

	reason := ReasonNetwork
	if ticket.Value != "" {
		status, perr := s.runPreflight(BuildStreamURL(s.m.cfg.BaseURL, ticket.Value))
		switch {
		case perr != nil:
			reason = ReasonNetwork
		case status == 401:
			reason = ReasonUnauthorized
			s.mu.Lock()
			s.forceNewTicket = true
			s.mu.Unlock()
		case status >= 200 && status < 300:
			reason = ReasonNetwork
		default:
			reason = ReasonUnknown
		}
	}

	s.scheduleReconnect(reason)
}

// ensureTicket returns a usable ticket, minting a new one when the cached
// ticket is missing, expired, or flagged for forced refresh. Whenever a valid
// ticket is in hand the proactive refresh timer is (re)armed.
func (s *Subscription) ensureTicket() (gateway.Ticket, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return gateway.Ticket{}, errSubscriptionStopped
	}
	if !s.forceNewTicket && s.ticket.Valid(s.m.clock.Now()) {
		if s.refreshTimer == nil {
			s.scheduleRefreshLocked()
		}
		t := s.ticket
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	ticket, err := s.m.issuer.CreateEventsTicket(context.Background(), s.m.cfg.DefaultTicketTTL)
	if err != nil {
		return gateway.Ticket{}, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return gateway.Ticket{}, errSubscriptionStopped
	}
	s.ticket = ticket
	s.forceNewTicket = false
	s.scheduleRefreshLocked()
	s.mu.Unlock()

	s.m.logger.Debug("Stream ticket established",
		logger.Time("expires_at", ticket.ExpiresAt))

	return ticket, nil
}

// scheduleRefreshLocked arms the proactive refresh timer at RefreshFraction
// of the remaining ticket TTL (minimum 1ms). Caller holds s.mu.
func (s *Subscription) scheduleRefreshLocked() {
	s.clearRefreshTimerLocked()

	ttl := s.ticket.ExpiresAt.Sub(s.m.clock.Now())
	if ttl <= 0 {
		return
	}

	delay := time.Duration(float64(ttl) * s.m.cfg.RefreshFraction)
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	s.refreshTimer = s.m.clock.AfterFunc(delay, s.onRefreshTimer)
}

// refreshRetryDelay is how soon a rotation is retried when the refresh timer
// fires while another connect attempt is still in flight.
const refreshRetryDelay = 50 * time.Millisecond

// onRefreshTimer rotates the ticket without tearing the stream down first:
// it flags a forced refresh and re-runs connect, which swaps transport and
// ticket only once acquisition succeeds.
func (s *Subscription) onRefreshTimer() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = nil
	s.forceNewTicket = true
	if s.connecting {
		// connect would bail out on the in-flight attempt and the rotation
		// would be lost until the ticket lapses. Retry once it settles; a
		// mint in the meantime replaces this timer with the regular one.
		s.refreshTimer = s.m.clock.AfterFunc(refreshRetryDelay, s.onRefreshTimer)
		s.mu.Unlock()
		return
	}
	s.clearReconnectTimerLocked()
	s.mu.Unlock()

	s.m.logger.Debug("Proactive ticket refresh triggered")
	go s.connect()
}

// failConnect ends a failed connect attempt and schedules the retry
func (s *Subscription) failConnect(err error, reason ReconnectReason) {
	s.emitError(err)
	s.emitStatus(StatusError)
	s.scheduleReconnect(reason)
}

// scheduleReconnect arms the backoff timer for the next attempt. Retries are
// always timer-scheduled; there is no synchronous retry path and no retry
// limit.
func (s *Subscription) scheduleReconnect(reason ReconnectReason) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.clearReconnectTimerLocked()
	s.attempt++
	attempt := s.attempt
	delay := s.backoffDelay(attempt)
	s.connecting = false
	s.reconnectTimer = s.m.clock.AfterFunc(delay, func() {
		go s.connect()
	})
	onReconnect := s.handlers.OnReconnect
	s.mu.Unlock()

	s.m.logger.Info("Reconnect scheduled",
		logger.Int("attempt", attempt),
		logger.Duration("delay", delay),
		logger.String("reason", string(reason)))

	s.emitStatus(StatusReconnecting)
	if onReconnect != nil {
		onReconnect(ReconnectInfo{Attempt: attempt, Delay: delay, Reason: reason})
	}
}

// backoffDelay computes min(cap, base×2^(attempt−1)) with ±30% jitter
func (s *Subscription) backoffDelay(attempt int) time.Duration {
	base := float64(s.m.cfg.BackoffBase)
	cap := float64(s.m.cfg.BackoffCap)

	exp := base * math.Pow(2, float64(attempt-1))
	if exp > cap {
		exp = cap
	}

	jitter := 0.7 + 0.6*s.m.jitter()
	return time.Duration(exp * jitter)
}

func (s *Subscription) runPreflight(streamURL string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.m.cfg.PreflightTimeout)
	defer cancel()
	return s.m.preflight(ctx, streamURL)
}

// classifyError maps connect-path failures onto reconnect reasons
func (s *Subscription) classifyError(err error) ReconnectReason {
	var statusErr *UnexpectedStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == 401 {
			s.mu.Lock()
			s.forceNewTicket = true
			s.mu.Unlock()
			return ReasonUnauthorized
		}
		return ReasonUnknown
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 401 {
			return ReasonUnauthorized
		}
		return ReasonUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ReasonNetwork
	}

	return ReasonNetwork
}

func (s *Subscription) finishConnecting() {
	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
}

func (s *Subscription) clearReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Subscription) clearRefreshTimerLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

func (s *Subscription) emitStatus(status Status) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	onStatus := s.handlers.OnStatus
	s.mu.Unlock()
	if onStatus != nil {
		onStatus(status)
	}
}

func (s *Subscription) emitError(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	onError := s.handlers.OnError
	s.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

var errSubscriptionStopped = errors.New("subscription stopped")
