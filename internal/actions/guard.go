package actions

import (
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle of one guarded action request
type Status string

const (
	StatusSending Status = "sending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Record tracks the single live request for one session under one action
// kind. The idempotency key stays stable across retries of the same logical
// choice and changes only when the choice changes after a failure.
type Record struct {
	Identity string `json:"identity"`
	Key      string `json:"idempotency_key"`
	Status   Status `json:"status"`
}

// Guard deduplicates one kind of mutating action per session:
//   - only one in-flight request per session (blocks double-taps),
//   - after success, no further sends for that session at all,
//   - after error, a retry with the same identity reuses the key,
//   - after error, a different identity gets a brand-new record and key.
type Guard struct {
	mu      sync.Mutex
	records map[string]*Record
	newKey  func() string
}

// NewGuard creates a new action guard
func NewGuard() *Guard {
	return &Guard{
		records: make(map[string]*Record),
		newKey:  uuid.NewString,
	}
}

// SetKeyFactory overrides idempotency key generation (tests)
func (g *Guard) SetKeyFactory(fn func() string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newKey = fn
}

// GetOrCreate returns the record governing (sessionID, identity) and whether
// the caller should actually send the request.
func (g *Guard) GetOrCreate(sessionID, identity string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.records[sessionID]
	if !ok {
		rec := &Record{Identity: identity, Key: g.newKey(), Status: StatusSending}
		g.records[sessionID] = rec
		return *rec, true
	}

	// In flight or already succeeded: block, even for a different identity.
	if existing.Status == StatusSending || existing.Status == StatusDone {
		return *existing, false
	}

	// Previous attempt failed. Same identity retries under the same key so
	// the server sees one logical operation.
	if existing.Identity == identity {
		existing.Status = StatusSending
		return *existing, true
	}

	// The user changed their choice after a failure: distinct operation.
	rec := &Record{Identity: identity, Key: g.newKey(), Status: StatusSending}
	g.records[sessionID] = rec
	return *rec, true
}

// MarkStatus transitions the session's record. No-op when no record exists.
func (g *Guard) MarkStatus(sessionID string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.records[sessionID]; ok {
		rec.Status = status
	}
}

// Get returns the session's current record, if any
func (g *Guard) Get(sessionID string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[sessionID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
