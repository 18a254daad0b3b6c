// Package session provides the identity of an in-flight spin.
//
// A Session is opened at REELS_START and closed at REELS_STOP. Every per-spin
// side effect compares the session it was handed against the active one (or
// against a Marker) before acting, so a lifecycle event delivered twice never
// applies twice.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is a monotonically increasing spin session identifier. Zero is never issued.
type ID uint64

// Session is one in-flight spin
type Session struct {
	ID        ID        `json:"id"`
	Sequence  uint64    `json:"sequence"`
	RoundID   string    `json:"round_id"`
	StartedAt time.Time `json:"started_at"`
}

// Valid reports whether s was issued by a Tracker
func (s Session) Valid() bool {
	return s.ID != 0
}

// Tracker issues sessions and remembers the single active one
type Tracker struct {
	mu       sync.Mutex
	next     ID
	sequence uint64
	active   *Session
}

// NewTracker creates a tracker whose first session has ID 1
func NewTracker() *Tracker {
	return &Tracker{}
}

// Open starts a new session, replacing any active one. roundID is the
// backend round id when known; otherwise a fresh one is generated.
func (t *Tracker) Open(roundID string) Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.sequence++
	if roundID == "" {
		roundID = uuid.New().String()
	}
	s := Session{
		ID:        t.next,
		Sequence:  t.sequence,
		RoundID:   roundID,
		StartedAt: time.Now().UTC(),
	}
	t.active = &s
	return s
}

// Close invalidates the active session if it is id. It returns false for a
// stale or repeated close.
func (t *Tracker) Close(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.ID != id {
		return false
	}
	t.active = nil
	return true
}

// Active returns the active session, if any
func (t *Tracker) Active() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return Session{}, false
	}
	return *t.active, true
}

// IsActive reports whether id is the active session
func (t *Tracker) IsActive(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil && t.active.ID == id
}

// Last returns the most recently issued ID
func (t *Tracker) Last() ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Marker remembers the last session a side effect was applied for.
// Claim succeeds at most once per ID.
type Marker struct {
	mu   sync.Mutex
	last ID
}

// Claim returns true the first time id is seen and false for any repeat
// or for an id older than the last claimed one.
func (m *Marker) Claim(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 || id <= m.last {
		return false
	}
	m.last = id
	return true
}

// Last returns the last claimed ID
func (m *Marker) Last() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
