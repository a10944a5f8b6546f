package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragpal/ragpal/internal/log"
)

var (
	// ErrBusy indicates a generation is already in flight on the session.
	// Concurrent submissions are rejected, never interleaved.
	ErrBusy = errors.New("generation already in progress")

	// ErrNotFound indicates an unknown or evicted session id.
	ErrNotFound = errors.New("session not found")
)

// Session is one conversation: an id, its history, and the in-flight gate.
type Session struct {
	ID        string
	CreatedAt time.Time
	History   *History

	mu       sync.Mutex
	inFlight bool
	lastSeen time.Time
}

// Acquire claims the session's single generation slot. Returns ErrBusy when
// a generation is already running; the caller must Release on success.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrBusy
	}
	s.inFlight = true
	return nil
}

// Release frees the generation slot.
func (s *Session) Release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Busy reports whether a generation is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inFlight && now.Sub(s.lastSeen) > ttl
}

// Manager owns the session registry. Sessions are keyed by uuid and
// evicted after sitting idle longer than the configured TTL.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
	logger   log.Logger
	now      func() time.Time
}

// NewManager creates a Manager evicting sessions idle longer than idleTTL.
// idleTTL <= 0 disables eviction.
func NewManager(idleTTL time.Duration, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a new session with an empty history.
func (m *Manager) Create() *Session {
	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		History:   NewHistory(),
		lastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug("session created", "session_id", s.ID)
	return s
}

// Get returns the session with the given id and marks it as recently used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now().UTC())
	return s, nil
}

// Remove drops a session, reporting whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle past the TTL and returns how many were
// removed. Sessions with a generation in flight are never evicted.
func (m *Manager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if s.idleSince(now, m.idleTTL) {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Debug("idle sessions evicted", "count", evicted)
	}
	return evicted
}

// Run sweeps periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
