package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by transitions on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

type managedSession struct {
	session  *Session
	lastUsed time.Time
}

// Manager owns the open sessions and evicts those idle longer than the TTL.
type Manager struct {
	deps  Deps
	ttl   time.Duration
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager creates a manager. A zero ttl disables eviction.
func NewManager(deps Deps, ttl time.Duration, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		deps:     deps,
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]*managedSession),
	}
}

// Create opens a session at the statewide view.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := newSession(uuid.NewString(), m.deps)
	if err := s.Reset(ctx); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = &managedSession{session: s, lastUsed: m.clock.Now()}
	n := len(m.sessions)
	m.mu.Unlock()

	m.deps.Metrics.Sessions.Set(float64(n))
	m.deps.Logger.Info("session opened", "session", s.id)
	return s, nil
}

// Get returns a session and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	ms.lastUsed = m.clock.Now()
	return ms.session, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	ms.session.Close()
	m.deps.Metrics.Sessions.Set(float64(n))
	m.deps.Logger.Info("session closed", "session", id)
	return nil
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle longer than the TTL and returns how many it
// closed. Layers the closed sessions held become eligible for the layer
// cache's own idle sweep, which runs afterwards.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.clock.Now()

	m.mu.Lock()
	var expired []*Session
	for id, ms := range m.sessions {
		if now.Sub(ms.lastUsed) >= m.ttl {
			expired = append(expired, ms.session)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
		m.deps.Logger.Info("session expired", "session", s.id)
	}
	if len(expired) > 0 {
		m.deps.Metrics.Sessions.Set(float64(n))
	}
	if m.deps.Layers != nil {
		m.deps.Layers.Sweep()
	}
	return len(expired)
}

// Run sweeps idle sessions every half TTL until ctx is cancelled, then
// closes every remaining session.
func (m *Manager) Run(ctx context.Context) {
	defer m.closeAll()
	if m.ttl <= 0 {
		<-ctx.Done()
		return
	}
	ticker := m.clock.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Refresh re-applies a rebuilt layer to every session showing key.
func (m *Manager) Refresh(ctx context.Context, key domain.DatasetKey) int {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms.session)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if _, ok := s.Refresh(ctx, key); ok {
			n++
		}
	}
	return n
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()
	for _, ms := range sessions {
		ms.session.Close()
	}
	m.deps.Metrics.Sessions.Set(0)
}
