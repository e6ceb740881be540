package browse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/metrics"
	"github.com/jun/docpick/internal/model"
)

// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
var ErrSessionNotFound = errors.New("browse session not found")

// DefaultIdle is how long an untouched session survives.
const DefaultIdle = 15 * time.Minute

// Sources resolves a user's source for a provider; adapter.Registry implements it.
type Sources interface {
	Source(ctx context.Context, p model.Provider, userID string) (adapter.RemoteSource, error)
}

// Manager holds open sessions in process memory. A user has at most one
// session per provider; opening another closes the previous one.
type Manager struct {
	sources Sources
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Navigator
	byOwner  map[string]string
}

func NewManager(sources Sources, idle time.Duration) *Manager {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Manager{
		sources:  sources,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*Navigator),
		byOwner:  make(map[string]string),
	}
}

func ownerKey(userID string, p model.Provider) string {
	return userID + "/" + string(p)
}

// Open starts a session at the provider's root and loads its first page.
// The session is kept even when the first page fails so the caller can retry.
func (m *Manager) Open(ctx context.Context, userID string, p model.Provider) (*Navigator, View, error) {
	src, err := m.sources.Source(ctx, p, userID)
	if err != nil {
		return nil, View{}, err
	}
	var resolved atomic.Bool
	nav := NewNavigator(uuid.NewString(), userID, p, func(ctx context.Context) (adapter.RemoteSource, error) {
		if resolved.CompareAndSwap(false, true) {
			return src, nil
		}
		return m.sources.Source(ctx, p, userID)
	})
	nav.now = m.now
	nav.lastUsed = m.now()

	m.mu.Lock()
	m.sweepLocked()
	if prev, ok := m.sessions[m.byOwner[ownerKey(userID, p)]]; ok {
		prev.Close()
		delete(m.sessions, prev.ID())
	}
	m.sessions[nav.ID()] = nav
	m.byOwner[ownerKey(userID, p)] = nav.ID()
	metrics.SetBrowseSessions(len(m.sessions))
	m.mu.Unlock()

	logging.WithContext(ctx).Debug("browse session opened",
		zap.String("session_id", nav.ID()), zap.String("provider", string(p)))
	v, err := nav.Open(ctx)
	return nav, v, err
}

// Get returns userID's session id.
func (m *Manager) Get(userID, id string) (*Navigator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	nav, ok := m.sessions[id]
	if !ok || nav.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return nav, nil
}

// Close ends userID's session id.
func (m *Manager) Close(userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nav, ok := m.sessions[id]
	if !ok || nav.UserID() != userID {
		return ErrSessionNotFound
	}
	m.removeLocked(nav)
	return nil
}

// Sweep closes idle sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) sweepLocked() int {
	cutoff := m.now().Add(-m.idle)
	removed := 0
	for _, nav := range m.sessions {
		if nav.idleSince().Before(cutoff) {
			m.removeLocked(nav)
			removed++
		}
	}
	return removed
}

func (m *Manager) removeLocked(nav *Navigator) {
	nav.Close()
	delete(m.sessions, nav.ID())
	key := ownerKey(nav.UserID(), nav.session.Provider)
	if m.byOwner[key] == nav.ID() {
		delete(m.byOwner, key)
	}
	metrics.SetBrowseSessions(len(m.sessions))
}
