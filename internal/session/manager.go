package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/simonmoedinger/aitab/internal/analysis"
)

// DefaultTTL applies when no session TTL is configured.
const DefaultTTL = 30 * time.Minute

// Manager keeps live analysis sessions in memory, keyed by session id.
// Sessions expire after ttl of inactivity; expiry is enforced lazily on
// access and eagerly by the sweeper. Assistant-side threads are not
// deleted on expiry, they age out on the service.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*analysis.Session
	ttl      time.Duration
	logger   *log.Logger
}

// NewManager creates a manager. ttl <= 0 selects DefaultTTL.
func NewManager(ttl time.Duration, logger *log.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Manager{
		sessions: make(map[string]*analysis.Session),
		ttl:      ttl,
		logger:   logger,
	}
}

// Create registers a fresh session and returns it.
func (m *Manager) Create() *analysis.Session {
	sess := analysis.NewSession()
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

// Get returns a live session by id. Expired sessions are dropped and
// reported as absent.
func (m *Manager) Get(id string) (*analysis.Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.expired(sess, time.Now()) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, false
	}
	return sess, true
}

// Delete removes a session regardless of its TTL state.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of tracked sessions, expired ones included
// until the next sweep.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expired(sess *analysis.Session, now time.Time) bool {
	return now.Sub(sess.LastActive()) > m.ttl
}

// sweep drops every expired session and reports how many were removed.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if m.expired(sess, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic expiry until the context is cancelled.
// Call it in a goroutine from the server's startup path.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := m.sweep(now); removed > 0 {
				m.logger.Printf("expired %d session(s)", removed)
			}
		}
	}
}
