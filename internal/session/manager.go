package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ThePrimedTNT/astolfo/internal/worker"
)

// Manager owns the session table. Every mutation for a key goes through
// the single-flight worker, so a create and an invalidate submitted
// concurrently from different message paths can never race: destruction
// of a predecessor always happens before its successor exists.
type Manager struct {
	worker *worker.KeyedWorker

	mu       sync.Mutex // table guard; held only for map access
	sessions map[worker.Key]*CommandSession

	log zerolog.Logger
}

// NewManager creates an empty session table.
func NewManager(log zerolog.Logger) *Manager {
	m := &Manager{
		worker:   worker.NewKeyedWorker(),
		sessions: make(map[worker.Key]*CommandSession),
		log:      log.With().Str("component", "sessions").Logger(),
	}
	return m
}

// Get returns the live session for a key, or nil.
func (m *Manager) Get(key worker.Key) *CommandSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[key]
	if s != nil && s.Destroyed() {
		delete(m.sessions, key)
		return nil
	}
	return s
}

// Start destroys any existing session for the key, then creates a fresh
// one and hands it to setup (which typically registers listeners and
// binds the leaf task). The returned channel closes once the new session
// is installed.
func (m *Manager) Start(key worker.Key, build func() *CommandSession, setup func(*CommandSession)) <-chan struct{} {
	return m.worker.Do(key, func() {
		m.teardown(key)

		s := build()
		m.mu.Lock()
		m.sessions[key] = s
		m.mu.Unlock()

		s.OnDestroy(func() {
			m.mu.Lock()
			if m.sessions[key] == s {
				delete(m.sessions, key)
			}
			m.mu.Unlock()
		})

		m.log.Debug().Str("path", s.Path).Str("user", key.UserID).Msg("session started")
		setup(s)
	})
}

// Invalidate destroys the session for a key, runs its destroy hooks, and
// joins its bound task. The returned channel closes when teardown is done.
func (m *Manager) Invalidate(key worker.Key) <-chan struct{} {
	return m.worker.Do(key, func() {
		m.teardown(key)
	})
}

// teardown runs inside the key's single-flight slot.
func (m *Manager) teardown(key worker.Key) {
	m.mu.Lock()
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.Destroy()
	s.Join()
	m.log.Debug().Str("path", s.Path).Str("user", key.UserID).Msg("session destroyed")
}

