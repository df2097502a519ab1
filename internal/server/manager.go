package server

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/rehearse/internal/rehearsal"
)

// ErrManagerClosed is returned by [Manager.Add] once [Manager.Close] ran.
var ErrManagerClosed = errors.New("server: session manager closed")

// Manager tracks the live rehearsal sessions, one per connection.
// All exported methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*rehearsal.Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager returns an empty [Manager].
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*rehearsal.Session)}
}

// Add registers s under its ID. The returned function removes it again and
// must be called once the connection is gone; extra calls are no-ops.
// After [Manager.Close] Add registers nothing and returns [ErrManagerClosed].
func (m *Manager) Add(s *rehearsal.Session) (remove func(), err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.sessions, s.ID())
			m.mu.Unlock()
			m.wg.Done()
		})
	}, nil
}

// Close refuses further registrations. Sessions already registered stay
// until removed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshots returns the state of every live session, oldest first.
func (m *Manager) Snapshots() []rehearsal.Snapshot {
	m.mu.Lock()
	out := make([]rehearsal.Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b rehearsal.Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Wait blocks until every registered session has been removed or ctx is
// done. Call [Manager.Close] first so that no session is added meanwhile.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
