package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Manager tracks live sessions and expires the ones that stop carrying traffic.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	closedCause       error
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register tracks s. After Shutdown, s is expired with the shutdown cause
// instead of being left to run.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	cause := m.closedCause
	m.mu.Unlock()
	if cause != nil {
		s.Expire(cause)
	}
}

func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// End expires one session. The supervisor running it performs the teardown.
func (m *Manager) End(sessionID string) (Snapshot, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.Expire(ErrEndedByAPI)
	return s.Snapshot(), nil
}

// ExpireAll expires every live session with the given cause.
func (m *Manager) ExpireAll(cause error) int {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()
	for _, s := range live {
		s.Expire(cause)
	}
	return len(live)
}

// Shutdown expires every live session, including ones still dialing the AI
// peer, and every session registered afterwards.
func (m *Manager) Shutdown(cause error) int {
	m.mu.Lock()
	m.closedCause = cause
	m.mu.Unlock()
	return m.ExpireAll(cause)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.State() == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now()
	var expired []*Session

	m.mu.RLock()
	for _, s := range m.sessions {
		if s.State() != StateActive || s.ctx.Err() != nil {
			continue
		}
		if now.Sub(s.LastActivity()) < m.inactivityTimeout {
			continue
		}
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.RUnlock()

	for _, s := range expired {
		s.Expire(ErrIdleTimeout)
		if hook != nil {
			hook(s)
		}
	}
}
