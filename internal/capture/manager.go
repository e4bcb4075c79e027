package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks enrollment sessions, one per target user. A finished
// session is removed after its completion callback fires.
type Manager struct {
	opener        DeviceOpener
	submitter     Submitter
	acquireWithin time.Duration
	submitWithin  time.Duration

	// OnEnrolled runs after a successful submission settles, with the
	// enrolled user's ID. Callers use it to refresh user state.
	OnEnrolled func(userID int64)

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager(opener DeviceOpener, submitter Submitter, acquireWithin, submitWithin time.Duration) *Manager {
	return &Manager{
		opener:        opener,
		submitter:     submitter,
		acquireWithin: acquireWithin,
		submitWithin:  submitWithin,
		sessions:      make(map[int64]*Session),
	}
}

// Open creates a session for the user. A second open while one is active
// is refused.
func (m *Manager) Open(userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; ok {
		return nil, fmt.Errorf("enrollment already in progress for user %d", userID)
	}
	s := &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		opener:        m.opener,
		submitter:     m.submitter,
		acquireWithin: m.acquireWithin,
		submitWithin:  m.submitWithin,
		doneDelay:     successDelay,
		phase:         PhaseIdle,
	}
	s.onDone = func(id int64) {
		m.Close(id)
		if m.OnEnrolled != nil {
			m.OnEnrolled(id)
		}
	}
	m.sessions[userID] = s
	return s, nil
}

// Get returns the user's active session.
func (m *Manager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close ends and removes the user's session.
func (m *Manager) Close(userID int64) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll ends every session, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
