// Package session tracks the per-user generation dialogue. A session is
// short-lived: it exists from the moment a user starts describing a bot
// until the code is launched, saved or cancelled.
package session

import (
	"errors"
	"sync"
	"time"
)

// State of one user's generation dialogue.
// awaiting_description -> code_generated -> (launched / saved / cancelled, removed)
type State string

const (
	StateAwaitingDescription State = "awaiting_description"
	StateCodeGenerated       State = "code_generated"
)

var (
	// ErrNoSession reports an action for a user with no active dialogue.
	ErrNoSession = errors.New("no active generation session")
	// ErrStaleSession reports an action keyed to a bot id that does not
	// belong to the user's current session.
	ErrStaleSession = errors.New("session refers to a different bot")
)

// Session is one user's in-flight bot draft. Fields are only mutated
// through Manager methods; callers receive copies.
type Session struct {
	UserID      string
	BotID       string
	Name        string
	Description string
	Code        string
	CodePath    string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Manager holds at most one session per user.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Begin starts a fresh dialogue for the user, replacing any previous one.
func (m *Manager) Begin(userID, botID string) Session {
	now := time.Now()
	s := &Session{
		UserID:    userID,
		BotID:     botID,
		State:     StateAwaitingDescription,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	return *s
}

// Get returns a copy of the user's current session.
func (m *Manager) Get(userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNoSession
	}
	return *s, nil
}

// Verify checks that botID belongs to the user's current session. It is
// the guard every bot-keyed action runs before touching processes.
func (m *Manager) Verify(userID, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	if s.BotID != botID {
		return ErrStaleSession
	}
	return nil
}

// SetGenerated advances the session once code has been produced and
// persisted. The bot id never changes; only the draft content does, so a
// regeneration from awaiting_description lands on the same id.
func (m *Manager) SetGenerated(userID, name, description, code, codePath string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNoSession
	}
	s.Name = name
	s.Description = description
	s.Code = code
	s.CodePath = codePath
	s.State = StateCodeGenerated
	s.UpdatedAt = time.Now()
	return *s, nil
}

// Remove ends the user's dialogue. Returns the final session copy when
// one existed.
func (m *Manager) Remove(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	delete(m.sessions, userID)
	return *s, true
}

// Count reports the number of active dialogues.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
