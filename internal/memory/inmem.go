package memory

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local [Backend]. History is lost on restart.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemory creates an empty in-process backend.
func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string]*Session)}
}

// Load returns a copy of the user's session.
func (m *InMemory) Load(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp, nil
}

// Append adds msg and truncates to max.
func (m *InMemory) Append(ctx context.Context, userID string, msg Message, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{UserID: userID, CreatedAt: msg.Timestamp}
		m.sessions[userID] = s
	}
	s.Messages = truncate(append(s.Messages, msg), max)
	s.UpdatedAt = msg.Timestamp
	return nil
}

// Delete drops the user's session.
func (m *InMemory) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// DeleteOlderThan drops sessions last updated before cutoff.
func (m *InMemory) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *InMemory) Close() error { return nil }
