// Package memory stores bounded per-user conversation history. A
// [Store] wraps a [Backend] (SQL, MongoDB, or in-process) with the
// message cap, retention sweep, and failure logging the turn loop
// relies on.
package memory

import (
	"context"
	"errors"
	"time"
)

// Message roles kept in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnavailable wraps every backend failure surfaced by [Store]. The
// turn loop treats it as "no history" and carries on.
var ErrUnavailable = errors.New("conversation store unavailable")

// Message is one entry in a session.
type Message struct {
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Session is one user's ordered history, oldest first.
type Session struct {
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend persists sessions. Append must read the session, add msg,
// keep only the last max messages, and write it back as one operation
// for that user, creating the session when absent.
type Backend interface {
	Load(ctx context.Context, userID string) (*Session, error) // nil, nil when absent
	Append(ctx context.Context, userID string, msg Message, max int) error
	Delete(ctx context.Context, userID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// truncate keeps the last max messages.
func truncate(msgs []Message, max int) []Message {
	if max > 0 && len(msgs) > max {
		return append([]Message(nil), msgs[len(msgs)-max:]...)
	}
	return msgs
}
