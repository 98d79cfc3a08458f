package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smartfinance/ledgerbot/internal/database"
)

// SQLBackend stores one row per user with the messages as a JSON array.
type SQLBackend struct {
	db *database.DB
}

// NewSQLBackend creates the conversations table if needed.
func NewSQLBackend(ctx context.Context, db *database.DB) (*SQLBackend, error) {
	b := &SQLBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) migrate(ctx context.Context) error {
	t := b.db.Types()
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS conversations (
		user_id    %s PRIMARY KEY,
		messages   %s NOT NULL,
		created_at %s NOT NULL,
		updated_at %s NOT NULL
	)`, t.Key, t.LongText, t.Int, t.Int)
	if err := b.db.ExecAll(ctx, schema); err != nil {
		return err
	}
	return b.db.CreateIndex(ctx, "idx_conversations_updated", "conversations", "updated_at")
}

// Load reads the user's session.
func (b *SQLBackend) Load(ctx context.Context, userID string) (*Session, error) {
	var raw string
	var created, updated int64
	err := b.db.QueryRowContext(ctx, b.db.Rebind(
		`SELECT messages, created_at, updated_at FROM conversations WHERE user_id = ?`), userID,
	).Scan(&raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	s := &Session{
		UserID:    userID,
		CreatedAt: time.UnixMilli(created).UTC(),
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}
	if err := json.Unmarshal([]byte(raw), &s.Messages); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return s, nil
}

// Append reads, extends, truncates, and writes the session in one
// transaction.
func (b *SQLBackend) Append(ctx context.Context, userID string, msg Message, max int) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := `SELECT messages FROM conversations WHERE user_id = ?`
	if b.db.Dialect != database.SQLite {
		query += " FOR UPDATE"
	}

	var msgs []Message
	var raw string
	exists := true
	err = tx.QueryRowContext(ctx, b.db.Rebind(query), userID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("read conversation: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			return fmt.Errorf("decode conversation: %w", err)
		}
	}

	msgs = truncate(append(msgs, msg), max)
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	ts := msg.Timestamp.UnixMilli()

	if exists {
		_, err = tx.ExecContext(ctx, b.db.Rebind(
			`UPDATE conversations SET messages = ?, updated_at = ? WHERE user_id = ?`),
			string(data), ts, userID)
	} else {
		_, err = tx.ExecContext(ctx, b.db.Rebind(
			`INSERT INTO conversations (user_id, messages, created_at, updated_at) VALUES (?, ?, ?, ?)`),
			userID, string(data), ts, ts)
	}
	if err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return tx.Commit()
}

// Delete removes the user's session.
func (b *SQLBackend) Delete(ctx context.Context, userID string) error {
	if _, err := b.db.ExecContext(ctx, b.db.Rebind(
		`DELETE FROM conversations WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// DeleteOlderThan removes sessions last updated before cutoff.
func (b *SQLBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.db.Rebind(
		`DELETE FROM conversations WHERE updated_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep conversations: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the shared handle is closed by its owner.
func (b *SQLBackend) Close() error { return nil }
