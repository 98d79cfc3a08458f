package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store manages conversation memory on top of a [Backend].
type Store struct {
	backend       Backend
	logger        *slog.Logger
	maxMessages   int
	retention     time.Duration
	sweepInterval time.Duration
	sweepTimeout  time.Duration
	now           func() time.Time

	sweepMu   sync.Mutex
	lastSweep time.Time
	sweeping  bool
	wg        sync.WaitGroup
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithMaxMessages sets the per-user message cap.
func WithMaxMessages(n int) StoreOption {
	return func(s *Store) { s.maxMessages = n }
}

// WithRetention sets how long an idle session survives.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// WithSweepInterval sets the minimum gap between opportunistic sweeps.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.sweepInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store. Defaults: 20 messages, 7 days retention,
// hourly sweeps.
func NewStore(backend Backend, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:       backend,
		logger:        logger.With("component", "memory"),
		maxMessages:   20,
		retention:     7 * 24 * time.Hour,
		sweepInterval: time.Hour,
		sweepTimeout:  30 * time.Second,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxMessages returns the per-user cap.
func (s *Store) MaxMessages() int { return s.maxMessages }

// Append adds one message and truncates the session to the cap. On
// success it may start a background sweep.
func (s *Store) Append(ctx context.Context, userID, role, content string) error {
	msg := Message{Role: role, Content: content, Timestamp: s.now().UTC()}
	if err := s.backend.Append(ctx, userID, msg, s.maxMessages); err != nil {
		s.logger.Warn("conversation append failed", "user", userID, "role", role, "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.maybeSweep()
	return nil
}

// Recent returns up to limit messages, oldest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Message, error) {
	sess, err := s.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Session returns the full session, or nil when the user has none.
func (s *Store) Session(ctx context.Context, userID string) (*Session, error) {
	sess, err := s.backend.Load(ctx, userID)
	if err != nil {
		s.logger.Warn("conversation load failed", "user", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return sess, nil
}

// Clear deletes the user's session.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.backend.Delete(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.logger.Info("conversation cleared", "user", userID)
	return nil
}

// SweepExpired deletes sessions last updated before cutoff.
func (s *Store) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.backend.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if n > 0 {
		s.logger.Info("expired conversations swept", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// Sweep deletes sessions idle for longer than the retention window.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	return s.SweepExpired(ctx, s.now().Add(-s.retention))
}

// maybeSweep starts one background sweep when the interval has passed
// and none is running. It never blocks the caller.
func (s *Store) maybeSweep() {
	s.sweepMu.Lock()
	now := s.now()
	if s.sweeping || (!s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.sweepInterval) {
		s.sweepMu.Unlock()
		return
	}
	s.sweeping = true
	s.lastSweep = now
	s.sweepMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.sweepMu.Lock()
			s.sweeping = false
			s.sweepMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
		defer cancel()
		if _, err := s.SweepExpired(ctx, now.Add(-s.retention)); err != nil {
			s.logger.Warn("background sweep failed", "error", err)
		}
	}()
}

// Wait blocks until in-flight background sweeps finish.
func (s *Store) Wait() { s.wg.Wait() }

// Close waits for sweeps and closes the backend.
func (s *Store) Close() error {
	s.Wait()
	return s.backend.Close()
}
