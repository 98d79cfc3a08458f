package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingBackend counts sweeps.
type countingBackend struct {
	Backend
	sweeps atomic.Int32
}

func (c *countingBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	c.sweeps.Add(1)
	return c.Backend.DeleteOlderThan(ctx, cutoff)
}

// failingBackend fails every call.
type failingBackend struct{}

var errDown = errors.New("connection refused")

func (failingBackend) Load(context.Context, string) (*Session, error)            { return nil, errDown }
func (failingBackend) Append(context.Context, string, Message, int) error        { return errDown }
func (failingBackend) Delete(context.Context, string) error                      { return errDown }
func (failingBackend) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, errDown }
func (failingBackend) Close() error                                              { return nil }

func TestStore_CapNeverExceeded(t *testing.T) {
	c := &clock{now: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
	s := NewStore(NewInMemory(), nil, WithClock(c.Now))
	ctx := context.Background()

	for i := range 35 {
		if err := s.Append(ctx, "u1", RoleUser, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		sess, _ := s.Session(ctx, "u1")
		if len(sess.Messages) > 20 {
			t.Fatalf("after %d appends len = %d, want <= 20", i+1, len(sess.Messages))
		}
		c.Advance(time.Second)
	}
	s.Wait()
}

func TestStore_RecentOldestFirst(t *testing.T) {
	s := NewStore(NewInMemory(), nil)
	ctx := context.Background()
	for _, m := range []string{"a", "b", "c", "d"} {
		_ = s.Append(ctx, "u1", RoleUser, m)
	}

	got, err := s.Recent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Content != "c" || got[1].Content != "d" {
		t.Errorf("Recent = %+v, want [c d]", got)
	}

	none, err := s.Recent(ctx, "nobody", 10)
	if err != nil || none != nil {
		t.Errorf("Recent(missing) = %v, %v", none, err)
	}
	s.Wait()
}

func TestStore_FailuresWrapUnavailable(t *testing.T) {
	s := NewStore(failingBackend{}, nil)
	ctx := context.Background()

	if err := s.Append(ctx, "u1", RoleUser, "x"); !errors.Is(err, ErrUnavailable) || !errors.Is(err, errDown) {
		t.Errorf("Append err = %v, want ErrUnavailable wrapping cause", err)
	}
	if _, err := s.Recent(ctx, "u1", 10); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Recent err = %v, want ErrUnavailable", err)
	}
	if err := s.Clear(ctx, "u1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Clear err = %v, want ErrUnavailable", err)
	}
}

func TestStore_SweepThrottled(t *testing.T) {
	c := &clock{now: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
	b := &countingBackend{Backend: NewInMemory()}
	s := NewStore(b, nil, WithClock(c.Now), WithSweepInterval(time.Hour))
	ctx := context.Background()

	_ = s.Append(ctx, "u1", RoleUser, "1")
	s.Wait()
	_ = s.Append(ctx, "u1", RoleUser, "2")
	s.Wait()
	if got := b.sweeps.Load(); got != 1 {
		t.Errorf("sweeps within interval = %d, want 1", got)
	}

	c.Advance(61 * time.Minute)
	_ = s.Append(ctx, "u1", RoleUser, "3")
	s.Wait()
	if got := b.sweeps.Load(); got != 2 {
		t.Errorf("sweeps after interval = %d, want 2", got)
	}
}

func TestStore_SweepRemovesIdleSessions(t *testing.T) {
	c := &clock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(NewInMemory(), nil, WithClock(c.Now), WithRetention(7*24*time.Hour))
	ctx := context.Background()

	_ = s.Append(ctx, "idle", RoleUser, "old")
	s.Wait()
	c.Advance(8 * 24 * time.Hour)
	_ = s.Append(ctx, "active", RoleUser, "new")
	s.Wait()

	if sess, _ := s.Session(ctx, "idle"); sess != nil {
		t.Error("idle session should have been swept")
	}
	if sess, _ := s.Session(ctx, "active"); sess == nil {
		t.Error("active session should survive")
	}

	n, err := s.Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("explicit Sweep = %d, %v; want 0", n, err)
	}
}

func TestStore_BackgroundSweepFailureDoesNotFailAppend(t *testing.T) {
	b := &sweepFails{Backend: NewInMemory()}
	s := NewStore(b, nil)
	if err := s.Append(context.Background(), "u1", RoleUser, "x"); err != nil {
		t.Fatalf("Append err = %v, want nil despite sweep failure", err)
	}
	s.Wait()
}

type sweepFails struct{ Backend }

func (sweepFails) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, errDown }
