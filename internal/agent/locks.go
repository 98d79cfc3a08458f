package agent

import (
	"context"
	"sync"
	"time"
)

// userLocks serializes turns per user. Entries are reference counted
// and removed when no turn holds or waits on them.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	token chan struct{}
	refs  int
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*userLock)}
}

// acquire blocks until the user's token is free or ctx ends. The
// returned release must be called exactly once.
func (u *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	u.mu.Lock()
	l, ok := u.m[userID]
	if !ok {
		l = &userLock{token: make(chan struct{}, 1)}
		u.m[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	select {
	case l.token <- struct{}{}:
		return func() {
			<-l.token
			u.unref(userID, l)
		}, nil
	case <-ctx.Done():
		u.unref(userID, l)
		return nil, ctx.Err()
	}
}

func (u *userLocks) unref(userID string, l *userLock) {
	u.mu.Lock()
	defer u.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(u.m, userID)
	}
}

// size reports how many users have a lock entry.
func (u *userLocks) size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.m)
}

// confirmations tracks pending destructive requests per user.
type confirmations struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]time.Time
}

func newConfirmations(window time.Duration) *confirmations {
	return &confirmations{window: window, pending: make(map[string]time.Time)}
}

// request records a pending confirmation at now.
func (c *confirmations) request(userID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[userID] = now
}

// take reports whether a pending confirmation is still inside the
// window, and clears it either way.
func (c *confirmations) take(userID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.pending[userID]
	delete(c.pending, userID)
	return ok && now.Sub(at) <= c.window
}

// cancel drops any pending confirmation.
func (c *confirmations) cancel(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, userID)
}
