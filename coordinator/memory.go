package coordinator

import (
	"context"
	"sync"
	"time"
)

// MemoryCoordinator is a single-process Coordinator. Create one per engine;
// instances share no state.
type MemoryCoordinator struct {
	mu        sync.Mutex
	inFlight  map[string]struct{}
	completed map[string]time.Time
	now       func() time.Time
	retention time.Duration
	lastSweep time.Time
}

// MemoryOption configures a MemoryCoordinator.
type MemoryOption func(*MemoryCoordinator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCoordinator) {
		c.now = now
	}
}

// WithRetention sets how long completion records are kept. It must cover
// the longest debounce window asked of WasRecentlyCompleted. Non-positive
// values keep the one minute default.
func WithRetention(d time.Duration) MemoryOption {
	return func(c *MemoryCoordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// NewMemoryCoordinator creates an empty MemoryCoordinator.
func NewMemoryCoordinator(options ...MemoryOption) *MemoryCoordinator {
	c := &MemoryCoordinator{
		inFlight:  make(map[string]struct{}),
		completed: make(map[string]time.Time),
		now:       time.Now,
		retention: defaultRetention,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// TryAcquire implements Coordinator.
func (c *MemoryCoordinator) TryAcquire(ctx context.Context, actionID string) (Lease, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()
	if _, busy := c.inFlight[actionID]; busy {
		return nil, false, nil
	}
	c.inFlight[actionID] = struct{}{}
	return &memoryLease{c: c, actionID: actionID}, true, nil
}

// WasRecentlyCompleted implements Coordinator.
func (c *MemoryCoordinator) WasRecentlyCompleted(ctx context.Context, actionID string, window time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.completed[actionID]
	if !ok {
		return false, nil
	}
	if c.now().Sub(at) <= window {
		return true, nil
	}
	delete(c.completed, actionID)
	return false, nil
}

// sweep drops completion records older than the retention, at most once
// per retention period. Callers hold c.mu.
func (c *MemoryCoordinator) sweep() {
	now := c.now()
	if now.Sub(c.lastSweep) < c.retention {
		return
	}
	c.lastSweep = now
	for id, at := range c.completed {
		if now.Sub(at) > c.retention {
			delete(c.completed, id)
		}
	}
}

// Completed reports how many completion records are held.
func (c *MemoryCoordinator) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completed)
}

// InFlight reports whether actionID is currently held.
func (c *MemoryCoordinator) InFlight(actionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[actionID]
	return ok
}

type memoryLease struct {
	c        *MemoryCoordinator
	actionID string
	once     sync.Once
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		l.c.mu.Lock()
		defer l.c.mu.Unlock()
		delete(l.c.inFlight, l.actionID)
		l.c.completed[l.actionID] = l.c.now()
	})
	return nil
}
