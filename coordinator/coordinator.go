package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyActionID is returned when no action identity is supplied.
var ErrEmptyActionID = errors.New("action id is required")

// Coordinator admits at most one in-flight execution per action identity and
// remembers when each identity last completed.
type Coordinator interface {
	// TryAcquire marks actionID in flight. It returns false without error
	// when another execution already holds it.
	TryAcquire(ctx context.Context, actionID string) (Lease, bool, error)

	// WasRecentlyCompleted reports whether actionID completed within window.
	// Stale completion records are evicted by the check.
	WasRecentlyCompleted(ctx context.Context, actionID string, window time.Duration) (bool, error)
}

// Lease is held while an admitted execution runs.
type Lease interface {
	// Release clears the in-flight marker and records the completion time.
	Release(ctx context.Context) error
}

// Result is the outcome of Execute. Blocked means fn was not run because a
// duplicate was already in flight; it is not an error.
type Result[T any] struct {
	Value   T
	Blocked bool
}

// Execute runs fn under the single-flight guard for actionID. The guard is
// released when fn returns, fails or panics, and an error from fn is
// returned unchanged.
func Execute[T any](ctx context.Context, c Coordinator, actionID string, fn func(ctx context.Context) (T, error)) (res Result[T], err error) {
	if actionID == "" {
		return res, ErrEmptyActionID
	}
	lease, ok, err := c.TryAcquire(ctx, actionID)
	if err != nil {
		return res, fmt.Errorf("acquire %s: %w", actionID, err)
	}
	if !ok {
		res.Blocked = true
		return res, nil
	}

	defer func() {
		// The caller's context may already be done; releasing must still happen.
		relErr := lease.Release(context.Background())
		if relErr != nil && err == nil {
			err = fmt.Errorf("release %s: %w", actionID, relErr)
		}
	}()

	res.Value, err = fn(ctx)
	return res, err
}
