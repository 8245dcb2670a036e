package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/license-workflow/types"
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrApplicationExists   = errors.New("application already exists")
	// ErrConflict is returned by CommitTransition when the stored version no
	// longer matches the version the transition was computed from.
	ErrConflict = errors.New("application version conflict")
)

// Storage persists applications and their append-only history.
type Storage interface {
	// SaveApplication stores a new application. It fails with
	// ErrApplicationExists if the ID is taken.
	SaveApplication(ctx context.Context, app types.Application) error

	// LoadApplication returns the application with its full history.
	LoadApplication(ctx context.Context, id string) (types.Application, error)

	// CommitTransition atomically replaces the application's state fields and
	// appends the history entry, provided the stored version equals
	// commit.ExpectedVersion. History in commit.Application is ignored.
	CommitTransition(ctx context.Context, commit types.Commit) error

	// ListApplications returns every application without its history.
	ListApplications(ctx context.Context) ([]types.Application, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// committed builds the stored form of an application after commit: the new
// state fields on top of the existing history plus the new entry.
func committed(history []types.HistoryEntry, commit types.Commit) types.Application {
	next := commit.Application.Clone()
	next.History = make([]types.HistoryEntry, 0, len(history)+1)
	for _, h := range history {
		next.History = append(next.History, h.Clone())
	}
	next.History = append(next.History, commit.Entry.Clone())
	return next
}
