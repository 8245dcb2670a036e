package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/license-workflow/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Values are deep-copied on the way in and out so callers cannot alter
// stored history.
type MemoryStorage struct {
	applications map[string]types.Application
	mu           sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		applications: make(map[string]types.Application),
	}
}

// SaveApplication implements Storage.
func (s *MemoryStorage) SaveApplication(ctx context.Context, app types.Application) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.applications[app.ID]; ok {
			return fmt.Errorf("%w: id=%s", ErrApplicationExists, app.ID)
		}
		s.applications[app.ID] = app.Clone()
		return nil
	})
}

// LoadApplication implements Storage.
func (s *MemoryStorage) LoadApplication(ctx context.Context, id string) (types.Application, error) {
	return withContext(ctx, func() (types.Application, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		app, ok := s.applications[id]
		if !ok {
			return types.Application{}, fmt.Errorf("%w: id=%s", ErrApplicationNotFound, id)
		}
		return app.Clone(), nil
	})
}

// CommitTransition implements Storage.
func (s *MemoryStorage) CommitTransition(ctx context.Context, commit types.Commit) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := commit.Application.ID
		current, ok := s.applications[id]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrApplicationNotFound, id)
		}
		if current.Version != commit.ExpectedVersion {
			return fmt.Errorf("%w: id=%s stored=%d expected=%d", ErrConflict, id, current.Version, commit.ExpectedVersion)
		}
		s.applications[id] = committed(current.History, commit)
		return nil
	})
}

// ListApplications implements Storage. Results are ordered by ID.
func (s *MemoryStorage) ListApplications(ctx context.Context) ([]types.Application, error) {
	return withContext(ctx, func() ([]types.Application, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.Application, 0, len(s.applications))
		for _, app := range s.applications {
			c := app.Clone()
			c.History = nil
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}
