package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/license-workflow/types"
)

const (
	applicationPrefix = "application:"
	historyPrefix     = "history:"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Each application is a JSON value; its history is a Redis list appended
// in the same MULTI as the state update.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the client NewRedisStorage dials.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	// Prefix namespaces every key so several deployments can share a database.
	Prefix string
}

// NewRedisStorage dials Redis and checks the connection before returning.
// The storage owns the client; Close releases it.
func NewRedisStorage(ctx context.Context, opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStorageFromClient(client, opts.Prefix), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

// Client returns the underlying client so the coordinator can share it.
func (s *RedisStorage) Client() *redis.Client {
	return s.client
}

func (s *RedisStorage) applicationKey(id string) string { return s.prefix + applicationPrefix + id }
func (s *RedisStorage) historyKey(id string) string     { return s.prefix + historyPrefix + id }

// marshalState encodes an application without its history.
func marshalState(app types.Application) ([]byte, error) {
	state := app
	state.History = nil
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal application %s: %w", app.ID, err)
	}
	return data, nil
}

// SaveApplication implements Storage.
func (s *RedisStorage) SaveApplication(ctx context.Context, app types.Application) error {
	return withContextError(ctx, func() error {
		data, err := marshalState(app)
		if err != nil {
			return err
		}
		entries := make([]interface{}, 0, len(app.History))
		for _, h := range app.History {
			b, err := json.Marshal(h)
			if err != nil {
				return fmt.Errorf("failed to marshal history of %s: %w", app.ID, err)
			}
			entries = append(entries, b)
		}

		key := s.applicationKey(app.ID)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: id=%s", ErrApplicationExists, app.ID)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.Del(ctx, s.historyKey(app.ID))
				if len(entries) > 0 {
					pipe.RPush(ctx, s.historyKey(app.ID), entries...)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: id=%s", ErrApplicationExists, app.ID)
		}
		return err
	})
}

// LoadApplication implements Storage.
func (s *RedisStorage) LoadApplication(ctx context.Context, id string) (types.Application, error) {
	return withContext(ctx, func() (types.Application, error) {
		app, err := s.getApplication(ctx, s.client, id)
		if err != nil {
			return types.Application{}, err
		}
		raw, err := s.client.LRange(ctx, s.historyKey(id), 0, -1).Result()
		if err != nil {
			return types.Application{}, fmt.Errorf("failed to read history of %s: %w", id, err)
		}
		app.History = make([]types.HistoryEntry, 0, len(raw))
		for _, r := range raw {
			var h types.HistoryEntry
			if err := json.Unmarshal([]byte(r), &h); err != nil {
				return types.Application{}, fmt.Errorf("failed to unmarshal history of %s: %w", id, err)
			}
			app.History = append(app.History, h)
		}
		return app, nil
	})
}

// getApplication reads the state of one application.
func (s *RedisStorage) getApplication(ctx context.Context, c redis.Cmdable, id string) (types.Application, error) {
	key := s.applicationKey(id)
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Application{}, fmt.Errorf("%w: id=%s", ErrApplicationNotFound, id)
	} else if err != nil {
		return types.Application{}, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	var app types.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return types.Application{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return app, nil
}

// CommitTransition implements Storage. The application key is watched so a
// concurrent commit aborts the transaction with ErrConflict.
func (s *RedisStorage) CommitTransition(ctx context.Context, commit types.Commit) error {
	return withContextError(ctx, func() error {
		id := commit.Application.ID
		data, err := marshalState(commit.Application)
		if err != nil {
			return err
		}
		entry, err := json.Marshal(commit.Entry)
		if err != nil {
			return fmt.Errorf("failed to marshal history entry of %s: %w", id, err)
		}

		key := s.applicationKey(id)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.getApplication(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Version != commit.ExpectedVersion {
				return fmt.Errorf("%w: id=%s stored=%d expected=%d", ErrConflict, id, current.Version, commit.ExpectedVersion)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				pipe.RPush(ctx, s.historyKey(id), entry)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: id=%s", ErrConflict, id)
		}
		return err
	})
}

// ListApplications implements Storage. Results are ordered by ID.
func (s *RedisStorage) ListApplications(ctx context.Context) ([]types.Application, error) {
	return withContext(ctx, func() ([]types.Application, error) {
		var out []types.Application
		match := s.prefix + applicationPrefix
		iter := s.client.Scan(ctx, 0, match+"*", 100).Iterator()
		for iter.Next(ctx) {
			id := iter.Val()[len(match):]
			app, err := s.getApplication(ctx, s.client, id)
			if errors.Is(err, ErrApplicationNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			out = append(out, app)
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan application keys: %w", err)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
