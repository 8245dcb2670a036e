package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultRedisPrefix    = "coordinator:"
	defaultRetention = time.Minute
)

// releaseScript deletes the in-flight marker only if this lease still owns
// it, then records the completion time.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// RedisOptions configures a RedisCoordinator.
type RedisOptions struct {
	// Prefix namespaces the keys; defaults to "coordinator:".
	Prefix string
	// LockTTL bounds how long a crashed holder can wedge an action id.
	// Zero means no expiry.
	LockTTL time.Duration
	// Retention is how long completion records live in Redis; defaults to one minute.
	Retention time.Duration
	// Now replaces time.Now.
	Now func() time.Time
}

// RedisCoordinator is a Coordinator shared by every engine instance pointed
// at the same Redis, using SET NX as the conditional put.
type RedisCoordinator struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedisCoordinator creates a RedisCoordinator on an existing client.
func NewRedisCoordinator(client *redis.Client, opts RedisOptions) *RedisCoordinator {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.Retention == 0 {
		opts.Retention = defaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisCoordinator{client: client, opts: opts}
}

func (c *RedisCoordinator) inFlightKey(actionID string) string {
	return c.opts.Prefix + "inflight:" + actionID
}

func (c *RedisCoordinator) doneKey(actionID string) string {
	return c.opts.Prefix + "done:" + actionID
}

// TryAcquire implements Coordinator.
func (c *RedisCoordinator) TryAcquire(ctx context.Context, actionID string) (Lease, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, c.inFlightKey(actionID), token, c.opts.LockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set in-flight marker: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{c: c, actionID: actionID, token: token}, true, nil
}

// WasRecentlyCompleted implements Coordinator.
func (c *RedisCoordinator) WasRecentlyCompleted(ctx context.Context, actionID string, window time.Duration) (bool, error) {
	key := c.doneKey(actionID)
	at, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if c.opts.Now().UnixMilli()-at <= window.Milliseconds() {
		return true, nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("failed to evict %s: %w", key, err)
	}
	return false, nil
}

type redisLease struct {
	c        *RedisCoordinator
	actionID string
	token    string
}

func (l *redisLease) Release(ctx context.Context) error {
	keys := []string{l.c.inFlightKey(l.actionID), l.c.doneKey(l.actionID)}
	now := strconv.FormatInt(l.c.opts.Now().UnixMilli(), 10)
	retention := strconv.FormatInt(l.c.opts.Retention.Milliseconds(), 10)
	if err := releaseScript.Run(ctx, l.c.client, keys, l.token, now, retention).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.actionID, err)
	}
	return nil
}
