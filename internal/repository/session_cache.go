package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/model"
)

// saveIfNewer stores a snapshot only when it is strictly newer than the one
// already cached. KEYS[1] progress hash; ARGV[1] progressStamp, ARGV[2] JSON,
// ARGV[3] ttl seconds.
var saveIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'saved_at')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'saved_at', ARGV[1], 'snapshot', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// progressStamp is the saved_at ordering value compared inside Lua, where
// numbers are doubles. Microseconds stay exact in a double; nanoseconds of a
// current date do not.
func progressStamp(t time.Time) int64 {
	return t.UnixMicro()
}

// SessionCache is the Redis fast lane for hot session data: start times,
// lifecycle state, latest progress, persist queues and monitor events.
type SessionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionCache creates a SessionCache whose keys expire after ttl.
func NewSessionCache(rdb *redis.Client, ttl time.Duration) *SessionCache {
	return &SessionCache{rdb: rdb, ttl: ttl}
}

// SetStart caches the session start time.
func (c *SessionCache) SetStart(ctx context.Context, sessionID string, at time.Time) error {
	return c.rdb.Set(ctx, config.CacheKey.SessionStartKey(sessionID), at.Unix(), c.ttl).Err()
}

// GetStart returns the cached start time. Returns redis.Nil on a miss.
func (c *SessionCache) GetStart(ctx context.Context, sessionID string) (time.Time, error) {
	v, err := c.rdb.Get(ctx, config.CacheKey.SessionStartKey(sessionID)).Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0), nil
}

// SetState caches the lifecycle state.
func (c *SessionCache) SetState(ctx context.Context, sessionID string, state model.SessionState) error {
	return c.rdb.Set(ctx, config.CacheKey.SessionStateKey(sessionID), string(state), c.ttl).Err()
}

// GetState returns the cached lifecycle state. Returns redis.Nil on a miss.
func (c *SessionCache) GetState(ctx context.Context, sessionID string) (model.SessionState, error) {
	v, err := c.rdb.Get(ctx, config.CacheKey.SessionStateKey(sessionID)).Result()
	if err != nil {
		return "", err
	}
	return model.SessionState(v), nil
}

// SaveProgress caches snap unless a newer snapshot is already present.
// Reports whether snap was stored.
func (c *SessionCache) SaveProgress(ctx context.Context, sessionID string, snap model.Snapshot) (bool, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	key := config.CacheKey.SessionProgressKey(sessionID)
	n, err := saveIfNewer.Run(ctx, c.rdb, []string{key},
		progressStamp(snap.SavedAt), raw, int64(c.ttl/time.Second)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetProgress returns the cached snapshot. Returns redis.Nil on a miss.
func (c *SessionCache) GetProgress(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	raw, err := c.rdb.HGet(ctx, config.CacheKey.SessionProgressKey(sessionID), "snapshot").Bytes()
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

// Enqueue pushes a JSON payload onto a persist queue.
func (c *SessionCache) Enqueue(ctx context.Context, queue string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	return c.rdb.RPush(ctx, queue, raw).Err()
}

// Publish broadcasts a monitor event to connected reviewers.
func (c *SessionCache) Publish(ctx context.Context, event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	return c.rdb.Publish(ctx, config.CacheKey.SessionMonitorChannel(), raw).Err()
}
