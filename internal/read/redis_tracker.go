package read

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// readsKey returns the Redis key for a room's read-marker hash.
func readsKey(roomID string) string {
	return "room:" + roomID + ":reads"
}

// RedisTracker stores read markers in Redis, one hash per room mapping
// user id to an RFC3339 timestamp.
type RedisTracker struct {
	client redis.Cmdable
}

// NewRedisTracker creates a Redis-backed tracker.
func NewRedisTracker(client redis.Cmdable) *RedisTracker {
	return &RedisTracker{client: client}
}

// LastReadAt implements Tracker.
func (t *RedisTracker) LastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := t.client.HGet(ctx, readsKey(roomID), userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read marker: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode marker: %w", err)
	}
	return at, true, nil
}

// SetLastReadAt implements Tracker.
func (t *RedisTracker) SetLastReadAt(ctx context.Context, roomID, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := t.client.HSet(ctx, readsKey(roomID), userID, at.Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// OtherLastReadAt implements Tracker.
func (t *RedisTracker) OtherLastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	all, err := t.client.HGetAll(ctx, readsKey(roomID)).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read markers: %w", err)
	}

	var latest time.Time
	found := false
	for uid, raw := range all {
		if uid == userID {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found, nil
}
