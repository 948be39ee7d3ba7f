package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// msgKey returns the Redis key for a room's message log, a sorted set
// scored by creation time.
func msgKey(roomID string) string {
	return "room:" + roomID + ":messages"
}

// idemKey returns the Redis key for a room's client-message-id hash.
func idemKey(roomID string) string {
	return "room:" + roomID + ":clientids"
}

// roomsKey indexes every room that has ever stored a message, for the
// retention sweep.
const roomsKey = "rooms:with-messages"

// RedisStore persists messages in Redis, one sorted set per room keyed by
// creation time so pagination and retention are range operations.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed message store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Append implements Store. Idempotency rides on HSetNX: the first writer of
// a (room, client id) pair owns it, later writers read back the stored row.
func (s *RedisStore) Append(ctx context.Context, msg *Message) (*Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false, fmt.Errorf("marshal message: %w", err)
	}

	if msg.ClientMessageID != "" {
		set, err := s.client.HSetNX(ctx, idemKey(msg.RoomID), msg.ClientMessageID, data).Result()
		if err != nil {
			return nil, false, fmt.Errorf("reserve client message id: %w", err)
		}
		if !set {
			raw, err := s.client.HGet(ctx, idemKey(msg.RoomID), msg.ClientMessageID).Result()
			if err == redis.Nil {
				return nil, false, ErrDuplicateRace
			}
			if err != nil {
				return nil, false, fmt.Errorf("read existing message: %w", err)
			}
			var existing Message
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return nil, false, fmt.Errorf("decode existing message: %w", err)
			}
			return &existing, false, nil
		}
	}

	pipe := s.client.Pipeline()
	// UnixNano exceeds float64's 53-bit integer range, so scores (and the
	// exclusiveScore bounds) are only exact to ~100ns; entries tied within
	// that window still order deterministically by the id-first JSON member.
	pipe.ZAdd(ctx, msgKey(msg.RoomID), redis.Z{Score: float64(msg.CreatedAt.UnixNano()), Member: data})
	pipe.SAdd(ctx, roomsKey, msg.RoomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("append message: %w", err)
	}
	return msg, true, nil
}

// Page implements Store.
func (s *RedisStore) Page(ctx context.Context, roomID string, limit int, before time.Time) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var vals []string
	var err error
	if before.IsZero() {
		vals, err = s.client.ZRevRange(ctx, msgKey(roomID), 0, int64(limit-1)).Result()
	} else {
		vals, err = s.client.ZRevRangeByScore(ctx, msgKey(roomID), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   exclusiveScore(before),
			Count: int64(limit),
		}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	// Newest-first from Redis; reorder to ascending.
	msgs := make([]*Message, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var m Message
		if err := json.Unmarshal([]byte(vals[i]), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// LastMessage implements Store.
func (s *RedisStore) LastMessage(ctx context.Context, roomID string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := s.client.ZRevRange(ctx, msgKey(roomID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read last message: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	var m Message
	if err := json.Unmarshal([]byte(vals[0]), &m); err != nil {
		return nil, fmt.Errorf("decode last message: %w", err)
	}
	return &m, nil
}

// CountOthersSince implements Store.
func (s *RedisStore) CountOthersSince(ctx context.Context, roomID, excludeSender string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	min := "-inf"
	if !since.IsZero() {
		min = "(" + strconv.FormatInt(since.UnixNano(), 10)
	}
	vals, err := s.client.ZRangeByScore(ctx, msgKey(roomID), &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	count := 0
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		if m.SenderID != excludeSender {
			count++
		}
	}
	return count, nil
}

// PurgeOlderThan implements Store.
func (s *RedisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	roomIDs, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	max := exclusiveScore(cutoff)
	for _, roomID := range roomIDs {
		vals, err := s.client.ZRangeByScore(ctx, msgKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return fmt.Errorf("read expired messages: %w", err)
		}
		var clientIDs []string
		for _, v := range vals {
			var m Message
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				continue
			}
			if m.ClientMessageID != "" {
				clientIDs = append(clientIDs, m.ClientMessageID)
			}
		}

		pipe := s.client.Pipeline()
		pipe.ZRemRangeByScore(ctx, msgKey(roomID), "-inf", max)
		if len(clientIDs) > 0 {
			pipe.HDel(ctx, idemKey(roomID), clientIDs...)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("purge messages: %w", err)
		}
	}
	return nil
}

// exclusiveScore formats t as an exclusive sorted-set bound, so only
// strictly older entries match.
func exclusiveScore(t time.Time) string {
	return "(" + strconv.FormatInt(t.UnixNano(), 10)
}
