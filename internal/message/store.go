package message

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateRace reports an idempotent insert that found neither room to
// insert nor an existing row. It indicates a key or isolation bug in the
// backend, never a user error.
var ErrDuplicateRace = errors.New("duplicate client message id with no stored row")

// Store is the interface for message persistence backends.
type Store interface {
	// Append stores msg. When msg.ClientMessageID is set and a message with
	// the same (room, client id) already exists, the existing message is
	// returned with created=false and nothing is written.
	Append(ctx context.Context, msg *Message) (stored *Message, created bool, err error)
	// Page returns up to limit messages in ascending creation order. When
	// before is non-zero only messages strictly older than it are considered;
	// either way the newest qualifying messages are returned.
	Page(ctx context.Context, roomID string, limit int, before time.Time) ([]*Message, error)
	// LastMessage returns the newest message in the room, or nil.
	LastMessage(ctx context.Context, roomID string) (*Message, error)
	// CountOthersSince counts messages not authored by excludeSender with
	// CreatedAt after since; a zero since counts all of them.
	CountOthersSince(ctx context.Context, roomID, excludeSender string, since time.Time) (int, error)
	// PurgeOlderThan deletes every message created before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) error
}

// MemStore keeps messages per room in memory.
type MemStore struct {
	mu    sync.RWMutex
	rooms map[string][]*Message
	// byClientID maps roomID -> clientMessageID -> message.
	byClientID map[string]map[string]*Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rooms:      make(map[string][]*Message),
		byClientID: make(map[string]map[string]*Message),
	}
}

// Append implements Store.
func (s *MemStore) Append(ctx context.Context, msg *Message) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ClientMessageID != "" {
		if existing, ok := s.byClientID[msg.RoomID][msg.ClientMessageID]; ok {
			return existing, false, nil
		}
		if s.byClientID[msg.RoomID] == nil {
			s.byClientID[msg.RoomID] = make(map[string]*Message)
		}
		s.byClientID[msg.RoomID][msg.ClientMessageID] = msg
	}

	msgs := append(s.rooms[msg.RoomID], msg)
	// Inserts arrive nearly ordered; keep the slice sorted.
	sort.Slice(msgs, func(i, j int) bool { return less(msgs[i], msgs[j]) })
	s.rooms[msg.RoomID] = msgs
	return msg, true, nil
}

// Page implements Store.
func (s *MemStore) Page(ctx context.Context, roomID string, limit int, before time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	if !before.IsZero() {
		n := sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].CreatedAt.Before(before)
		})
		msgs = msgs[:n]
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// LastMessage implements Store.
func (s *MemStore) LastMessage(ctx context.Context, roomID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

// CountOthersSince implements Store.
func (s *MemStore) CountOthersSince(ctx context.Context, roomID, excludeSender string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.rooms[roomID] {
		if m.SenderID == excludeSender {
			continue
		}
		if since.IsZero() || m.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// PurgeOlderThan implements Store.
func (s *MemStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, msgs := range s.rooms {
		n := sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].CreatedAt.Before(cutoff)
		})
		if n == 0 {
			continue
		}
		for _, purged := range msgs[:n] {
			if purged.ClientMessageID != "" {
				delete(s.byClientID[roomID], purged.ClientMessageID)
			}
		}
		kept := make([]*Message, len(msgs)-n)
		copy(kept, msgs[n:])
		if len(kept) == 0 {
			delete(s.rooms, roomID)
			continue
		}
		s.rooms[roomID] = kept
	}
	return nil
}
