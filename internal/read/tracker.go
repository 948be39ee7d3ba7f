// Package read tracks per-user read markers used for unread counts and
// read receipts.
package read

import (
	"context"
	"sync"
	"time"
)

// Tracker is the interface for read-marker backends. At most one marker
// exists per (room, user) pair; writes are last-write-wins.
type Tracker interface {
	// LastReadAt returns the user's marker for the room.
	LastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error)
	// SetLastReadAt upserts the user's marker. No monotonicity is enforced;
	// an out-of-order mark regresses the marker.
	SetLastReadAt(ctx context.Context, roomID, userID string, at time.Time) error
	// OtherLastReadAt returns the most recent marker among the room's other
	// users, for read-receipt display.
	OtherLastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error)
}

// MemTracker keeps read markers in memory.
type MemTracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]time.Time
}

// NewMemTracker creates an empty in-memory tracker.
func NewMemTracker() *MemTracker {
	return &MemTracker{rooms: make(map[string]map[string]time.Time)}
}

// LastReadAt implements Tracker.
func (t *MemTracker) LastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.rooms[roomID][userID]
	return at, ok, nil
}

// SetLastReadAt implements Tracker.
func (t *MemTracker) SetLastReadAt(ctx context.Context, roomID, userID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[string]time.Time)
	}
	t.rooms[roomID][userID] = at
	return nil
}

// OtherLastReadAt implements Tracker.
func (t *MemTracker) OtherLastReadAt(ctx context.Context, roomID, userID string) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var latest time.Time
	found := false
	for uid, at := range t.rooms[roomID] {
		if uid == userID {
			continue
		}
		if !found || at.After(latest) {
			latest = at
			found = true
		}
	}
	return latest, found, nil
}
