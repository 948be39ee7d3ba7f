package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tags how a room was created. It is stored at creation time rather
// than re-derived from auxiliary state on every read.
type Kind string

const (
	KindPublic Kind = "public"
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// The single well-known public room.
const (
	PublicName        = "general"
	PublicDisplayName = "General"
)

// Room is a chat room.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`

	// pairA and pairB hold the canonical member pair of a direct room.
	pairA string
	pairB string
}

// Membership records a user's membership in a room, unique per pair.
type Membership struct {
	RoomID   string
	UserID   string
	Role     string
	JoinedAt time.Time
}

// Directory resolves room names to rooms and tracks memberships.
type Directory struct {
	mu      sync.Mutex
	byID    map[string]*Room
	byName  map[string]*Room
	pairs   map[string]*Room                  // canonical "a|b" -> direct room
	members map[string]map[string]*Membership // roomID -> userID
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID:    make(map[string]*Room),
		byName:  make(map[string]*Room),
		pairs:   make(map[string]*Room),
		members: make(map[string]map[string]*Membership),
	}
}

// PublicOrCreate returns the public room, creating it on first reference.
// A missing display name is backfilled.
func (d *Directory) PublicOrCreate() *Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.byName[PublicName]; ok {
		if r.DisplayName == "" {
			r.DisplayName = PublicDisplayName
		}
		return r
	}
	return d.create(PublicName, PublicDisplayName, KindPublic)
}

// ByName returns the room with the given name, or nil.
func (d *Directory) ByName(name string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byName[name]
}

// ByID returns the room with the given id, or nil.
func (d *Directory) ByID(id string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID[id]
}

// OrCreateDirect returns the direct room for the user pair, creating it if
// absent. The pair is canonicalized, so argument order never matters and
// creation is idempotent.
func (d *Directory) OrCreateDirect(userA, userB string) *Room {
	a, b := userA, userB
	if b < a {
		a, b = b, a
	}
	key := a + "|" + b

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.pairs[key]; ok {
		return r
	}
	r := d.create("dm:"+uuid.NewString(), "", KindDirect)
	r.pairA, r.pairB = a, b
	d.pairs[key] = r
	return r
}

// CreateGroup creates a group room with a fresh generated name.
func (d *Directory) CreateGroup(displayName string) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.create("group:"+uuid.NewString(), displayName, KindGroup)
}

// create must be called with mu held.
func (d *Directory) create(name, displayName string, kind Kind) *Room {
	r := &Room{
		ID:          uuid.NewString(),
		Name:        name,
		DisplayName: displayName,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
	d.byID[r.ID] = r
	d.byName[r.Name] = r
	return r
}

// EnsureMembership grants membership if absent; existing rows are kept.
func (d *Directory) EnsureMembership(roomID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.members[roomID] == nil {
		d.members[roomID] = make(map[string]*Membership)
	}
	if _, ok := d.members[roomID][userID]; ok {
		return
	}
	d.members[roomID][userID] = &Membership{
		RoomID:   roomID,
		UserID:   userID,
		Role:     "member",
		JoinedAt: time.Now().UTC(),
	}
}

// IsMember reports whether the user has an explicit membership row.
func (d *Directory) IsMember(roomID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.members[roomID][userID]
	return ok
}

// MemberIDs returns the ids of the room's members.
func (d *Directory) MemberIDs(roomID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.members[roomID]))
	for id := range d.members[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DirectOther returns the other member of a direct room.
func (d *Directory) DirectOther(roomID, userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.byID[roomID]
	if !ok || r.Kind != KindDirect {
		return "", false
	}
	switch userID {
	case r.pairA:
		return r.pairB, true
	case r.pairB:
		return r.pairA, true
	}
	return "", false
}

// RoomsForUser returns every room the user belongs to, oldest first.
func (d *Directory) RoomsForUser(userID string) []*Room {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rooms []*Room
	for roomID, users := range d.members {
		if _, ok := users[userID]; ok {
			if r, exists := d.byID[roomID]; exists {
				rooms = append(rooms, r)
			}
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}
