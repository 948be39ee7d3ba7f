package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/backtrack-hq/chatcore/internal/identity"
	"github.com/backtrack-hq/chatcore/internal/message"
	"github.com/backtrack-hq/chatcore/internal/read"
	"github.com/backtrack-hq/chatcore/internal/room"
)

// Publisher delivers an accepted message to a room's live subscribers.
// Delivery is best-effort; Publish never fails the caller.
type Publisher interface {
	Publish(roomName string, v any)
}

// Service ties room access control, message persistence, read tracking,
// and fanout together. Every room-scoped operation authorizes the caller
// before touching storage.
type Service struct {
	users         *identity.Store
	rooms         *room.Directory
	messages      message.Store
	reads         read.Tracker
	pub           Publisher
	retentionDays int
	requireAuth   bool
	logger        *zap.Logger
}

// NewService creates the chat service. retentionDays <= 0 disables the
// retention sweep.
func NewService(users *identity.Store, rooms *room.Directory, messages message.Store, reads read.Tracker, pub Publisher, retentionDays int, requireAuth bool, logger *zap.Logger) *Service {
	return &Service{
		users:         users,
		rooms:         rooms,
		messages:      messages,
		reads:         reads,
		pub:           pub,
		retentionDays: retentionDays,
		requireAuth:   requireAuth,
		logger:        logger,
	}
}

// Member is a room member as rendered to clients.
type Member struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// MessagePayload is the wire shape of a message, sender profile joined in.
type MessagePayload struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"room_id"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	DisplayName     string    `json:"display_name"`
	Email           string    `json:"email,omitempty"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
}

// ReadState carries the caller's read marker, the freshest peer marker,
// and the unread count derived from the caller's marker.
type ReadState struct {
	LastReadAt      *time.Time `json:"lastReadAt"`
	OtherLastReadAt *time.Time `json:"otherLastReadAt"`
	UnreadCount     int        `json:"unreadCount"`
}

// History is a page of room history plus the caller's read state.
type History struct {
	Room     string           `json:"room"`
	Messages []MessagePayload `json:"messages"`
	ReadState
}

// ReadReceipt is the state returned after marking a room read.
type ReadReceipt struct {
	Room string `json:"room"`
	ReadState
}

// Meta describes a room for the caller.
type Meta struct {
	Room        string    `json:"room"`
	Type        room.Kind `json:"type"`
	DisplayName string    `json:"displayName"`
	Members     []Member  `json:"members"`
	ReadState
}

// RoomSummary is one row of a user's room list.
type RoomSummary struct {
	Room          string     `json:"room"`
	Type          room.Kind  `json:"type"`
	DisplayName   string     `json:"displayName"`
	LastMessage   string     `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	UnreadCount   int        `json:"unreadCount"`
	Members       []Member   `json:"members"`
}

// ResolveRoom maps a requested room name to a room. Only the public room
// is created on first reference; unknown names resolve to nil.
func (s *Service) ResolveRoom(name string) *room.Room {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		normalized = room.PublicName
	}
	if normalized == room.PublicName {
		return s.rooms.PublicOrCreate()
	}
	return s.rooms.ByName(normalized)
}

// Authorize gates a room operation for a user. Public-room membership is
// granted implicitly on first access; direct and group rooms require an
// explicit membership row.
func (s *Service) Authorize(rm *room.Room, user *identity.User) error {
	if rm == nil {
		return ErrRoomNotFound
	}
	if user == nil {
		return ErrAuthRequired
	}
	if rm.Kind == room.KindPublic {
		s.rooms.EnsureMembership(rm.ID, user.ID)
		return nil
	}
	if !s.rooms.IsMember(rm.ID, user.ID) {
		return ErrForbidden
	}
	return nil
}

// PostMessage runs the acceptance pipeline: authorize, sweep retention,
// idempotent append, advance the sender's read marker, publish. A message
// is only published after it has been durably accepted, and a duplicate
// client id returns the previously stored message with created=false.
func (s *Service) PostMessage(ctx context.Context, roomName string, user *identity.User, body, clientMessageID string) (*MessagePayload, bool, error) {
	rm := s.ResolveRoom(roomName)
	if err := s.Authorize(rm, user); err != nil {
		return nil, false, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false, Validation("message body required")
	}

	if s.retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
		if err := s.messages.PurgeOlderThan(ctx, cutoff); err != nil {
			s.logger.Warn("retention sweep failed", zap.Error(err))
		}
	}

	now := time.Now().UTC()
	msg := &message.Message{
		ID:              uuid.NewString(),
		RoomID:          rm.ID,
		SenderID:        user.ID,
		Body:            body,
		CreatedAt:       now,
		ClientMessageID: clientMessageID,
	}
	stored, created, err := s.messages.Append(ctx, msg)
	if err != nil {
		if errors.Is(err, message.ErrDuplicateRace) {
			return nil, false, fmt.Errorf("%w: %v", ErrDuplicateMessage, err)
		}
		return nil, false, fmt.Errorf("%w: append: %v", ErrInternal, err)
	}

	payload := s.wireMessage(stored)
	if !created {
		return &payload, false, nil
	}

	if err := s.reads.SetLastReadAt(ctx, rm.ID, user.ID, stored.CreatedAt); err != nil {
		// The message is already durable; a missed marker only inflates the
		// sender's own unread count until the next mark.
		s.logger.Warn("advance read marker failed", zap.String("room", rm.Name), zap.Error(err))
	}
	s.pub.Publish(rm.Name, payload)
	return &payload, true, nil
}

// History returns a page of messages plus the caller's read state.
func (s *Service) History(ctx context.Context, roomName string, user *identity.User, limit int, before time.Time) (*History, error) {
	rm := s.ResolveRoom(roomName)
	if err := s.Authorize(rm, user); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	} else if limit > 200 {
		limit = 200
	}

	state, err := s.readState(ctx, rm, user, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.Page(ctx, rm.ID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("%w: page: %v", ErrInternal, err)
	}

	payloads := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, s.wireMessage(m))
	}
	return &History{Room: roomName, Messages: payloads, ReadState: *state}, nil
}

// MarkRead sets the caller's read marker to now and returns the state
// computed against the fresh marker.
func (s *Service) MarkRead(ctx context.Context, roomName string, user *identity.User) (*ReadReceipt, error) {
	rm := s.ResolveRoom(roomName)
	if err := s.Authorize(rm, user); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.reads.SetLastReadAt(ctx, rm.ID, user.ID, now); err != nil {
		return nil, fmt.Errorf("%w: set marker: %v", ErrInternal, err)
	}
	state, err := s.readState(ctx, rm, user, &now)
	if err != nil {
		return nil, err
	}
	return &ReadReceipt{Room: roomName, ReadState: *state}, nil
}

// RoomMeta returns the room's type, display name, members, and the
// caller's read state.
func (s *Service) RoomMeta(ctx context.Context, roomName string, user *identity.User) (*Meta, error) {
	rm := s.ResolveRoom(roomName)
	if err := s.Authorize(rm, user); err != nil {
		return nil, err
	}

	state, err := s.readState(ctx, rm, user, nil)
	if err != nil {
		return nil, err
	}
	return &Meta{
		Room:        roomName,
		Type:        rm.Kind,
		DisplayName: s.displayName(rm, user),
		Members:     s.memberList(rm),
		ReadState:   *state,
	}, nil
}

// RoomMembers returns the room's member list.
func (s *Service) RoomMembers(ctx context.Context, roomName string, user *identity.User) ([]Member, error) {
	rm := s.ResolveRoom(roomName)
	if err := s.Authorize(rm, user); err != nil {
		return nil, err
	}
	return s.memberList(rm), nil
}

// CreateDirect resolves the target email to a (possibly pending) user and
// returns the canonical direct room for the pair, creating it if absent.
func (s *Service) CreateDirect(ctx context.Context, requester *identity.User, email string) (*room.Room, error) {
	if strings.TrimSpace(email) == "" {
		return nil, Validation("email required")
	}
	if requester == nil || (s.requireAuth && requester.State == identity.StateAnonymous) {
		return nil, ErrAuthRequired
	}

	target, err := s.users.OrCreatePending(email)
	if err != nil {
		return nil, Validation(err.Error())
	}
	rm := s.rooms.OrCreateDirect(requester.ID, target.ID)
	s.rooms.EnsureMembership(rm.ID, requester.ID)
	s.rooms.EnsureMembership(rm.ID, target.ID)
	return rm, nil
}

// CreateGroup creates a named group room and grants membership to the
// requester plus every resolved member.
func (s *Service) CreateGroup(ctx context.Context, requester *identity.User, displayName string, memberEmails []string) (*room.Room, error) {
	if requester == nil || (s.requireAuth && requester.State == identity.StateAnonymous) {
		return nil, ErrAuthRequired
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, Validation("group name required")
	}

	seen := make(map[string]struct{})
	var emails []string
	for _, e := range memberEmails {
		normalized := identity.NormalizeEmail(e)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		emails = append(emails, normalized)
	}
	if len(emails) < 2 {
		return nil, Validation("at least two members required")
	}

	rm := s.rooms.CreateGroup(displayName)
	s.rooms.EnsureMembership(rm.ID, requester.ID)
	for _, email := range emails {
		member, err := s.users.OrCreatePending(email)
		if err != nil {
			continue
		}
		s.rooms.EnsureMembership(rm.ID, member.ID)
	}
	return rm, nil
}

// ListRooms joins the user to the public room, then summarizes every room
// the user belongs to: public room first, the rest oldest first.
func (s *Service) ListRooms(ctx context.Context, user *identity.User) ([]RoomSummary, error) {
	if user == nil {
		return []RoomSummary{}, nil
	}
	pub := s.rooms.PublicOrCreate()
	s.rooms.EnsureMembership(pub.ID, user.ID)

	rooms := s.rooms.RoomsForUser(user.ID)
	summaries := make([]RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		summary, err := s.summarize(ctx, rm, user)
		if err != nil {
			return nil, err
		}
		if rm.Kind == room.KindPublic {
			summaries = append([]RoomSummary{summary}, summaries...)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, rm *room.Room, user *identity.User) (RoomSummary, error) {
	last, err := s.messages.LastMessage(ctx, rm.ID)
	if err != nil {
		return RoomSummary{}, fmt.Errorf("%w: last message: %v", ErrInternal, err)
	}
	state, err := s.readState(ctx, rm, user, nil)
	if err != nil {
		return RoomSummary{}, err
	}

	summary := RoomSummary{
		Room:        rm.Name,
		Type:        rm.Kind,
		DisplayName: s.displayName(rm, user),
		UnreadCount: state.UnreadCount,
		Members:     s.memberList(rm),
	}
	if last != nil {
		at := last.CreatedAt
		summary.LastMessage = last.Body
		summary.LastMessageAt = &at
	}
	return summary, nil
}

// readState computes the caller's read state. A non-nil marker overrides
// the stored one, for responses that must reflect a mark just written.
func (s *Service) readState(ctx context.Context, rm *room.Room, user *identity.User, marker *time.Time) (*ReadState, error) {
	state := &ReadState{}
	if marker != nil {
		state.LastReadAt = marker
	} else {
		at, ok, err := s.reads.LastReadAt(ctx, rm.ID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: read marker: %v", ErrInternal, err)
		}
		if ok {
			state.LastReadAt = &at
		}
	}

	other, ok, err := s.reads.OtherLastReadAt(ctx, rm.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: peer markers: %v", ErrInternal, err)
	}
	if ok {
		state.OtherLastReadAt = &other
	}

	since := time.Time{}
	if state.LastReadAt != nil {
		since = *state.LastReadAt
	}
	count, err := s.messages.CountOthersSince(ctx, rm.ID, user.ID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: unread count: %v", ErrInternal, err)
	}
	state.UnreadCount = count
	return state, nil
}

// displayName resolves what the caller should see as the room title: the
// peer's name for a direct room, the stored display name otherwise.
func (s *Service) displayName(rm *room.Room, user *identity.User) string {
	if rm.Kind == room.KindDirect {
		if otherID, ok := s.rooms.DirectOther(rm.ID, user.ID); ok {
			if other := s.users.ByID(otherID); other != nil {
				if other.DisplayName != "" {
					return other.DisplayName
				}
				if other.Email != "" {
					return other.Email
				}
			}
		}
		return "Direct Message"
	}
	if rm.DisplayName != "" {
		return rm.DisplayName
	}
	if rm.Kind == room.KindPublic {
		return room.PublicDisplayName
	}
	return "Group"
}

func (s *Service) memberList(rm *room.Room) []Member {
	ids := s.rooms.MemberIDs(rm.ID)
	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		u := s.users.ByID(id)
		if u == nil {
			continue
		}
		m := Member{Email: u.Email, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
		if m.DisplayName == "" {
			if m.Email != "" {
				m.DisplayName = m.Email
			} else {
				m.DisplayName = "User"
			}
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].DisplayName != members[j].DisplayName {
			return members[i].DisplayName < members[j].DisplayName
		}
		return members[i].Email < members[j].Email
	})
	return members
}

func (s *Service) wireMessage(m *message.Message) MessagePayload {
	payload := MessagePayload{
		ID:              m.ID,
		RoomID:          m.RoomID,
		Body:            m.Body,
		CreatedAt:       m.CreatedAt,
		ClientMessageID: m.ClientMessageID,
		DisplayName:     "User",
	}
	if sender := s.users.ByID(m.SenderID); sender != nil {
		if sender.DisplayName != "" {
			payload.DisplayName = sender.DisplayName
		}
		payload.Email = sender.Email
		payload.AvatarURL = sender.AvatarURL
	}
	return payload
}
