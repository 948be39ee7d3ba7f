package identity

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ErrInvalidClaims is returned when a claims payload has no subject.
var ErrInvalidClaims = errors.New("invalid claims")

// State tags how an identity was established.
type State string

const (
	// StateVerified identities come from a successfully verified token.
	StateVerified State = "verified"
	// StatePending identities were created from an email reference (an
	// invite) before that person ever authenticated.
	StatePending State = "pending"
	// StateAnonymous is the shared identity for unauthenticated access.
	StateAnonymous State = "anonymous"
)

// Claims is the payload yielded by the external token verifier.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// User is a chat identity.
type User struct {
	ID          string    `json:"id"`
	Subject     string    `json:"-"`
	State       State     `json:"-"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Store resolves and persists users in memory, indexed by id, external
// subject, and email.
type Store struct {
	mu        sync.Mutex
	byID      map[string]*User
	bySubject map[string]*User
	byEmail   map[string]*User
	anonymous *User
}

// NewStore creates an empty identity store.
func NewStore() *Store {
	return &Store{
		byID:      make(map[string]*User),
		bySubject: make(map[string]*User),
		byEmail:   make(map[string]*User),
	}
}

// FromClaims resolves a verified claims payload to a user. An existing
// subject wins; otherwise a pending user with a matching email is upgraded
// in place, preserving its id; otherwise a new verified user is created.
func (s *Store) FromClaims(claims Claims) (*User, error) {
	if claims.Subject == "" {
		return nil, ErrInvalidClaims
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.bySubject[claims.Subject]; ok {
		u.LastSeenAt = now
		return u, nil
	}

	if email := NormalizeEmail(claims.Email); email != "" {
		if u, ok := s.byEmail[email]; ok && u.State == StatePending {
			u.Subject = claims.Subject
			u.State = StateVerified
			u.DisplayName = claims.Name
			u.AvatarURL = claims.Picture
			u.LastSeenAt = now
			s.bySubject[claims.Subject] = u
			return u, nil
		}
	}

	u := &User{
		ID:          uuid.NewString(),
		Subject:     claims.Subject,
		State:       StateVerified,
		Email:       NormalizeEmail(claims.Email),
		DisplayName: claims.Name,
		AvatarURL:   claims.Picture,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	s.insert(u)
	return u, nil
}

// OrCreatePending returns the user with the given email, creating a pending
// user if none exists. The email is normalized first.
func (s *Store) OrCreatePending(email string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, errors.New("email required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.byEmail[normalized]; ok {
		return u, nil
	}

	now := time.Now().UTC()
	u := &User{
		ID:          uuid.NewString(),
		State:       StatePending,
		Email:       normalized,
		DisplayName: displayNameFromEmail(normalized),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	s.insert(u)
	return u, nil
}

// Anonymous returns the shared anonymous user, creating it on first use.
func (s *Store) Anonymous() *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anonymous != nil {
		return s.anonymous
	}
	now := time.Now().UTC()
	u := &User{
		ID:          uuid.NewString(),
		State:       StateAnonymous,
		DisplayName: "Anonymous",
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	s.insert(u)
	s.anonymous = u
	return u
}

// ByID returns the user with the given id, or nil.
func (s *Store) ByID(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// ByEmail returns the user with the given (normalized) email, or nil.
func (s *Store) ByEmail(email string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEmail[NormalizeEmail(email)]
}

// insert must be called with mu held. The email index is first-writer-wins
// so a later verified login with a colliding email cannot take over lookups
// for the original account.
func (s *Store) insert(u *User) {
	s.byID[u.ID] = u
	if u.Subject != "" {
		s.bySubject[u.Subject] = u
	}
	if u.Email != "" {
		if _, taken := s.byEmail[u.Email]; !taken {
			s.byEmail[u.Email] = u
		}
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// displayNameFromEmail derives a display name from the local part of an
// email address: "jane.q_doe@x.test" becomes "Jane Q Doe".
func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(words) == 0 {
		return "User"
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
