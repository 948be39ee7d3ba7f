package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/backtrack-hq/chatcore/internal/chat"
	"github.com/backtrack-hq/chatcore/internal/identity"
)

type contextKey struct{}

var userKey contextKey

// subprotocolTokenPrefix carries a bearer token inside the WebSocket
// subprotocol list, for clients that cannot set request headers.
const subprotocolTokenPrefix = "bt-auth."

// Authenticator resolves the caller of each request to a user. Without a
// verifier, or when auth is optional and no valid token is presented,
// callers resolve to the shared anonymous user.
type Authenticator struct {
	users       *identity.Store
	verifier    Verifier
	requireAuth bool
	logger      *zap.Logger
}

func NewAuthenticator(users *identity.Store, verifier Verifier, requireAuth bool, logger *zap.Logger) *Authenticator {
	return &Authenticator{users: users, verifier: verifier, requireAuth: requireAuth, logger: logger}
}

// BearerToken extracts the caller's token from the Authorization header,
// the token query parameter, or the WebSocket subprotocol list, in that
// order. Returns "" when no token is presented.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if token, ok := strings.CutPrefix(proto, subprotocolTokenPrefix); ok && token != "" {
				return token
			}
		}
	}
	return ""
}

// ResolveToken turns a raw token into a user. Verification failures fall
// back to the anonymous user when auth is optional.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (*identity.User, error) {
	if token == "" || a.verifier == nil {
		if a.requireAuth {
			return nil, chat.ErrAuthRequired
		}
		return a.users.Anonymous(), nil
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.Debug("token rejected", zap.Error(err))
		if a.requireAuth {
			return nil, chat.ErrInvalidToken
		}
		return a.users.Anonymous(), nil
	}
	user, err := a.users.FromClaims(claims)
	if err != nil {
		if a.requireAuth {
			return nil, chat.ErrInvalidToken
		}
		return a.users.Anonymous(), nil
	}
	return user, nil
}

// Middleware resolves the caller and stores the user on the request
// context. Requests that fail mandatory auth are rejected before the
// handler runs.
func (a *Authenticator) Middleware(reject func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.ResolveToken(r.Context(), BearerToken(r))
			if err != nil {
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a context carrying the resolved user.
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user resolved by the middleware, or nil.
func UserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userKey).(*identity.User)
	return user
}
