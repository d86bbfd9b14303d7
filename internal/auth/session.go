package auth

import (
	"context"
	"time"

	"session-bridge/internal/identity"
)

// AuthorizedSession is produced by a successful validation pass and lives
// only for the duration of one request.
type AuthorizedSession struct {
	Token        string
	AccessToken  string
	RefreshToken string
	User         identity.User
	Role         Role
	ExpiresAt    time.Time
}

// unexported, collision-proof context key
type sessionContextKeyType struct{}

var sessionKey = sessionContextKeyType{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *AuthorizedSession) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext extracts the authorized session attached by the
// validator middleware.
func SessionFromContext(ctx context.Context) (*AuthorizedSession, bool) {
	s, ok := ctx.Value(sessionKey).(*AuthorizedSession)
	return s, ok && s != nil
}
