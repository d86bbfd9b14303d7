package session

import (
	"context"
	"time"

	"session-bridge/internal/identity"
)

// Stored is the authoritative record behind an opaque token.
// ExpiresAt is an epoch-millisecond ceiling fixed at issuance; the token
// pair and user may be replaced, the ceiling never.
type Stored struct {
	AccessToken  string
	RefreshToken string
	User         identity.User
	ExpiresAt    int64
}

// Expired reports whether the ceiling has been reached at now.
func (s Stored) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// Deadline returns the ceiling as a time.
func (s Stored) Deadline() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// TTL returns the remaining lifetime rounded up to whole seconds, or zero
// when the ceiling has passed.
func (s Stored) TTL(now time.Time) time.Duration {
	remaining := s.ExpiresAt - now.UnixMilli()
	if remaining <= 0 {
		return 0
	}
	secs := (remaining + 999) / 1000
	return time.Duration(secs) * time.Second
}

// WithIdentity returns a copy carrying the given provider session. The
// ceiling is kept as is.
func (s Stored) WithIdentity(sess *identity.Session) Stored {
	s.AccessToken = sess.AccessToken
	s.RefreshToken = sess.RefreshToken
	if sess.User != nil {
		s.User = *sess.User
	}
	return s
}

// Store defines how opaque sessions are stored and retrieved.
// Get returns (nil, nil) when the key is absent. The store may keep an
// entry slightly past its TTL, so callers must check Expired themselves.
type Store interface {
	Get(ctx context.Context, token string) (*Stored, error)
	Put(ctx context.Context, token string, s Stored, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}
