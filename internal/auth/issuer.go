package auth

import (
	"context"
	"fmt"
	"time"

	"session-bridge/internal/apperror"
	"session-bridge/internal/identity"
	"session-bridge/internal/session"
)

// DefaultCeiling is the opaque session lifetime when none is configured.
const DefaultCeiling = 30 * 24 * time.Hour

// Issued is the credential handed to the client after login.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer creates opaque sessions from fresh identity provider sessions.
type Issuer struct {
	store   session.Store
	ceiling time.Duration
	now     func() time.Time
}

func NewIssuer(store session.Store, ceiling time.Duration) *Issuer {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Issuer{
		store:   store,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// Issue stores a new opaque session wrapping idSess. It performs exactly
// one store write and never reads first: the generated token is fresh.
func (i *Issuer) Issue(ctx context.Context, idSess *identity.Session) (*Issued, error) {
	if !idSess.Complete() {
		return nil, apperror.New(apperror.CodeIncompleteSession, apperror.KindAuthentication, nil)
	}

	token, err := session.GenerateToken()
	if err != nil {
		return nil, apperror.Internal(err)
	}

	expiresAt := i.now().Add(i.ceiling).UnixMilli()
	stored := session.Stored{
		AccessToken:  idSess.AccessToken,
		RefreshToken: idSess.RefreshToken,
		User:         *idSess.User,
		ExpiresAt:    expiresAt,
	}

	ttl := i.ceiling.Truncate(time.Second)
	if err := i.store.Put(ctx, token, stored, ttl); err != nil {
		return nil, apperror.Internal(fmt.Errorf("issue session: %w", err))
	}

	return &Issued{
		Token:     token,
		ExpiresAt: stored.Deadline(),
	}, nil
}
