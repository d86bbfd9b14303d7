package identity

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrEmailNotConfirmed  = errors.New("identity: email not confirmed")
	ErrSessionRejected    = errors.New("identity: session rejected")
	ErrCodeRejected       = errors.New("identity: one-time code rejected")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrUnsupported        = errors.New("identity: operation not supported")
)

// User is the identity provider's view of an account. Role carries the
// provider's role claim and may be empty.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is a short-lived provider session: a token pair plus the user it
// belongs to.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *User
}

// Complete reports whether the session carries both tokens and a user.
func (s *Session) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != "" && s.User != nil
}

// Provider is the contract every identity backend implements. Backends
// return provider facts only; opaque session handling lives in internal/auth.
type Provider interface {
	// Name returns the backend identifier (e.g. "gotrue", "keycloak").
	Name() string

	// PasswordLogin authenticates with email and password. Bad credentials
	// map to ErrInvalidCredentials, unconfirmed accounts to ErrEmailNotConfirmed.
	PasswordLogin(ctx context.Context, email, password string) (*Session, error)

	// EstablishSession validates (and, if the backend allows, refreshes) an
	// existing token pair. Any rejection wraps ErrSessionRejected.
	EstablishSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)

	// MintOneTimeCode uses the privileged channel to create a one-time login
	// code for email without user interaction.
	MintOneTimeCode(ctx context.Context, email string) (string, error)

	// RedeemOneTimeCode exchanges a code from MintOneTimeCode for a fresh session.
	RedeemOneTimeCode(ctx context.Context, email, code string) (*Session, error)
}

// PasswordUpdater is implemented by backends that can change a password on
// behalf of an authenticated user.
type PasswordUpdater interface {
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
}

// Registrar is implemented by backends that allow self-service sign-up.
// New accounts start unconfirmed; ErrEmailTaken reports a duplicate email.
type Registrar interface {
	SignUp(ctx context.Context, email, password string) error
}
