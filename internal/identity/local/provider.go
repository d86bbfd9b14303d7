package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"session-bridge/internal/identity"
	"session-bridge/internal/utils"
)

const (
	tokenLength = 64
	codeLength  = 32
)

const userColumns = `u.id, u.email, u.email_verified, u.role, u.user_metadata`

func scanUser(row interface{ Scan(...any) error }, extra ...any) (userRow, error) {
	var u userRow
	dest := append([]any{&u.ID, &u.Email, &u.EmailVerified, &u.Role, &u.Metadata}, extra...)
	return u, row.Scan(dest...)
}

// PasswordLogin verifies the bcrypt credential and opens an identity session.
func (s *Service) PasswordLogin(ctx context.Context, email, password string) (*identity.Session, error) {
	var passwordHash string
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, c.password_hash
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1) AND u.status = 'active'
	`, email), &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		// hide whether the user exists
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local: load credentials: %w", err)
	}

	if err := VerifyPassword(passwordHash, password); err != nil {
		return nil, identity.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, identity.ErrEmailNotConfirmed
	}

	return s.startSession(ctx, user)
}

// EstablishSession accepts a live access token as is and rotates the pair
// once the access token has expired but the refresh token has not.
func (s *Service) EstablishSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("%w: missing token", identity.ErrSessionRejected)
	}

	var row sessionRow
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, s.id, s.refresh_token_hash, s.access_expires_at, s.refresh_expires_at
		FROM identity_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.access_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND u.status = 'active'
	`, hashToken(accessToken)), &row.ID, &row.RefreshTokenHash, &row.AccessExpiresAt, &row.RefreshExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown access token", identity.ErrSessionRejected)
	}
	if err != nil {
		return nil, fmt.Errorf("local: load session: %w", err)
	}
	row.User = user

	if row.RefreshTokenHash != hashToken(refreshToken) {
		return nil, fmt.Errorf("%w: token pair mismatch", identity.ErrSessionRejected)
	}

	now := s.now()
	if now.Before(row.AccessExpiresAt) {
		return &identity.Session{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			User:         row.User.toUser(),
		}, nil
	}
	if !now.Before(row.RefreshExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", identity.ErrSessionRejected)
	}

	return s.rotate(ctx, row)
}

func (s *Service) rotate(ctx context.Context, row sessionRow) (*identity.Session, error) {
	access, refresh, err := newTokenPair()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE identity_sessions
		SET access_token_hash = $2, refresh_token_hash = $3, access_expires_at = $4
		WHERE id = $1 AND refresh_token_hash = $5 AND revoked_at IS NULL
	`, row.ID, hashToken(access), hashToken(refresh), s.now().Add(s.accessTTL), row.RefreshTokenHash)
	if err != nil {
		return nil, fmt.Errorf("local: rotate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// a concurrent refresh already rotated this pair
		return nil, fmt.Errorf("%w: refresh token already used", identity.ErrSessionRejected)
	}

	return &identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         row.User.toUser(),
	}, nil
}

// MintOneTimeCode stores a hashed single-use code for the user.
func (s *Service) MintOneTimeCode(ctx context.Context, email string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE LOWER(email) = LOWER($1) AND status = 'active'
	`, email).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("local: find user for one-time code: %w", err)
	}

	code, err := utils.RandomString(codeLength, utils.Alphanumeric)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO one_time_codes (id, user_id, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), userID, hashToken(code), s.now().Add(s.codeTTL))
	if err != nil {
		return "", fmt.Errorf("local: store one-time code: %w", err)
	}
	return code, nil
}

// RedeemOneTimeCode consumes the code and opens a new identity session.
func (s *Service) RedeemOneTimeCode(ctx context.Context, email, code string) (*identity.Session, error) {
	now := s.now()

	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE one_time_codes c
		SET used_at = $3
		FROM users u
		WHERE c.user_id = u.id
		  AND c.code_hash = $1
		  AND LOWER(u.email) = LOWER($2)
		  AND c.used_at IS NULL
		  AND c.expires_at > $3
		RETURNING u.id
	`, hashToken(code), email, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrCodeRejected
	}
	if err != nil {
		return nil, fmt.Errorf("local: redeem one-time code: %w", err)
	}

	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users u WHERE u.id = $1
	`, userID))
	if err != nil {
		return nil, fmt.Errorf("local: load user: %w", err)
	}

	return s.startSession(ctx, user)
}

// UpdatePassword replaces the password of the user owning a live access token.
func (s *Service) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	hash, version, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials c
		SET password_hash = $2, hash_version = $3, updated_at = NOW()
		FROM identity_sessions s
		WHERE s.user_id = c.user_id
		  AND s.access_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.access_expires_at > $4
	`, hashToken(accessToken), hash, version, s.now())
	if err != nil {
		return fmt.Errorf("local: update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrSessionRejected
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, user userRow) (*identity.Session, error) {
	access, refresh, err := newTokenPair()
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identity_sessions
			(id, user_id, access_token_hash, refresh_token_hash, access_expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), user.ID, hashToken(access), hashToken(refresh), now.Add(s.accessTTL), now.Add(s.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("local: create session: %w", err)
	}

	return &identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.toUser(),
	}, nil
}

func newTokenPair() (access, refresh string, err error) {
	if access, err = utils.RandomString(tokenLength, utils.Alphanumeric); err != nil {
		return "", "", err
	}
	if refresh, err = utils.RandomString(tokenLength, utils.Alphanumeric); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
