package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"session-bridge/internal/db"
	"session-bridge/internal/identity"
)

const providerName = "local"

var (
	ErrAlreadyRegistered = errors.New("credentials already exist")
	ErrUserNotFound      = errors.New("user not found")
)

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	CodeTTL    time.Duration
}

// Service is the Postgres-backed identity provider. It owns users,
// credentials, short-lived identity sessions and one-time codes.
type Service struct {
	db         *db.DB
	accessTTL  time.Duration
	refreshTTL time.Duration
	codeTTL    time.Duration
	now        func() time.Time
}

func NewService(database *db.DB, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 2 * time.Minute
	}
	return &Service{
		db:         database,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		codeTTL:    cfg.CodeTTL,
		now:        time.Now,
	}
}

// Name returns the provider identifier.
func (s *Service) Name() string {
	return providerName
}

type Registration struct {
	Email     string
	Password  string
	Role      string
	Confirmed bool
	Metadata  map[string]any
}

// Register creates the user (or reuses an existing one with the same email)
// and attaches password credentials to it.
func (s *Service) Register(ctx context.Context, reg Registration) (string, error) {
	email := strings.TrimSpace(reg.Email)
	if email == "" {
		return "", errors.New("email is required")
	}

	hash, version, err := HashPassword(reg.Password)
	if err != nil {
		return "", err
	}

	meta := reg.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID

	err = tx.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (email, email_verified, role, user_metadata)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, email, reg.Confirmed, reg.Role, metaJSON).Scan(&userID)
	}
	if err != nil {
		return "", err
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credentials WHERE user_id = $1
		)
	`, userID).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrAlreadyRegistered
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
	`, userID, hash, version)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return userID.String(), nil
}

// SignUp registers an unconfirmed account with the default role.
func (s *Service) SignUp(ctx context.Context, email, password string) error {
	_, err := s.Register(ctx, Registration{Email: email, Password: password})
	if errors.Is(err, ErrAlreadyRegistered) {
		return identity.ErrEmailTaken
	}
	return err
}

// ConfirmEmail marks the user's email as verified.
func (s *Service) ConfirmEmail(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email_verified = true, updated_at = NOW()
		WHERE LOWER(email) = LOWER($1)
	`, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
