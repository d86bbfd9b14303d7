package local

import (
	"encoding/json"
	"time"

	"session-bridge/internal/identity"
)

type userRow struct {
	ID            string
	Email         string
	EmailVerified bool
	Role          string
	Metadata      []byte
}

func (u userRow) toUser() *identity.User {
	var meta map[string]any
	if len(u.Metadata) > 0 {
		_ = json.Unmarshal(u.Metadata, &meta)
	}
	return &identity.User{
		ID:    u.ID,
		Email: u.Email,
		Role:  u.Role,
		AppMetadata: map[string]any{
			"provider":       providerName,
			"email_verified": u.EmailVerified,
		},
		UserMetadata: meta,
	}
}

type sessionRow struct {
	ID               string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             userRow
}
