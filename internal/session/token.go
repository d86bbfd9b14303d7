package session

import (
	"fmt"

	"session-bridge/internal/utils"
)

// TokenLength is the fixed length of an opaque session token.
const TokenLength = 128

// GenerateToken generates an opaque session token: 128 characters over
// [A-Za-z0-9], roughly 762 bits of entropy.
func GenerateToken() (string, error) {
	token, err := utils.RandomString(TokenLength, utils.Alphanumeric)
	if err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return token, nil
}
