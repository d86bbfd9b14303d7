package auth

import (
	"context"

	"session-bridge/internal/apperror"
)

// Validator gates a request: authentication first, then authorization.
type Validator struct {
	bridge *Bridge
}

func NewValidator(bridge *Bridge) *Validator {
	return &Validator{bridge: bridge}
}

// Validate runs the bridge for token and checks the resulting role against
// required. It fails with an AuthenticationError when no live session
// exists and with an AuthorizationError when the role is insufficient.
func (v *Validator) Validate(ctx context.Context, token string, required ...Role) (*AuthorizedSession, error) {
	out := v.bridge.Run(ctx, token)
	if !out.Authenticated() {
		return nil, apperror.Unauthenticated()
	}

	if !Authorize(required, out.Session.Role) {
		return nil, apperror.Unauthorized()
	}

	return out.Session, nil
}
