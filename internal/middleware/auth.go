package middleware

import (
	"context"
	"net/http"

	"session-bridge/internal/apperror"
	"session-bridge/internal/auth"
	"session-bridge/internal/session"
)

// SessionValidator is the validation contract the middleware needs.
type SessionValidator interface {
	Validate(ctx context.Context, token string, required ...auth.Role) (*auth.AuthorizedSession, error)
}

type AuthMiddleware struct {
	validator SessionValidator
	responder *apperror.Responder
}

func NewAuthMiddleware(validator SessionValidator, responder *apperror.Responder) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, responder: responder}
}

// RequireRoles rejects requests without a live session whose role satisfies
// roles, and attaches the authorized session to the request context.
func (a *AuthMiddleware) RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Header first, cookie second
			token := session.TokenFromRequest(r)

			// 2. Authenticate (regenerating if needed), then authorize
			sess, err := a.validator.Validate(r.Context(), token, roles...)
			if err != nil {
				a.responder.Write(w, r, err)
				return
			}

			// 3. Attach session and continue
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		})
	}
}
