package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"session-bridge/internal/identity"
	"session-bridge/internal/logger"
	"session-bridge/internal/metrics"
	"session-bridge/internal/session"
)

// State is a step of the bridge state machine.
//
//	NoToken                                  (terminal, unauthenticated)
//	TokenFound -> NoSession                  (terminal, unauthenticated)
//	TokenFound -> IdentityValid              (terminal, authenticated)
//	TokenFound -> IdentityExpired -> Regenerating -> RegenSucceeded (authenticated)
//	                                              -> RegenFailed    (unauthenticated)
type State int

const (
	StateNoToken State = iota
	StateTokenFound
	StateNoSession
	StateIdentityValid
	StateIdentityExpired
	StateRegenerating
	StateRegenSucceeded
	StateRegenFailed
)

var stateNames = [...]string{
	StateNoToken:         "no_token",
	StateTokenFound:      "token_found",
	StateNoSession:       "no_session",
	StateIdentityValid:   "identity_valid",
	StateIdentityExpired: "identity_expired",
	StateRegenerating:    "regenerating",
	StateRegenSucceeded:  "regen_succeeded",
	StateRegenFailed:     "regen_failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the tagged result of one bridge pass. Session is set only for
// IdentityValid and RegenSucceeded.
type Outcome struct {
	State   State
	Session *AuthorizedSession
}

func (o Outcome) Authenticated() bool {
	return o.Session != nil && (o.State == StateIdentityValid || o.State == StateRegenSucceeded)
}

// Bridge keeps the identity provider session behind an opaque token alive
// for as long as the opaque session's ceiling allows.
type Bridge struct {
	store       session.Store
	idp         identity.Provider
	defaultRole Role
	now         func() time.Time
}

func NewBridge(store session.Store, idp identity.Provider, defaultRole Role) *Bridge {
	if defaultRole == "" || defaultRole == RoleAny {
		defaultRole = RoleUser
	}
	return &Bridge{
		store:       store,
		idp:         idp,
		defaultRole: defaultRole,
		now:         time.Now,
	}
}

// tokenFound carries what the states after TokenFound need.
type tokenFound struct {
	token  string
	stored session.Stored
}

// Run drives one pass for token. It never returns an error: every failure
// ends in an unauthenticated state.
func (b *Bridge) Run(ctx context.Context, token string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session bridge panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
			out = Outcome{State: StateRegenFailed}
		}
		metrics.BridgeOutcomesTotal.WithLabelValues(out.State.String()).Inc()
	}()

	if token == "" {
		return Outcome{State: StateNoToken}
	}

	found, ok := b.lookup(ctx, token)
	if !ok {
		return Outcome{State: StateNoSession}
	}

	return b.establish(ctx, found)
}

// lookup is the TokenFound step: a missing, unreadable or expired record
// ends the pass without touching the identity provider.
func (b *Bridge) lookup(ctx context.Context, token string) (tokenFound, bool) {
	stored, err := b.store.Get(ctx, token)
	if err != nil {
		logger.Warn("session lookup failed", map[string]any{
			"error": err.Error(),
		})
		return tokenFound{}, false
	}
	if stored == nil || stored.Expired(b.now()) {
		return tokenFound{}, false
	}
	return tokenFound{token: token, stored: *stored}, true
}

func (b *Bridge) establish(ctx context.Context, found tokenFound) Outcome {
	idSess, err := b.idp.EstablishSession(ctx, found.stored.AccessToken, found.stored.RefreshToken)
	if err != nil || !idSess.Complete() {
		if err != nil && !errors.Is(err, identity.ErrSessionRejected) {
			logger.Warn("identity session check failed", map[string]any{
				"user_id": found.stored.User.ID,
				"error":   err.Error(),
			})
		}
		return b.regenerate(ctx, found)
	}

	// The provider may have rotated the pair while establishing; persist it
	// so the stored refresh token stays usable.
	if idSess.AccessToken != found.stored.AccessToken || idSess.RefreshToken != found.stored.RefreshToken {
		if err := b.writeBack(ctx, found, idSess); err != nil {
			logger.Warn("failed to persist rotated identity tokens", map[string]any{
				"user_id": found.stored.User.ID,
				"error":   err.Error(),
			})
		}
	}

	return Outcome{
		State:   StateIdentityValid,
		Session: b.authorized(found, idSess),
	}
}

// regenerate covers IdentityExpired -> Regenerating -> RegenSucceeded|RegenFailed.
// On failure the stored entry is left alone so a later request can retry.
func (b *Bridge) regenerate(ctx context.Context, found tokenFound) Outcome {
	email := found.stored.User.Email
	fields := map[string]any{"user_id": found.stored.User.ID}

	if email == "" {
		return b.regenFailed(fields, errors.New("stored user has no email"))
	}

	code, err := b.idp.MintOneTimeCode(ctx, email)
	if err != nil {
		return b.regenFailed(fields, fmt.Errorf("mint one-time code: %w", err))
	}

	idSess, err := b.idp.RedeemOneTimeCode(ctx, email, code)
	if err != nil {
		return b.regenFailed(fields, fmt.Errorf("redeem one-time code: %w", err))
	}
	if !idSess.Complete() {
		return b.regenFailed(fields, errors.New("redeemed session is incomplete"))
	}

	if err := b.writeBack(ctx, found, idSess); err != nil {
		return b.regenFailed(fields, err)
	}

	metrics.RegenerationsTotal.WithLabelValues("succeeded").Inc()
	logger.Info("identity session regenerated", fields)

	return Outcome{
		State:   StateRegenSucceeded,
		Session: b.authorized(found, idSess),
	}
}

func (b *Bridge) regenFailed(fields map[string]any, err error) Outcome {
	metrics.RegenerationsTotal.WithLabelValues("failed").Inc()
	fields["error"] = err.Error()
	logger.Warn("identity session regeneration failed", fields)
	return Outcome{State: StateRegenFailed}
}

// writeBack replaces the token pair under the original ceiling. The TTL is
// re-derived from that ceiling, never extended.
func (b *Bridge) writeBack(ctx context.Context, found tokenFound, idSess *identity.Session) error {
	updated := found.stored.WithIdentity(idSess)

	ttl := updated.TTL(b.now())
	if ttl <= 0 {
		return errors.New("session ceiling reached during regeneration")
	}
	if err := b.store.Put(ctx, found.token, updated, ttl); err != nil {
		return fmt.Errorf("write back session: %w", err)
	}
	return nil
}

func (b *Bridge) authorized(found tokenFound, idSess *identity.Session) *AuthorizedSession {
	user := found.stored.User
	if idSess.User != nil {
		user = *idSess.User
	}
	return &AuthorizedSession{
		Token:        found.token,
		AccessToken:  idSess.AccessToken,
		RefreshToken: idSess.RefreshToken,
		User:         user,
		Role:         ParseRole(user.Role, b.defaultRole),
		ExpiresAt:    found.stored.Deadline(),
	}
}
