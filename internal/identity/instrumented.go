package identity

import (
	"context"
	"time"

	"session-bridge/internal/metrics"
)

type instrumented struct {
	next Provider
}

// Instrument wraps p so every call is timed in
// session_identity_request_duration_seconds. The wrapper always exposes the
// optional PasswordUpdater and Registrar methods and reports ErrUnsupported
// when p lacks them.
func Instrument(p Provider) Provider {
	return &instrumented{next: p}
}

func (i *instrumented) observe(op string, start time.Time) {
	metrics.IdentityRequestSeconds.
		WithLabelValues(i.next.Name(), op).
		Observe(time.Since(start).Seconds())
}

func (i *instrumented) Name() string {
	return i.next.Name()
}

func (i *instrumented) PasswordLogin(ctx context.Context, email, password string) (*Session, error) {
	defer i.observe("password_login", time.Now())
	return i.next.PasswordLogin(ctx, email, password)
}

func (i *instrumented) EstablishSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	defer i.observe("establish_session", time.Now())
	return i.next.EstablishSession(ctx, accessToken, refreshToken)
}

func (i *instrumented) MintOneTimeCode(ctx context.Context, email string) (string, error) {
	defer i.observe("mint_one_time_code", time.Now())
	return i.next.MintOneTimeCode(ctx, email)
}

func (i *instrumented) RedeemOneTimeCode(ctx context.Context, email, code string) (*Session, error) {
	defer i.observe("redeem_one_time_code", time.Now())
	return i.next.RedeemOneTimeCode(ctx, email, code)
}

func (i *instrumented) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	u, ok := i.next.(PasswordUpdater)
	if !ok {
		return ErrUnsupported
	}
	defer i.observe("update_password", time.Now())
	return u.UpdatePassword(ctx, accessToken, newPassword)
}

func (i *instrumented) SignUp(ctx context.Context, email, password string) error {
	r, ok := i.next.(Registrar)
	if !ok {
		return ErrUnsupported
	}
	defer i.observe("sign_up", time.Now())
	return r.SignUp(ctx, email, password)
}
