// Package identitytest provides an in-memory identity provider for tests.
package identitytest

import (
	"context"
	"fmt"
	"sync"

	"session-bridge/internal/identity"
)

type account struct {
	password  string
	confirmed bool
	user      identity.User
}

// Provider is a thread-safe fake identity backend. Token pairs are
// sequential and can be revoked to simulate provider-side expiry.
type Provider struct {
	mu sync.Mutex

	accounts map[string]*account // by email
	live     map[string]string   // access token -> email
	refresh  map[string]string   // refresh token -> access token
	codes    map[string]string   // code -> email
	seq      int

	// RotateOnEstablish makes EstablishSession return a new pair.
	RotateOnEstablish bool

	MintErr   error
	RedeemErr error
	Panic     bool

	Calls struct {
		PasswordLogin  int
		Establish      int
		Mint           int
		Redeem         int
		UpdatePassword int
		SignUp         int
	}
}

func New() *Provider {
	return &Provider{
		accounts: make(map[string]*account),
		live:     make(map[string]string),
		refresh:  make(map[string]string),
		codes:    make(map[string]string),
	}
}

// AddUser registers a confirmed account.
func (p *Provider) AddUser(u identity.User, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[u.Email] = &account{password: password, confirmed: true, user: u}
}

// AddUnconfirmedUser registers an account that cannot log in yet.
func (p *Provider) AddUnconfirmedUser(u identity.User, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[u.Email] = &account{password: password, user: u}
}

// SetRole changes the role claim returned for email from now on.
func (p *Provider) SetRole(email, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[email]; ok {
		a.user.Role = role
	}
}

// RevokeAll invalidates every issued token pair.
func (p *Provider) RevokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = make(map[string]string)
	p.refresh = make(map[string]string)
}

// Issue mints a session for email directly.
func (p *Provider) Issue(email string) *identity.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(email)
}

func (p *Provider) issueLocked(email string) *identity.Session {
	p.seq++
	access := fmt.Sprintf("access-%d", p.seq)
	refresh := fmt.Sprintf("refresh-%d", p.seq)
	p.live[access] = email
	p.refresh[refresh] = access

	u := p.accounts[email].user
	return &identity.Session{AccessToken: access, RefreshToken: refresh, User: &u}
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) PasswordLogin(_ context.Context, email, password string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.PasswordLogin++

	a, ok := p.accounts[email]
	if !ok || a.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	if !a.confirmed {
		return nil, identity.ErrEmailNotConfirmed
	}
	return p.issueLocked(email), nil
}

func (p *Provider) EstablishSession(_ context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.Establish++

	if p.Panic {
		panic("identitytest: establish panic")
	}

	email, ok := p.live[accessToken]
	if !ok || p.refresh[refreshToken] != accessToken {
		return nil, identity.ErrSessionRejected
	}
	if p.RotateOnEstablish {
		delete(p.live, accessToken)
		delete(p.refresh, refreshToken)
		return p.issueLocked(email), nil
	}

	u := p.accounts[email].user
	return &identity.Session{AccessToken: accessToken, RefreshToken: refreshToken, User: &u}, nil
}

func (p *Provider) MintOneTimeCode(_ context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.Mint++

	if p.MintErr != nil {
		return "", p.MintErr
	}
	if _, ok := p.accounts[email]; !ok {
		return "", fmt.Errorf("identitytest: unknown user %q", email)
	}
	p.seq++
	code := fmt.Sprintf("code-%d", p.seq)
	p.codes[code] = email
	return code, nil
}

func (p *Provider) RedeemOneTimeCode(_ context.Context, email, code string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.Redeem++

	if p.RedeemErr != nil {
		return nil, p.RedeemErr
	}
	if p.codes[code] != email {
		return nil, identity.ErrCodeRejected
	}
	delete(p.codes, code)
	return p.issueLocked(email), nil
}

func (p *Provider) UpdatePassword(_ context.Context, accessToken, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.UpdatePassword++

	email, ok := p.live[accessToken]
	if !ok {
		return identity.ErrSessionRejected
	}
	p.accounts[email].password = newPassword
	return nil
}

// SignUp registers an unconfirmed account.
func (p *Provider) SignUp(_ context.Context, email, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls.SignUp++

	if _, ok := p.accounts[email]; ok {
		return identity.ErrEmailTaken
	}
	p.seq++
	p.accounts[email] = &account{
		password: password,
		user:     identity.User{ID: fmt.Sprintf("user-%d", p.seq), Email: email},
	}
	return nil
}

// Confirm marks email as confirmed.
func (p *Provider) Confirm(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[email]; ok {
		a.confirmed = true
	}
}

// Password returns the current password for email.
func (p *Provider) Password(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[email]; ok {
		return a.password
	}
	return ""
}
