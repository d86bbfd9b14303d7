package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"

	"session-bridge/internal/identity"
)

const providerName = "gotrue"

// expirySkew refreshes access tokens that are about to expire.
const expirySkew = 10 * time.Second

// Provider talks to a GoTrue (Supabase Auth) server through auth-go. User
// level calls carry the anon key; the admin client carries the service key
// both as apikey and bearer token.
type Provider struct {
	anon   auth.Client
	admin  auth.Client
	client *http.Client
	now    func() time.Time
}

type Config struct {
	URL        string
	AnonKey    string
	ServiceKey string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" || cfg.AnonKey == "" || cfg.ServiceKey == "" {
		return nil, errors.New("gotrue config missing required fields")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	return &Provider{
		anon:   auth.New("", cfg.AnonKey).WithCustomAuthURL(baseURL),
		admin:  auth.New("", cfg.ServiceKey).WithCustomAuthURL(baseURL).WithToken(cfg.ServiceKey),
		client: client,
		now:    time.Now,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

// bind returns c with its requests tied to ctx. auth-go calls take no
// context, so cancellation is carried by the transport.
func (p *Provider) bind(ctx context.Context, c auth.Client) auth.Client {
	next := p.client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return c.WithClient(http.Client{
		Timeout:   p.client.Timeout,
		Transport: contextTransport{ctx: ctx, next: next},
	})
}

type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

func toUser(u types.User) *identity.User {
	role, _ := u.AppMetadata["role"].(string)
	return &identity.User{
		ID:           u.ID.String(),
		Email:        u.Email,
		Role:         role,
		AppMetadata:  u.AppMetadata,
		UserMetadata: u.UserMetadata,
	}
}

func toSession(s types.Session) (*identity.Session, error) {
	if s.AccessToken == "" || s.RefreshToken == "" || s.User.ID == uuid.Nil {
		return nil, errors.New("gotrue returned an incomplete session")
	}
	return &identity.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         toUser(s.User),
	}, nil
}

// APIError is a non-2xx response from GoTrue. Older servers send
// error/error_description, newer ones code/error_code/msg.
type APIError struct {
	Status           int    `json:"-"`
	ErrorCode        string `json:"error_code"`
	Err              string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`

	cause error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gotrue: status %d: %s", e.Status, e.text())
}

func (e *APIError) Unwrap() error {
	return e.cause
}

func (e *APIError) text() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Message, e.Err, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return http.StatusText(e.Status)
}

func (e *APIError) mentions(word string) bool {
	return strings.Contains(strings.ToLower(e.text()+" "+e.ErrorCode), word)
}

// auth-go reports non-2xx responses as "response status code <n>: <body>".
var statusPattern = regexp.MustCompile(`(?s)response status code (\d{3}): (.*)`)

// apiError turns an auth-go error into an *APIError when it carries a
// response status. Transport failures are wrapped as they are.
func apiError(err error) error {
	if err == nil {
		return nil
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return fmt.Errorf("gotrue: %w", err)
	}
	status, _ := strconv.Atoi(m[1])
	e := &APIError{Status: status, cause: err}
	_ = json.Unmarshal([]byte(strings.TrimSpace(m[2])), e)
	return e
}

// PasswordLogin signs in with email and password.
func (p *Provider) PasswordLogin(ctx context.Context, email, password string) (*identity.Session, error) {
	tok, err := p.bind(ctx, p.anon).Token(types.TokenRequest{
		GrantType: "password",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		err = apiError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.mentions("credentials"):
				return nil, fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
			case apiErr.mentions("confirm"):
				return nil, fmt.Errorf("%w: %v", identity.ErrEmailNotConfirmed, err)
			}
		}
		return nil, err
	}
	return toSession(tok.Session)
}

// EstablishSession checks the access token and refreshes the pair when the
// access token has expired.
func (p *Provider) EstablishSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("%w: missing token", identity.ErrSessionRejected)
	}

	if p.accessTokenExpired(accessToken) {
		return p.refresh(ctx, refreshToken)
	}

	user, err := p.bind(ctx, p.anon.WithToken(accessToken)).GetUser()
	if err != nil {
		err = apiError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return p.refresh(ctx, refreshToken)
		}
		return nil, fmt.Errorf("%w: %v", identity.ErrSessionRejected, err)
	}

	return &identity.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         toUser(user.User),
	}, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	tok, err := p.bind(ctx, p.anon).Token(types.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", identity.ErrSessionRejected, apiError(err))
	}
	sess, err := toSession(tok.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrSessionRejected, err)
	}
	return sess, nil
}

// accessTokenExpired reads exp from the token without verifying it; GoTrue
// verifies the signature on every call we make with it.
func (p *Provider) accessTokenExpired(accessToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.After(p.now().Add(expirySkew))
}

// MintOneTimeCode generates a magic link through the admin API and returns
// the email OTP embedded in it. No email is sent.
func (p *Provider) MintOneTimeCode(ctx context.Context, email string) (string, error) {
	link, err := p.bind(ctx, p.admin).AdminGenerateLink(types.AdminGenerateLinkRequest{
		Type:  types.LinkType("magiclink"),
		Email: email,
	})
	if err != nil {
		return "", apiError(err)
	}
	if link.EmailOTP == "" {
		return "", errors.New("gotrue: generate_link returned no email otp")
	}
	return link.EmailOTP, nil
}

// RedeemOneTimeCode verifies a magic link OTP and returns the new session.
func (p *Provider) RedeemOneTimeCode(ctx context.Context, email, code string) (*identity.Session, error) {
	out, err := p.bind(ctx, p.anon).VerifyForUser(types.VerifyForUserRequest{
		Type:  types.VerificationType("magiclink"),
		Email: email,
		Token: code,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrCodeRejected, apiError(err))
	}
	sess, err := toSession(out.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrCodeRejected, err)
	}
	return sess, nil
}

// UpdatePassword changes the password of the user owning accessToken.
func (p *Provider) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	_, err := p.bind(ctx, p.anon.WithToken(accessToken)).UpdateUser(types.UpdateUserRequest{
		Password: &newPassword,
	})
	return apiError(err)
}

// SignUp creates an account. GoTrue sends the confirmation email itself.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	_, err := p.bind(ctx, p.anon).Signup(types.SignupRequest{
		Email:    email,
		Password: password,
	})
	err = apiError(err)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.mentions("already") {
		return fmt.Errorf("%w: %v", identity.ErrEmailTaken, err)
	}
	return err
}
