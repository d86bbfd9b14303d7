package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"session-bridge/internal/identity"
	"session-bridge/internal/logger"
)

const providerName = "keycloak"

const (
	grantTokenExchange   = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"
	tokenTypeRefresh     = "urn:ietf:params:oauth:token-type:refresh_token"
)

type Config struct {
	// Issuer is the realm issuer URL, e.g.
	// http://localhost:8081/realms/session-bridge
	Issuer       string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Provider authenticates against a Keycloak realm. Password logins use the
// resource owner grant; regeneration impersonates the user through token
// exchange with the client's own service account token as the one-time code.
//
// The client's service account needs the realm-management roles
// impersonation and view-users: the user id for the exchange is looked up by
// email through the admin API.
type Provider struct {
	oauthConfig   *oauth2.Config
	serviceConfig *clientcredentials.Config
	verifier      *oidc.IDTokenVerifier
	usersURL      string
	client        *http.Client
}

// New initializes the provider using OIDC discovery.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("keycloak config missing required fields")
	}

	usersURL, err := adminUsersURL(cfg.Issuer)
	if err != nil {
		return nil, err
	}

	p := &Provider{client: cfg.HTTPClient, usersURL: usersURL}

	oidcProvider, err := oidc.NewProvider(p.context(ctx), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	// Access tokens carry the realm's "account" audience, not the client id.
	p.verifier = oidcProvider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	// Confidential Keycloak clients accept client_secret_basic.
	ep := oidcProvider.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInHeader
	p.oauthConfig = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     ep,
		Scopes: []string{
			oidc.ScopeOpenID,
			"email",
			"profile",
		},
	}
	p.serviceConfig = &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     ep.TokenURL,
		AuthStyle:    ep.AuthStyle,
	}

	return p, nil
}

// adminUsersURL maps .../realms/<realm> to .../admin/realms/<realm>/users.
func adminUsersURL(issuer string) (string, error) {
	i := strings.Index(issuer, "/realms/")
	if i < 0 {
		return "", fmt.Errorf("keycloak issuer %q has no /realms/ segment", issuer)
	}
	return strings.TrimRight(issuer[:i]+"/admin"+issuer[i:], "/") + "/users", nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) context(ctx context.Context) context.Context {
	if p.client == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.client)
}

// PasswordLogin uses the resource owner password grant.
func (p *Provider) PasswordLogin(ctx context.Context, email, password string) (*identity.Session, error) {
	tok, err := p.oauthConfig.PasswordCredentialsToken(p.context(ctx), email, password)
	if err != nil {
		return nil, classifyLoginError(err)
	}
	return p.session(ctx, tok)
}

// classifyLoginError maps Keycloak's invalid_grant descriptions to the
// identity sentinels. Anything else is returned as is.
func classifyLoginError(err error) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) || rErr.ErrorCode != "invalid_grant" {
		return err
	}
	desc := strings.ToLower(rErr.ErrorDescription)
	if strings.Contains(desc, "not fully set up") || strings.Contains(desc, "verify") {
		return fmt.Errorf("%w: %v", identity.ErrEmailNotConfirmed, err)
	}
	return fmt.Errorf("%w: %v", identity.ErrInvalidCredentials, err)
}

// EstablishSession verifies the access token locally and refreshes the pair
// once it has expired.
func (p *Provider) EstablishSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("%w: missing token", identity.ErrSessionRejected)
	}

	user, err := p.verify(ctx, accessToken)
	if err == nil {
		return &identity.Session{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			User:         user,
		}, nil
	}

	var expired *oidc.TokenExpiredError
	if !errors.As(err, &expired) {
		return nil, fmt.Errorf("%w: %v", identity.ErrSessionRejected, err)
	}

	src := p.oauthConfig.TokenSource(p.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh: %v", identity.ErrSessionRejected, err)
	}
	sess, err := p.session(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrSessionRejected, err)
	}
	return sess, nil
}

// MintOneTimeCode returns a service account access token for the client.
// The token is only useful together with the impersonation permission the
// client holds in the realm.
func (p *Provider) MintOneTimeCode(ctx context.Context, email string) (string, error) {
	tok, err := p.serviceConfig.Token(p.context(ctx))
	if err != nil {
		return "", fmt.Errorf("keycloak service token: %w", err)
	}
	return tok.AccessToken, nil
}

// RedeemOneTimeCode exchanges the service token for a token pair issued to
// the user with the given email. requested_subject only accepts a user id or
// username, so the id is resolved first.
func (p *Provider) RedeemOneTimeCode(ctx context.Context, email, code string) (*identity.Session, error) {
	userID, err := p.lookupUserID(ctx, code, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrCodeRejected, err)
	}

	exchange := *p.serviceConfig
	exchange.EndpointParams = url.Values{
		"grant_type":           {grantTokenExchange},
		"subject_token":        {code},
		"subject_token_type":   {tokenTypeAccessToken},
		"requested_subject":    {userID},
		"requested_token_type": {tokenTypeRefresh},
	}

	tok, err := exchange.Token(p.context(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrCodeRejected, err)
	}

	sess, err := p.session(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrCodeRejected, err)
	}
	return sess, nil
}

// lookupUserID finds the user with exactly this email via the admin API,
// authenticated with the service account token.
func (p *Provider) lookupUserID(ctx context.Context, serviceToken, email string) (string, error) {
	ctx = p.context(ctx)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: serviceToken}))

	query := url.Values{"email": {email}, "exact": {"true"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.usersURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak user lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak user lookup: status %d", resp.StatusCode)
	}

	var users []struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("keycloak user lookup: decode: %w", err)
	}
	for _, u := range users {
		if u.ID != "" && strings.EqualFold(u.Email, email) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("keycloak user lookup: no user with email %q", email)
}

func (p *Provider) session(ctx context.Context, tok *oauth2.Token) (*identity.Session, error) {
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, errors.New("keycloak returned an incomplete token pair")
	}
	user, err := p.verify(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &identity.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		User:         user,
	}, nil
}

type accessClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (p *Provider) verify(ctx context.Context, accessToken string) (*identity.User, error) {
	tok, err := p.verifier.Verify(p.context(ctx), accessToken)
	if err != nil {
		return nil, err
	}

	var claims accessClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("keycloak access token claims parse failed: %w", err)
	}
	if claims.Subject == "" || claims.Email == "" {
		logger.Warn("keycloak access token missing required claims", map[string]any{
			"subject_present": claims.Subject != "",
			"email_present":   claims.Email != "",
		})
		return nil, errors.New("keycloak access token missing required claims")
	}

	return &identity.User{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  resolveRole(claims),
		AppMetadata: map[string]any{
			"provider":       providerName,
			"email_verified": claims.EmailVerified,
			"roles":          claims.RealmAccess.Roles,
		},
		UserMetadata: map[string]any{
			"preferred_username": claims.PreferredUsername,
			"name":               claims.Name,
		},
	}, nil
}

// resolveRole prefers an explicit role claim (a realm protocol mapper) and
// falls back to the strongest known realm role.
func resolveRole(c accessClaims) string {
	if r := strings.TrimSpace(c.Role); r != "" {
		return r
	}
	role := ""
	for _, r := range c.RealmAccess.Roles {
		switch strings.ToLower(r) {
		case "admin":
			return "admin"
		case "user":
			role = "user"
		}
	}
	return role
}
