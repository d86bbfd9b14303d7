package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"session-bridge/internal/apperror"
	"session-bridge/internal/auth"
	"session-bridge/internal/identity"
	"session-bridge/internal/identity/identitytest"
	"session-bridge/internal/metrics"
	"session-bridge/internal/middleware"
	"session-bridge/internal/session"
)

const (
	testEmail    = "a@b.com"
	testPassword = "secret123"
)

type testServer struct {
	router *gin.Engine
	idp    *identitytest.Provider
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := session.NewRedisStore(client, "session:")
	idp := identitytest.New()
	idp.AddUser(identity.User{
		ID:           "user-1",
		Email:        testEmail,
		Role:         "user",
		UserMetadata: map[string]any{"name": "Alice"},
	}, testPassword)

	responder := &apperror.Responder{}
	validator := auth.NewValidator(auth.NewBridge(store, idp, auth.RoleUser))

	router := gin.New()
	router.Use(middleware.Recovery(responder), middleware.ErrorHandler(responder))

	h := NewHandler(idp, auth.NewIssuer(store, auth.DefaultCeiling), store, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	h.RegisterRoutes(router, middleware.NewAuthMiddleware(validator, responder))

	return &testServer{router: router, idp: idp, redis: mr}
}

type response struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Error   struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(session.HeaderName, token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": testEmail, "password": testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := out.Data[session.HeaderName].(string)
	if len(token) != session.TokenLength {
		t.Fatalf("expected %d-char token, got %q", session.TokenLength, token)
	}
	return token
}

func TestLoginCheckSessionLogout(t *testing.T) {
	s := newTestServer(t)
	succeeded := testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues("password", "succeeded"))

	rec, out := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": testEmail, "password": testPassword})
	if rec.Code != http.StatusOK || out.Status != "success" {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	token := out.Data[session.HeaderName].(string)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != token || cookie.Path != "/" || !cookie.HttpOnly {
		t.Fatalf("unexpected session cookie %#v", cookie)
	}
	if got := testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues("password", "succeeded")); got != succeeded+1 {
		t.Fatalf("expected login counter to grow by one, got %v -> %v", succeeded, got)
	}

	rec, out = s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-session: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if out.Data["role"] != "user" || out.Data["isValid"] != true {
		t.Fatalf("unexpected check-session data %#v", out.Data)
	}

	rec, out = s.do(t, http.MethodGet, "/auth/get-user", token, nil)
	if rec.Code != http.StatusOK || out.Data["email"] != testEmail || out.Data["role"] != "user" {
		t.Fatalf("unexpected get-user response %d %s", rec.Code, rec.Body.String())
	}
	if meta, _ := out.Data["user_metadata"].(map[string]any); meta["name"] != "Alice" {
		t.Fatalf("expected user metadata, got %#v", out.Data["user_metadata"])
	}

	rec, _ = s.do(t, http.MethodPost, "/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	if s.redis.Exists("session:" + token) {
		t.Fatal("logout must delete the stored session")
	}

	rec, out = s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusUnauthorized || out.Error.Code != apperror.CodeUnauthenticated {
		t.Fatalf("expected 401 Unauthenticated after logout, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCheckSessionAcceptsCookie(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/check-session", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected cookie to authenticate, got %d", rec.Code)
	}
}

func TestCheckSessionWithoutToken(t *testing.T) {
	s := newTestServer(t)

	rec, out := s.do(t, http.MethodGet, "/auth/check-session", "", nil)
	if rec.Code != http.StatusUnauthorized || out.Error.Code != apperror.CodeUnauthenticated {
		t.Fatalf("expected 401, got %d %s", rec.Code, rec.Body.String())
	}
	if out.Error.Message == "" {
		t.Fatal("expected a user-facing message")
	}
}

func TestCheckSessionRegeneratesExpiredIdentity(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	s.idp.RevokeAll()

	rec, out := s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusOK || out.Data["isValid"] != true {
		t.Fatalf("expected transparent regeneration, got %d %s", rec.Code, rec.Body.String())
	}
	if s.idp.Calls.Mint != 1 || s.idp.Calls.Redeem != 1 {
		t.Fatalf("expected one regeneration, got mint=%d redeem=%d", s.idp.Calls.Mint, s.idp.Calls.Redeem)
	}
}

func TestSessionCeilingEvictsEntry(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	s.redis.FastForward(auth.DefaultCeiling)

	rec, _ := s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after the ceiling, got %d", rec.Code)
	}
	if s.idp.Calls.Establish != 0 {
		t.Fatal("identity provider must not be consulted for an evicted session")
	}
}

func TestLoginErrors(t *testing.T) {
	s := newTestServer(t)
	s.idp.AddUnconfirmedUser(identity.User{ID: "user-2", Email: "new@b.com"}, testPassword)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "wrong password",
			body:   gin.H{"email": testEmail, "password": "nope"},
			status: http.StatusUnauthorized,
			code:   apperror.CodeInvalidCredentials,
		},
		{
			name:   "unconfirmed email",
			body:   gin.H{"email": "new@b.com", "password": testPassword},
			status: http.StatusUnauthorized,
			code:   apperror.CodeEmailNotConfirmed,
		},
		{
			name:   "missing password",
			body:   gin.H{"email": testEmail},
			status: http.StatusBadRequest,
			code:   apperror.CodeInvalidRequest,
		},
		{
			name:   "malformed email",
			body:   gin.H{"email": "not-an-email", "password": testPassword},
			status: http.StatusBadRequest,
			code:   apperror.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := s.do(t, http.MethodPost, "/auth/login", "", tt.body)
			if rec.Code != tt.status || out.Error.Code != tt.code {
				t.Fatalf("expected %d %s, got %d %s", tt.status, tt.code, rec.Code, rec.Body.String())
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("failed login must not set a cookie")
			}
		})
	}
}

func TestValidationErrorsCarryData(t *testing.T) {
	s := newTestServer(t)

	_, out := s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": testEmail})
	if out.Error.Data["reason"] == nil {
		t.Fatalf("validation errors must expose data, got %#v", out.Error)
	}
}

func TestInitializeSession(t *testing.T) {
	s := newTestServer(t)
	pair := s.idp.Issue(testEmail)

	rec, out := s.do(t, http.MethodPost, "/auth/initialize-session", "", gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	token, _ := out.Data[session.HeaderName].(string)

	rec, _ = s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialized session must be usable, got %d", rec.Code)
	}

	rec, out = s.do(t, http.MethodPost, "/auth/initialize-session", "", gin.H{
		"access_token":  "forged",
		"refresh_token": "forged",
	})
	if rec.Code != http.StatusUnauthorized || out.Error.Code != apperror.CodeIncompleteSession {
		t.Fatalf("expected 401 AUTH-005, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	rec, out := s.do(t, http.MethodPost, "/auth/change-password", token, gin.H{
		"old_password": "wrong-old",
		"new_password": "brand-new-pw",
	})
	if rec.Code != http.StatusBadRequest || out.Error.Code != apperror.CodeWrongPassword {
		t.Fatalf("expected 400 AUTH-004, got %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = s.do(t, http.MethodPost, "/auth/change-password", token, gin.H{
		"old_password": testPassword,
		"new_password": "brand-new-pw",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if s.idp.Password(testEmail) != "brand-new-pw" {
		t.Fatal("expected password to be updated")
	}

	rec, _ = s.do(t, http.MethodGet, "/auth/check-session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatal("changing the password must keep the opaque session")
	}
}

func TestChangePasswordRequiresSession(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/auth/change-password", "", gin.H{
		"old_password": testPassword,
		"new_password": "brand-new-pw",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if s.idp.Calls.PasswordLogin != 0 {
		t.Fatal("unauthenticated requests must not reach the identity provider")
	}
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/auth/register", "", gin.H{"email": "c@d.com", "password": "long-enough"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	rec, out := s.do(t, http.MethodPost, "/auth/register", "", gin.H{"email": "c@d.com", "password": "long-enough"})
	if rec.Code != http.StatusBadRequest || out.Error.Code != apperror.CodeEmailTaken {
		t.Fatalf("expected 400 AUTH-001, got %d %s", rec.Code, rec.Body.String())
	}

	_, out = s.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "c@d.com", "password": "long-enough"})
	if out.Error.Code != apperror.CodeEmailNotConfirmed {
		t.Fatalf("new accounts must confirm first, got %#v", out.Error)
	}
}
