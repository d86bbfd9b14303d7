package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"session-bridge/internal/apperror"
	"session-bridge/internal/config"
	"session-bridge/internal/identity"
	"session-bridge/internal/identity/identitytest"
	"session-bridge/internal/session"
)

type memRecorder struct {
	mu      sync.Mutex
	records []apperror.Record
}

func (m *memRecorder) Record(_ context.Context, rec apperror.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		EnvMode:        "development",
		SessionCeiling: 24 * time.Hour,
		DefaultRole:    "user",
		RedisKeyPrefix: "session:",
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *miniredis.Miniredis, *memRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idp := identitytest.New()
	idp.AddUser(identity.User{ID: "user-1", Email: "a@b.com"}, "secret123")

	rec := &memRecorder{}
	router := newRouter(routerDeps{
		cfg:      cfg,
		idp:      identity.Instrument(idp),
		store:    session.NewRedisStore(client, cfg.RedisKeyPrefix),
		recorder: rec,
		readiness: map[string]pinger{
			"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})
	return router, mr, rec
}

func request(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(session.HeaderName, token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterLoginAndDefaultRole(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	rec := request(router, http.MethodPost, "/auth/login", "", `{"email":"a@b.com","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}

	rec = request(router, http.MethodGet, "/auth/check-session", login.Data[session.HeaderName], "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"role":"user"`) {
		t.Fatalf("expected default role user, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouterDevelopmentErrorsAreVerboseAndRecorded(t *testing.T) {
	router, _, recorder := newTestRouter(t, testConfig())

	rec := request(router, http.MethodGet, "/auth/get-user", "bogus", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "devMessage") {
		t.Fatalf("development output must include devMessage: %s", rec.Body.String())
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.records) != 1 || recorder.records[0].Path != "/auth/get-user" {
		t.Fatalf("expected one recorded error, got %+v", recorder.records)
	}
}

func TestRouterProductionErrorsHideDetail(t *testing.T) {
	cfg := testConfig()
	cfg.EnvMode = "production"
	router, _, _ := newTestRouter(t, cfg)

	rec := request(router, http.MethodGet, "/auth/get-user", "bogus", "")
	if strings.Contains(rec.Body.String(), "devMessage") {
		t.Fatalf("production output must not include devMessage: %s", rec.Body.String())
	}
}

func recordedIP(t *testing.T, cfg config.Config) string {
	t.Helper()
	router, _, recorder := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/auth/get-user", nil)
	req.RemoteAddr = "198.51.100.7:4321"
	req.Header.Set(session.HeaderName, "bogus")
	req.Header.Set("CF-Connecting-IP", "203.0.113.9")
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	router.ServeHTTP(httptest.NewRecorder(), req)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.records) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(recorder.records))
	}
	return recorder.records[0].IP
}

func TestRecordedIPIgnoresUntrustedHeaders(t *testing.T) {
	if ip := recordedIP(t, testConfig()); ip != "198.51.100.7" {
		t.Fatalf("expected the connection address, got %q", ip)
	}
}

func TestRecordedIPHonoursTrustedSources(t *testing.T) {
	cfg := testConfig()
	cfg.TrustCloudflare = true
	if ip := recordedIP(t, cfg); ip != "203.0.113.9" {
		t.Fatalf("expected the Cloudflare client address, got %q", ip)
	}

	cfg = testConfig()
	cfg.TrustedProxies = []string{"198.51.100.0/24"}
	if ip := recordedIP(t, cfg); ip != "203.0.113.10" {
		t.Fatalf("expected the forwarded client address, got %q", ip)
	}
}

func TestHealth(t *testing.T) {
	router, mr, _ := newTestRouter(t, testConfig())

	if rec := request(router, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d %s", rec.Code, rec.Body.String())
	}

	mr.SetError("LOADING")
	rec := request(router, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"redis":"down"`) {
		t.Fatalf("expected degraded health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t, testConfig())

	request(router, http.MethodGet, "/auth/check-session", "", "")

	rec := request(router, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `session_bridge_outcomes_total{state="no_token"}`) {
		t.Fatal("expected bridge outcome metric to be exported")
	}
}

func TestInfraCloseWithoutDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	infra, err := setupInfra(context.Background(), config.Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	if infra.DB != nil {
		t.Fatal("database must stay nil without DATABASE_DSN")
	}
	if err := infra.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSetupIdentityLocalNeedsDatabase(t *testing.T) {
	_, err := setupIdentity(context.Background(), config.Config{IdentityBackend: config.BackendLocal}, &Infra{})
	if err == nil {
		t.Fatal("expected error without database")
	}
}

func TestSetupIdentityGoTrue(t *testing.T) {
	p, err := setupIdentity(context.Background(), config.Config{
		IdentityBackend: config.BackendGoTrue,
		GoTrue: config.GoTrueConfig{
			URL:        "http://localhost:9999",
			AnonKey:    "anon",
			ServiceKey: "service",
		},
	}, &Infra{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "gotrue" {
		t.Fatalf("unexpected backend %q", p.Name())
	}
	if _, ok := p.(identity.PasswordUpdater); !ok {
		t.Fatal("instrumented provider must expose password updates")
	}
}

func TestSetupIdentityUnknownBackend(t *testing.T) {
	_, err := setupIdentity(context.Background(), config.Config{IdentityBackend: "ldap"}, &Infra{})
	if err == nil || !strings.Contains(err.Error(), "ldap") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
