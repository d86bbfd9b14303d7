package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendGoTrue   = "gotrue"
	BackendKeycloak = "keycloak"
	BackendLocal    = "local"
)

type Config struct {
	AppPort  string `env:"APP_PORT"  envDefault:"8080"`
	EnvMode  string `env:"ENV_MODE"  envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// SessionCeiling is the absolute lifetime of an opaque session.
	SessionCeiling time.Duration `env:"SESSION_CEILING" envDefault:"720h"`
	DefaultRole    string        `env:"DEFAULT_ROLE"    envDefault:"user"`
	CookieSecure   bool          `env:"COOKIE_SECURE"   envDefault:"true"`

	// TrustedProxies are the proxy CIDRs whose X-Forwarded-For is honoured.
	// TrustCloudflare reads CF-Connecting-IP instead; enable it only behind
	// Cloudflare.
	TrustedProxies  []string `env:"TRUSTED_PROXIES"  envSeparator:","`
	TrustCloudflare bool     `env:"TRUST_CLOUDFLARE" envDefault:"false"`

	RedisAddr      string `env:"REDIS_ADDR"       envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB"         envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"session:"`

	// DatabaseDSN is optional unless the local identity backend is used.
	DatabaseDSN string `env:"DATABASE_DSN"`

	IdentityBackend string `env:"IDENTITY_BACKEND" envDefault:"gotrue"`

	GoTrue   GoTrueConfig   `envPrefix:"GOTRUE_"`
	Keycloak KeycloakConfig `envPrefix:"KEYCLOAK_"`
	Local    LocalConfig    `envPrefix:"LOCAL_"`
}

type GoTrueConfig struct {
	URL        string        `env:"URL"`
	AnonKey    string        `env:"ANON_KEY"`
	ServiceKey string        `env:"SERVICE_KEY"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type KeycloakConfig struct {
	Issuer       string `env:"ISSUER"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type LocalConfig struct {
	AccessTTL  time.Duration `env:"ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	CodeTTL    time.Duration `env:"CODE_TTL"    envDefault:"2m"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.IdentityBackend = strings.ToLower(strings.TrimSpace(cfg.IdentityBackend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Development reports whether verbose error output is allowed.
func (c Config) Development() bool {
	return strings.EqualFold(c.EnvMode, "development")
}

func (c Config) Validate() error {
	if c.SessionCeiling < time.Second {
		return errors.New("config: SESSION_CEILING must be at least one second")
	}

	switch c.IdentityBackend {
	case BackendGoTrue:
		if c.GoTrue.URL == "" || c.GoTrue.AnonKey == "" || c.GoTrue.ServiceKey == "" {
			return errors.New("config: gotrue backend requires GOTRUE_URL, GOTRUE_ANON_KEY and GOTRUE_SERVICE_KEY")
		}
	case BackendKeycloak:
		if c.Keycloak.Issuer == "" || c.Keycloak.ClientID == "" || c.Keycloak.ClientSecret == "" {
			return errors.New("config: keycloak backend requires KEYCLOAK_ISSUER, KEYCLOAK_CLIENT_ID and KEYCLOAK_CLIENT_SECRET")
		}
	case BackendLocal:
		if c.DatabaseDSN == "" {
			return errors.New("config: local backend requires DATABASE_DSN")
		}
	default:
		return fmt.Errorf("config: unknown identity backend %q", c.IdentityBackend)
	}

	return nil
}
