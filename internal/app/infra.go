package app

import (
	"context"
	"errors"
	"fmt"

	"session-bridge/internal/config"
	"session-bridge/internal/db"
	"session-bridge/internal/identity"
	"session-bridge/internal/identity/gotrue"
	"session-bridge/internal/identity/keycloak"
	"session-bridge/internal/identity/local"
	"session-bridge/internal/logger"
	"session-bridge/internal/redis"
)

type Infra struct {
	// DB is nil unless DATABASE_DSN is set.
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{}

	if cfg.DatabaseDSN != "" {
		database, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		infra.DB = database
		logger.Info("database ready", nil)
	}

	redisClient, err := redis.New(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	infra.Redis = redisClient

	logger.Info("redis ready", map[string]any{
		"addr": cfg.RedisAddr,
		"db":   cfg.RedisDB,
	})

	return infra, nil
}

func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	return errors.Join(errs...)
}

// setupIdentity builds the configured identity backend, instrumented.
func setupIdentity(ctx context.Context, cfg config.Config, infra *Infra) (identity.Provider, error) {
	var (
		p   identity.Provider
		err error
	)

	switch cfg.IdentityBackend {
	case config.BackendGoTrue:
		p, err = gotrue.New(gotrue.Config{
			URL:        cfg.GoTrue.URL,
			AnonKey:    cfg.GoTrue.AnonKey,
			ServiceKey: cfg.GoTrue.ServiceKey,
			Timeout:    cfg.GoTrue.Timeout,
		})
	case config.BackendKeycloak:
		p, err = keycloak.New(ctx, keycloak.Config{
			Issuer:       cfg.Keycloak.Issuer,
			ClientID:     cfg.Keycloak.ClientID,
			ClientSecret: cfg.Keycloak.ClientSecret,
		})
	case config.BackendLocal:
		if infra.DB == nil {
			return nil, errors.New("local identity backend requires a database")
		}
		p = local.NewService(infra.DB, local.Config{
			AccessTTL:  cfg.Local.AccessTTL,
			RefreshTTL: cfg.Local.RefreshTTL,
			CodeTTL:    cfg.Local.CodeTTL,
		})
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("identity backend ready", map[string]any{
		"backend": p.Name(),
	})
	return identity.Instrument(p), nil
}
