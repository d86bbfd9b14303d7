package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"session-bridge/internal/identity"
)

const recordVersion = 1

var ErrUnsupportedRecord = errors.New("session: unsupported record version")

type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// record is the on-wire layout. Only this file may depend on it.
type record struct {
	Version      int           `json:"v"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         identity.User `json:"user"`
	ExpiresAt    int64         `json:"expires_at"`
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) key(token string) string {
	return r.prefix + token
}

func (r *RedisStore) Put(ctx context.Context, token string, s Stored, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("session: missing token")
	}

	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second {
		return fmt.Errorf("session: ttl must be at least one second")
	}

	data, err := json.Marshal(record{
		Version:      recordVersion,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         s.User,
		ExpiresAt:    s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(token), data, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Stored, error) {
	val, err := r.client.Get(ctx, r.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRecord, rec.Version)
	}

	return &Stored{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		User:         rec.User,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.key(token)).Err()
}
