package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/email-login/internal/tokenstore"
	"github.com/redis/go-redis/v9"
)

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// ErrExpiryInPast is returned by Put when expiresAt is not after the store's
// clock.
var ErrExpiryInPast = errors.New("expiry is not in the future")

// TokenStore keeps login intents as plain keys with a native expiry.
// Requires Redis 6.2 for GETDEL.
type TokenStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewTokenStore(client redis.UniversalClient) *TokenStore {
	return &TokenStore{client: client, now: time.Now}
}

func (s *TokenStore) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		// A zero expiration means "keep forever" to redis, so refuse rather
		// than report a write that never happened.
		return fmt.Errorf("redis token store: put: %w", ErrExpiryInPast)
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis token store: put: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	return value, notFound(err, "get")
}

// Take reads and deletes the key atomically.
func (s *TokenStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, key).Bytes()
	return value, notFound(err, "take")
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis token store: delete: %w", err)
	}
	return nil
}

func (s *TokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ThrottleStore holds throttle markers as SET NX keys that expire with the
// window.
type ThrottleStore struct {
	client redis.UniversalClient
}

func NewThrottleStore(client redis.UniversalClient) *ThrottleStore {
	return &ThrottleStore{client: client}
}

func (s *ThrottleStore) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis throttle: acquire: %w", err)
	}
	return ok, nil
}

func (s *ThrottleStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis throttle: release: %w", err)
	}
	return nil
}

func notFound(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return tokenstore.ErrNotFound
	default:
		return fmt.Errorf("redis token store: %s: %w", op, err)
	}
}
