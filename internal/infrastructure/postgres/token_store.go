package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/email-login/internal/tokenstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenStore keeps login intents in the login_tokens table. Expired rows are
// invisible to reads and removed by PruneExpired.
type TokenStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool, now: time.Now}
}

func (s *TokenStore) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO login_tokens (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM login_tokens WHERE key = $1 AND expires_at > $2`,
		key, s.now(),
	).Scan(&value)
	return value, notFound(err, "get token")
}

// Take deletes and returns the row in one statement, so concurrent takers
// cannot both see it.
func (s *TokenStore) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`DELETE FROM login_tokens WHERE key = $1 AND expires_at > $2 RETURNING value`,
		key, s.now(),
	).Scan(&value)
	return value, notFound(err, "take token")
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM login_tokens WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *TokenStore) PruneExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM login_tokens
		WHERE key IN (
			SELECT key FROM login_tokens
			WHERE expires_at <= $1
			LIMIT $2
		)`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("prune tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func notFound(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return tokenstore.ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
