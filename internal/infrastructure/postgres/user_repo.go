package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnsupportedCredential is returned for credential keys with no matching
// users column.
var ErrUnsupportedCredential = errors.New("unsupported credential")

// credentialColumns maps credential keys to their predicate. %d is the
// placeholder index.
var credentialColumns = map[string]string{
	"id":       "id = $%d",
	"email":    "email = lower($%d)",
	"username": "username = $%d",
	"name":     "name = $%d",
}

const userColumns = `id, guard, email, COALESCE(username, ''), name, active, created_at, updated_at`

var _ repository.UserRepository = (*UserRepository)(nil)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByCredentials(ctx context.Context, guard string, creds map[string]string) (*domain.User, error) {
	query, args, err := credentialQuery(guard, creds)
	if err != nil {
		return nil, err
	}
	return scanUser(r.pool.QueryRow(ctx, query, args...))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// Upsert inserts u or updates the user with the same guard and email.
func (r *UserRepository) Upsert(ctx context.Context, u *domain.User) (*domain.User, error) {
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	guard := u.Guard
	if guard == "" {
		guard = "web"
	}

	query := `
		INSERT INTO users (id, guard, email, username, name, active)
		VALUES ($1, $2, lower($3), NULLIF($4, ''), $5, $6)
		ON CONFLICT (guard, email) DO UPDATE
		SET username   = EXCLUDED.username,
		    name       = EXCLUDED.name,
		    active     = EXCLUDED.active,
		    updated_at = NOW()
		RETURNING ` + userColumns

	saved, err := scanUser(r.pool.QueryRow(ctx, query, id, guard, u.Email, u.Username, u.Name, u.Active))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

// credentialQuery builds a lookup of the active user of guard matching every
// credential. Keys are checked against credentialColumns so request field
// names never reach the SQL text.
func credentialQuery(guard string, creds map[string]string) (string, []any, error) {
	if len(creds) == 0 {
		return "", nil, domain.ErrUserNotFound
	}

	where := []string{"guard = $1", "active"}
	args := []any{guard}
	for _, key := range slices.Sorted(maps.Keys(creds)) {
		pred, ok := credentialColumns[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCredential, key)
		}
		args = append(args, strings.TrimSpace(creds[key]))
		where = append(where, fmt.Sprintf(pred, len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(where, " AND ") + ` LIMIT 1`
	return query, args, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Guard, &u.Email, &u.Username, &u.Name, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
