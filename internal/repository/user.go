package repository

import (
	"context"

	"github.com/ErlanBelekov/email-login/internal/domain"
)

type UserRepository interface {
	// FindByCredentials returns the active user of guard whose columns match
	// every credential. It fails with domain.ErrUserNotFound on no match.
	FindByCredentials(ctx context.Context, guard string, creds map[string]string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Upsert(ctx context.Context, u *domain.User) (*domain.User, error)
}
