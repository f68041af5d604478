package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrTokenInvalid    = errors.New("token is invalid or expired")
	ErrUnknownGuard    = errors.New("guard is not configured")
	ErrUnknownStore    = errors.New("token store is not configured")
	ErrInvalidIdentity = errors.New("identity key must be a string or an integer")
)

// Identifiable is implemented by resolved identities. The broker only ever
// stores the value returned by AuthIdentifier.
type Identifiable interface {
	AuthIdentifier() any
}

type User struct {
	ID        string
	Guard     string
	Email     string
	Username  string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) AuthIdentifier() any {
	return u.ID
}
