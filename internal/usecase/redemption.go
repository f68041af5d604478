package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/email-login/internal/broker"
	"github.com/ErlanBelekov/email-login/internal/domain"
)

// Session is the part of the session layer a redemption touches.
type Session interface {
	LoginByID(ctx context.Context, guard, id string, remember bool) (*domain.User, error)
	Regenerate()
	SetIntended(path string)
}

type LoginResult struct {
	Intent   domain.LoginIntent
	User     *domain.User
	Redirect string
}

type Redeemer struct {
	broker          *broker.Broker
	defaultRedirect string
	logger          *slog.Logger
}

func NewRedeemer(b *broker.Broker, defaultRedirect string, logger *slog.Logger) *Redeemer {
	return &Redeemer{broker: b, defaultRedirect: defaultRedirect, logger: logger.With("component", "redeemer")}
}

// Preview reads the intent behind token without consuming it. Absent,
// expired and consumed tokens, as well as unknown stores, all come back as
// domain.ErrTokenInvalid.
func (u *Redeemer) Preview(ctx context.Context, store, token string) (domain.LoginIntent, error) {
	intent, ok, err := u.broker.Store(store).Get(ctx, token)
	if err := u.flatten(ctx, ok, err); err != nil {
		return domain.LoginIntent{}, err
	}
	return intent, nil
}

// Login consumes token and logs its user into sess. Only one of several
// concurrent calls for the same token can succeed.
func (u *Redeemer) Login(ctx context.Context, store, token string, sess Session) (LoginResult, error) {
	intent, ok, err := u.broker.Store(store).Pull(ctx, token)
	if err := u.flatten(ctx, ok, err); err != nil {
		return LoginResult{}, err
	}

	user, err := sess.LoginByID(ctx, intent.Guard(), intent.IDString(), intent.Remember())
	if errors.Is(err, domain.ErrUserNotFound) {
		u.logger.WarnContext(ctx, "login intent points at missing user", "guard", intent.Guard(), "user_id", intent.IDString())
		return LoginResult{}, domain.ErrTokenInvalid
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("login user: %w", err)
	}

	sess.Regenerate()
	sess.SetIntended(intent.Intended())

	redirect := intent.Intended()
	if redirect == "" {
		redirect = u.defaultRedirect
	}
	return LoginResult{Intent: intent, User: user, Redirect: redirect}, nil
}

func (u *Redeemer) flatten(ctx context.Context, ok bool, err error) error {
	if errors.Is(err, domain.ErrUnknownStore) {
		u.logger.WarnContext(ctx, "login link names unknown store", "error", err)
		return domain.ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("read login intent: %w", err)
	}
	if !ok {
		return domain.ErrTokenInvalid
	}
	return nil
}
