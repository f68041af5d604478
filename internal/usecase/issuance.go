package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ErlanBelekov/email-login/internal/broker"
	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/email"
	"github.com/ErlanBelekov/email-login/internal/signedurl"
	"github.com/ErlanBelekov/email-login/internal/throttle"
)

type UserDirectory interface {
	FindByCredentials(ctx context.Context, guard string, creds map[string]string) (*domain.User, error)
}

type LinkBuilder interface {
	Build(dest signedurl.Destination, token, store string, expiresAt time.Time) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, builder email.MessageBuilder, to email.Recipient, url string, expiresAt time.Time) error
}

// IssuanceHooks observe the issuance flow. Nil hooks are skipped.
type IssuanceHooks struct {
	OnAttempting func(ctx context.Context, guard string, creds map[string]string)
	OnFailed     func(ctx context.Context, guard string, creds map[string]string)
	OnSent       func(ctx context.Context, guard string, user *domain.User)
}

type IssuerConfig struct {
	// Guards maps each guard to the request field that identifies a user.
	Guards       map[string]string
	DefaultGuard string
	LinkTTL      time.Duration
	Destination  signedurl.Destination
	Message      email.MessageBuilder
	// Throttle is optional.
	Throttle *throttle.Guard
	Hooks    IssuanceHooks
}

type SendInput struct {
	Guard string
	// Request holds the raw request fields credentials are picked from.
	Request map[string]string
	// Credentials replaces the default CredentialSpec{Fields: [guard field]}.
	Credentials *CredentialSpec
	// TTL overrides the configured link lifetime when positive.
	TTL      time.Duration
	Remember bool
	Intended string
	Metadata map[string]string
	// Query is merged into the link.
	Query       url.Values
	Destination signedurl.Destination
	Message     email.MessageBuilder
	// Store selects a named token store; empty means the broker's.
	Store string
	// Fingerprint overrides the throttle key derived from the credentials.
	Fingerprint string
}

// SendResult is for logging and metrics only. Callers must answer the
// requester identically whatever it holds.
type SendResult struct {
	Sent      bool
	Throttled bool
	// RateLimited means the mailer refused the message. The throttle window
	// is released so the requester can retry.
	RateLimited bool
}

type Issuer struct {
	broker   *broker.Broker
	users    UserDirectory
	notifier Notifier
	links    LinkBuilder
	cfg      IssuerConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewIssuer(b *broker.Broker, users UserDirectory, notifier Notifier, links LinkBuilder, cfg IssuerConfig, logger *slog.Logger) *Issuer {
	return &Issuer{
		broker:   b,
		users:    users,
		notifier: notifier,
		links:    links,
		cfg:      cfg,
		logger:   logger.With("component", "issuer"),
		now:      time.Now,
	}
}

// WithClock returns a copy of the issuer that stamps expirations with now.
func (u *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *u
	clone.now = now
	return &clone
}

// CredentialField returns the request field identifying users of guard. An
// empty guard means the default guard.
func (u *Issuer) CredentialField(guard string) (string, string, error) {
	if guard == "" {
		guard = u.cfg.DefaultGuard
	}
	field, ok := u.cfg.Guards[guard]
	if !ok {
		return "", "", fmt.Errorf("guard %q: %w", guard, domain.ErrUnknownGuard)
	}
	return guard, field, nil
}

// Send resolves the requester and mails them a login link. An unknown
// identity is not an error: it fires OnFailed and returns Sent == false.
// A saturated mail limiter is not an error either, since only known
// identities reach the mailer. Other store and delivery failures are
// returned.
func (u *Issuer) Send(ctx context.Context, in SendInput) (SendResult, error) {
	guard, field, err := u.CredentialField(in.Guard)
	if err != nil {
		return SendResult{}, err
	}

	spec := CredentialSpec{Fields: []string{field}}
	if in.Credentials != nil {
		spec = *in.Credentials
	}
	creds := spec.Merge(in.Request)

	if h := u.cfg.Hooks.OnAttempting; h != nil {
		h(ctx, guard, creds)
	}

	fingerprint := in.Fingerprint
	if fingerprint == "" {
		fingerprint = throttle.Fingerprint(fingerprintParts(guard, creds)...)
	}

	var sent bool
	ran, err := u.cfg.Throttle.Do(ctx, fingerprint, func(ctx context.Context) error {
		var err error
		sent, err = u.issue(ctx, guard, creds, in)
		return err
	})
	if errors.Is(err, email.ErrRateLimitExceeded) {
		u.logger.WarnContext(ctx, "login link dropped by mail rate limit", "guard", guard)
		return SendResult{RateLimited: true}, nil
	}
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Sent: sent, Throttled: !ran}, nil
}

func (u *Issuer) issue(ctx context.Context, guard string, creds map[string]string, in SendInput) (bool, error) {
	user, err := u.users.FindByCredentials(ctx, guard, creds)
	if errors.Is(err, domain.ErrUserNotFound) {
		u.logger.InfoContext(ctx, "login link requested for unknown identity", "guard", guard)
		if h := u.cfg.Hooks.OnFailed; h != nil {
			h(ctx, guard, creds)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve identity: %w", err)
	}

	ttl := u.cfg.LinkTTL
	if in.TTL > 0 {
		ttl = in.TTL
	}
	expiresAt := u.now().Add(ttl)

	b := u.broker.Store(in.Store)
	token, err := b.Create(ctx, broker.CreateParams{
		Guard:    guard,
		ID:       user,
		TTL:      broker.Until(expiresAt),
		Remember: in.Remember,
		Intended: in.Intended,
		Metadata: in.Metadata,
	})
	if err != nil {
		return false, fmt.Errorf("create login intent: %w", err)
	}

	dest := u.cfg.Destination
	if in.Destination != nil {
		dest = in.Destination
	}
	if len(in.Query) > 0 {
		dest = withQuery(dest, in.Query)
	}

	link, err := u.links.Build(dest, token, b.StoreName(), expiresAt)
	if err != nil {
		return false, fmt.Errorf("build login link: %w", err)
	}

	message := u.cfg.Message
	if in.Message != nil {
		message = in.Message
	}

	// The intent is left to expire on its own if delivery fails.
	if err := u.notifier.Notify(ctx, message, email.Recipient{Email: user.Email, Name: user.Name}, link, expiresAt); err != nil {
		return false, err
	}

	u.logger.InfoContext(ctx, "login link sent", "guard", guard, "user_id", user.ID, "store", b.StoreName())
	if h := u.cfg.Hooks.OnSent; h != nil {
		h(ctx, guard, user)
	}
	return true, nil
}

// withQuery adds extra values to whatever params dest is rendered with. The
// signed params are applied last so they cannot be shadowed.
func withQuery(dest signedurl.Destination, extra url.Values) signedurl.Destination {
	return signedurl.DestinationFunc(func(params url.Values) (string, error) {
		merged := url.Values{}
		for k, vs := range extra {
			merged[k] = append([]string(nil), vs...)
		}
		for k, vs := range params {
			merged[k] = vs
		}
		return dest.URL(merged)
	})
}
