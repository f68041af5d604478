// Package broker creates, reads and consumes login intents held in a token
// store.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/tokenstore"
)

// Separator joins the key prefix and the token.
const Separator = "|"

// Broker is safe for concurrent use. It only holds configuration; all state
// lives in the token store.
type Broker struct {
	stores    *tokenstore.Registry
	storeName string
	prefix    string
	generator Generator
	now       func() time.Time
}

type Option func(*Broker)

// WithGenerator replaces the default nanoid token generator.
func WithGenerator(g Generator) Option {
	return func(b *Broker) { b.generator = g }
}

// WithClock sets the clock used to normalize relative TTLs.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New returns a broker writing to the store registered under storeName. An
// empty storeName means the registry default.
func New(stores *tokenstore.Registry, storeName, prefix string, opts ...Option) *Broker {
	b := &Broker{
		stores:    stores,
		storeName: stores.Resolve(storeName),
		prefix:    prefix,
		generator: NanoIDGenerator(DefaultTokenLength),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateParams are the inputs to Create. Guard, ID and TTL are required.
type CreateParams struct {
	Guard    string
	ID       any
	TTL      TTL
	Remember bool
	Intended string
	Metadata map[string]string
	// Token overrides the generated token when set.
	Token string
}

// Create stores a new login intent and returns its token without the prefix.
func (b *Broker) Create(ctx context.Context, p CreateParams) (string, error) {
	intent, err := domain.NewLoginIntent(p.Guard, p.ID, p.Remember, p.Intended, p.Metadata)
	if err != nil {
		return "", fmt.Errorf("build login intent: %w", err)
	}

	expiresAt, err := p.TTL.ExpiresAt(b.now())
	if err != nil {
		return "", err
	}

	token := p.Token
	if token == "" {
		token, err = b.generator.Generate()
		if err != nil {
			return "", err
		}
	}

	value, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("encode login intent: %w", err)
	}

	store, err := b.stores.Lookup(b.storeName)
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, b.key(token), value, expiresAt); err != nil {
		return "", fmt.Errorf("put login intent: %w", err)
	}
	return token, nil
}

// Get returns the intent for token without consuming it. Mail clients and
// link scanners prefetch URLs, so reads must not burn the token.
func (b *Broker) Get(ctx context.Context, token string) (domain.LoginIntent, bool, error) {
	return b.read(ctx, token, false)
}

// Pull returns the intent for token and deletes it atomically. Of several
// concurrent callers at most one gets ok == true.
func (b *Broker) Pull(ctx context.Context, token string) (domain.LoginIntent, bool, error) {
	return b.read(ctx, token, true)
}

// Missing reports whether Get would find nothing for token.
func (b *Broker) Missing(ctx context.Context, token string) (bool, error) {
	_, ok, err := b.Get(ctx, token)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Store returns a broker bound to another named store. The receiver is not
// modified.
func (b *Broker) Store(name string) *Broker {
	clone := *b
	clone.storeName = b.stores.Resolve(name)
	return &clone
}

func (b *Broker) StoreName() string { return b.storeName }
func (b *Broker) Prefix() string    { return b.prefix }

func (b *Broker) read(ctx context.Context, token string, consume bool) (domain.LoginIntent, bool, error) {
	if token == "" {
		return domain.LoginIntent{}, false, nil
	}

	store, err := b.stores.Lookup(b.storeName)
	if err != nil {
		return domain.LoginIntent{}, false, err
	}

	var value []byte
	if consume {
		value, err = store.Take(ctx, b.key(token))
	} else {
		value, err = store.Get(ctx, b.key(token))
	}
	if errors.Is(err, tokenstore.ErrNotFound) {
		return domain.LoginIntent{}, false, nil
	}
	if err != nil {
		return domain.LoginIntent{}, false, fmt.Errorf("read login intent: %w", err)
	}

	var intent domain.LoginIntent
	if err := json.Unmarshal(value, &intent); err != nil {
		return domain.LoginIntent{}, false, err
	}
	return intent, true, nil
}

func (b *Broker) key(token string) string {
	return b.prefix + Separator + token
}
