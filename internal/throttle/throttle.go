// Package throttle suppresses repeated issuance for the same requester within
// a time window.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// Store records "already done" markers with a lifetime.
type Store interface {
	// Acquire sets key for window if it is not set yet and reports whether
	// this call set it.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)

	// Release removes key so the next attempt is not suppressed.
	Release(ctx context.Context, key string) error
}

// Guard wraps an action so that it runs at most once per fingerprint within
// the window. Suppressed calls report success without running the action.
//
// When the store cannot be consulted the guard fails open onto a
// process-local marker, so an outage costs at most one extra send per
// fingerprint and window on each instance.
type Guard struct {
	store    Store
	fallback *MemoryStore
	prefix   string
	window   time.Duration
	logger   *slog.Logger

	// OnStoreError is called whenever the store fails. Used for metrics.
	OnStoreError func(op string)
}

// NewGuard returns a guard. A zero or negative window disables throttling.
func NewGuard(store Store, prefix string, window time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		store:    store,
		fallback: NewMemoryStore(time.Now),
		prefix:   prefix,
		window:   window,
		logger:   logger.With("component", "throttle"),
	}
}

// Window returns the suppression window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Do runs action unless fingerprint was seen within the window. ran reports
// whether action was executed. If action fails the marker is released so the
// requester can retry immediately.
func (g *Guard) Do(ctx context.Context, fingerprint string, action func(context.Context) error) (ran bool, err error) {
	if g == nil || g.window <= 0 || g.store == nil {
		return true, action(ctx)
	}

	key := g.prefix + ":" + fingerprint
	store := g.store
	acquired, err := store.Acquire(ctx, key, g.window)
	if err != nil {
		g.logger.WarnContext(ctx, "throttle store unavailable, failing open", "error", err)
		g.storeError("acquire")
		store = g.fallback
		acquired, _ = store.Acquire(ctx, key, g.window)
	}
	if !acquired {
		return false, nil
	}

	if err := action(ctx); err != nil {
		if relErr := store.Release(context.WithoutCancel(ctx), key); relErr != nil {
			g.logger.WarnContext(ctx, "release throttle marker", "error", relErr)
			g.storeError("release")
		}
		return true, err
	}
	return true, nil
}

func (g *Guard) storeError(op string) {
	if g.OnStoreError != nil {
		g.OnStoreError(op)
	}
}

// Fingerprint hashes the normalized request parts into a stable key. Parts
// are trimmed and lower-cased so "A@x.io " and "a@x.io" collide.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
