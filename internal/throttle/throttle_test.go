package throttle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/email-login/internal/throttle"
)

// ---- fakes ----

type fakeStore struct {
	acquire func(ctx context.Context, key string, window time.Duration) (bool, error)
	release func(ctx context.Context, key string) error
}

func (s *fakeStore) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return s.acquire(ctx, key, window)
}

func (s *fakeStore) Release(ctx context.Context, key string) error {
	return s.release(ctx, key)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- Guard ----

func TestGuard_SuppressesWithinWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := throttle.NewGuard(throttle.NewMemoryStore(clock.Now), "throttle", time.Minute, discardLogger())

	runs := 0
	action := func(context.Context) error { runs++; return nil }

	fp := throttle.Fingerprint("web", "a@example.com")
	for i := range 3 {
		ran, err := g.Do(ctx, fp, action)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if ran != (i == 0) {
			t.Errorf("call %d: ran = %v", i, ran)
		}
	}
	if runs != 1 {
		t.Fatalf("runs = %d inside window, want 1", runs)
	}

	clock.Advance(time.Minute)
	if ran, _ := g.Do(ctx, fp, action); !ran || runs != 2 {
		t.Fatalf("after window: ran = %v, runs = %d", ran, runs)
	}
}

func TestGuard_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	g := throttle.NewGuard(throttle.NewMemoryStore(nil), "throttle", time.Minute, discardLogger())

	runs := 0
	action := func(context.Context) error { runs++; return nil }

	_, _ = g.Do(ctx, throttle.Fingerprint("a@example.com"), action)
	_, _ = g.Do(ctx, throttle.Fingerprint("b@example.com"), action)
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestGuard_ReleasesMarkerWhenActionFails(t *testing.T) {
	ctx := context.Background()
	g := throttle.NewGuard(throttle.NewMemoryStore(nil), "throttle", time.Minute, discardLogger())
	actionErr := errors.New("mailer down")

	ran, err := g.Do(ctx, "fp", func(context.Context) error { return actionErr })
	if !ran || !errors.Is(err, actionErr) {
		t.Fatalf("ran = %v, err = %v", ran, err)
	}

	ran, err = g.Do(ctx, "fp", func(context.Context) error { return nil })
	if !ran || err != nil {
		t.Fatalf("retry after failure: ran = %v, err = %v", ran, err)
	}
}

func TestGuard_FailsOpenWhenStoreErrors(t *testing.T) {
	var storeErrors []string
	store := &fakeStore{
		acquire: func(context.Context, string, time.Duration) (bool, error) {
			return false, errors.New("redis unreachable")
		},
	}
	g := throttle.NewGuard(store, "throttle", time.Minute, discardLogger())
	g.OnStoreError = func(op string) { storeErrors = append(storeErrors, op) }

	runs := 0
	ran, err := g.Do(context.Background(), "fp", func(context.Context) error { runs++; return nil })
	if !ran || err != nil || runs != 1 {
		t.Fatalf("ran = %v, err = %v, runs = %d", ran, err, runs)
	}
	if len(storeErrors) != 1 || storeErrors[0] != "acquire" {
		t.Errorf("store errors = %v", storeErrors)
	}
}

func TestGuard_StoreOutageAllowsOneRunPerWindow(t *testing.T) {
	store := &fakeStore{
		acquire: func(context.Context, string, time.Duration) (bool, error) {
			return false, errors.New("redis unreachable")
		},
	}
	g := throttle.NewGuard(store, "throttle", time.Minute, discardLogger())

	runs := 0
	action := func(context.Context) error { runs++; return nil }
	for range 5 {
		if _, err := g.Do(context.Background(), "same-fp", action); err != nil {
			t.Fatal(err)
		}
	}
	if runs != 1 {
		t.Errorf("runs = %d during outage, want 1", runs)
	}

	if ran, _ := g.Do(context.Background(), "other-fp", action); !ran {
		t.Error("other fingerprint should not be suppressed")
	}
}

func TestGuard_StoreOutageReleasesOnFailure(t *testing.T) {
	store := &fakeStore{
		acquire: func(context.Context, string, time.Duration) (bool, error) {
			return false, errors.New("redis unreachable")
		},
	}
	g := throttle.NewGuard(store, "throttle", time.Minute, discardLogger())

	if _, err := g.Do(context.Background(), "fp", func(context.Context) error { return errors.New("smtp down") }); err == nil {
		t.Fatal("expected action error")
	}
	runs := 0
	if ran, _ := g.Do(context.Background(), "fp", func(context.Context) error { runs++; return nil }); !ran || runs != 1 {
		t.Errorf("retry after failure: ran = %v, runs = %d", ran, runs)
	}
}

func TestGuard_PrefixesKeys(t *testing.T) {
	var gotKey string
	var gotWindow time.Duration
	store := &fakeStore{
		acquire: func(_ context.Context, key string, window time.Duration) (bool, error) {
			gotKey, gotWindow = key, window
			return true, nil
		},
	}
	g := throttle.NewGuard(store, "login-throttle", 30*time.Second, discardLogger())

	_, _ = g.Do(context.Background(), "abc", func(context.Context) error { return nil })
	if gotKey != "login-throttle:abc" || gotWindow != 30*time.Second {
		t.Errorf("key = %q, window = %v", gotKey, gotWindow)
	}
}

func TestGuard_ZeroWindowDisables(t *testing.T) {
	store := &fakeStore{
		acquire: func(context.Context, string, time.Duration) (bool, error) {
			t.Fatal("store must not be consulted")
			return false, nil
		},
	}
	g := throttle.NewGuard(store, "throttle", 0, discardLogger())

	runs := 0
	for range 2 {
		_, _ = g.Do(context.Background(), "fp", func(context.Context) error { runs++; return nil })
	}
	if runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

// ---- Fingerprint ----

func TestFingerprint_Normalizes(t *testing.T) {
	a := throttle.Fingerprint("web", " Alice@Example.com ")
	b := throttle.Fingerprint("WEB", "alice@example.com")
	if a != b {
		t.Errorf("normalized fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_PartBoundariesMatter(t *testing.T) {
	if throttle.Fingerprint("ab", "c") == throttle.Fingerprint("a", "bc") {
		t.Error("fingerprint must separate parts")
	}
}
