package broker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/email-login/internal/broker"
	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/tokenstore"
)

// ---- helpers ----

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

func newFixture(t *testing.T) (*broker.Broker, *tokenstore.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mem := tokenstore.NewMemoryStore(clock.Now)
	reg := tokenstore.NewRegistry("memory")
	reg.Register("memory", mem)
	return broker.New(reg, "", "email-login", broker.WithClock(clock.Now)), mem, clock
}

func create(t *testing.T, b *broker.Broker, p broker.CreateParams) string {
	t.Helper()
	token, err := b.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return token
}

// ---- scenarios ----

func TestBroker_NewsletterScenario(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newFixture(t)

	token := create(t, b, broker.CreateParams{
		Guard:    "web",
		ID:       42,
		TTL:      broker.Seconds(300),
		Remember: true,
		Intended: "/dashboard",
		Metadata: map[string]string{"src": "newsletter"},
	})

	want, _ := domain.NewLoginIntent("web", 42, true, "/dashboard", map[string]string{"src": "newsletter"})

	got, ok, err := b.Get(ctx, token)
	if err != nil || !ok || !got.Equal(want) {
		t.Fatalf("get = %s, %v, %v", got, ok, err)
	}

	got, ok, err = b.Pull(ctx, token)
	if err != nil || !ok || !got.Equal(want) {
		t.Fatalf("pull = %s, %v, %v", got, ok, err)
	}
	if got.Metadata("src", "") != "newsletter" {
		t.Errorf("metadata src = %q", got.Metadata("src", ""))
	}

	if _, ok, _ := b.Pull(ctx, token); ok {
		t.Error("second pull must report missing")
	}
	if missing, _ := b.Missing(ctx, token); !missing {
		t.Error("missing must be true after pull")
	}
}

func TestBroker_GetDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newFixture(t)
	token := create(t, b, broker.CreateParams{Guard: "web", ID: "u1", TTL: broker.For(time.Minute)})

	for range 3 {
		if _, ok, _ := b.Get(ctx, token); !ok {
			t.Fatal("get consumed the token")
		}
	}
	if _, ok, _ := b.Pull(ctx, token); !ok {
		t.Fatal("pull after gets must succeed")
	}
}

func TestBroker_TokenIsStoredUnderPrefix(t *testing.T) {
	ctx := context.Background()
	b, mem, _ := newFixture(t)
	token := create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.For(time.Minute)})

	if _, err := mem.Get(ctx, "email-login|"+token); err != nil {
		t.Fatalf("raw key not found: %v", err)
	}
	if _, err := mem.Get(ctx, token); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("token must not be stored without prefix")
	}
}

func TestBroker_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	mem := tokenstore.NewMemoryStore(nil)
	reg := tokenstore.NewRegistry("memory")
	reg.Register("memory", mem)

	a := broker.New(reg, "", "app-a")
	b := broker.New(reg, "", "app-b")

	token := create(t, a, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.For(time.Minute), Token: "shared"})

	if _, ok, _ := b.Get(ctx, token); ok {
		t.Fatal("broker with another prefix must not see the intent")
	}
	if _, ok, _ := b.Pull(ctx, token); ok {
		t.Fatal("broker with another prefix must not consume the intent")
	}
	if _, ok, _ := a.Pull(ctx, token); !ok {
		t.Fatal("owning broker lost the intent")
	}
}

func TestBroker_Expiry(t *testing.T) {
	ctx := context.Background()
	b, _, clock := newFixture(t)
	token := create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.For(5 * time.Minute)})

	clock.Advance(5*time.Minute - time.Second)
	if _, ok, _ := b.Get(ctx, token); !ok {
		t.Fatal("intent expired too early")
	}

	clock.Advance(2 * time.Second)
	if _, ok, _ := b.Get(ctx, token); ok {
		t.Fatal("intent outlived its ttl")
	}
	if _, ok, _ := b.Pull(ctx, token); ok {
		t.Fatal("expired intent was pulled")
	}
}

func TestBroker_ConcurrentPullHasOneWinner(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newFixture(t)
	token := create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.For(time.Minute)})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := b.Pull(ctx, token); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want 1", wins.Load())
	}
}

func TestBroker_TTLForms(t *testing.T) {
	b, mem, clock := newFixture(t)
	start := clock.Now()

	cases := []struct {
		name string
		ttl  broker.TTL
		want time.Time
	}{
		{"instant", broker.Until(start.Add(90 * time.Second)), start.Add(90 * time.Second)},
		{"duration", broker.For(2 * time.Minute), start.Add(2 * time.Minute)},
		{"seconds", broker.Seconds(30), start.Add(30 * time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			at, err := tc.ttl.ExpiresAt(start)
			if err != nil || !at.Equal(tc.want) {
				t.Fatalf("expires at = %v, %v; want %v", at, err, tc.want)
			}
			create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: tc.ttl})
		})
	}
	if mem.Len() != len(cases) {
		t.Errorf("stored %d intents, want %d", mem.Len(), len(cases))
	}
}

func TestBroker_RejectsNonFutureTTL(t *testing.T) {
	b, _, clock := newFixture(t)

	for _, ttl := range []broker.TTL{broker.Seconds(0), broker.For(-time.Second), broker.Until(clock.Now())} {
		_, err := b.Create(context.Background(), broker.CreateParams{Guard: "web", ID: 1, TTL: ttl})
		if !errors.Is(err, broker.ErrInvalidTTL) {
			t.Errorf("ttl %+v: want ErrInvalidTTL, got %v", ttl, err)
		}
	}
}

func TestBroker_RejectsInvalidIdentity(t *testing.T) {
	b, _, _ := newFixture(t)
	_, err := b.Create(context.Background(), broker.CreateParams{Guard: "web", ID: 1.5, TTL: broker.Seconds(10)})
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Errorf("want ErrInvalidIdentity, got %v", err)
	}
}

func TestBroker_CustomTokenAndGenerator(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	reg := tokenstore.NewRegistry("memory")
	reg.Register("memory", tokenstore.NewMemoryStore(clock.Now))

	calls := 0
	gen := broker.GeneratorFunc(func() (string, error) {
		calls++
		return "generated", nil
	})
	b := broker.New(reg, "", "p", broker.WithGenerator(gen), broker.WithClock(clock.Now))

	token := create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60)})
	if token != "generated" || calls != 1 {
		t.Fatalf("token = %q, calls = %d", token, calls)
	}

	token = create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60), Token: "custom"})
	if token != "custom" || calls != 1 {
		t.Fatalf("custom token = %q, calls = %d", token, calls)
	}
	if _, ok, _ := b.Get(ctx, "custom"); !ok {
		t.Error("custom token not stored")
	}
}

func TestBroker_GeneratorError(t *testing.T) {
	genErr := errors.New("entropy exhausted")
	reg := tokenstore.NewRegistry("memory")
	reg.Register("memory", tokenstore.NewMemoryStore(nil))
	b := broker.New(reg, "", "p", broker.WithGenerator(broker.GeneratorFunc(func() (string, error) {
		return "", genErr
	})))

	_, err := b.Create(context.Background(), broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60)})
	if !errors.Is(err, genErr) {
		t.Errorf("want genErr, got %v", err)
	}
}

func TestBroker_DefaultTokensAreLongAndDistinct(t *testing.T) {
	b, _, _ := newFixture(t)
	seen := make(map[string]bool)
	for range 100 {
		token := create(t, b, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60)})
		if len(token) != broker.DefaultTokenLength {
			t.Fatalf("token length = %d", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}

func TestBroker_StoreSwitching(t *testing.T) {
	ctx := context.Background()
	primary := tokenstore.NewMemoryStore(nil)
	secondary := tokenstore.NewMemoryStore(nil)
	reg := tokenstore.NewRegistry("primary")
	reg.Register("primary", primary)
	reg.Register("secondary", secondary)

	b := broker.New(reg, "", "p")
	other := b.Store("secondary")

	if b.StoreName() != "primary" || other.StoreName() != "secondary" {
		t.Fatalf("store names = %q, %q", b.StoreName(), other.StoreName())
	}

	token := create(t, other, broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60)})
	if secondary.Len() != 1 || primary.Len() != 0 {
		t.Fatalf("intent written to wrong store: primary=%d secondary=%d", primary.Len(), secondary.Len())
	}
	if _, ok, _ := b.Get(ctx, token); ok {
		t.Error("default broker must not see the other store's intent")
	}
	if b.Store("").StoreName() != "primary" {
		t.Error("empty store name must resolve to the default")
	}
}

func TestBroker_UnknownStore(t *testing.T) {
	b, _, _ := newFixture(t)
	bad := b.Store("nope")

	_, err := bad.Create(context.Background(), broker.CreateParams{Guard: "web", ID: 1, TTL: broker.Seconds(60)})
	if !errors.Is(err, domain.ErrUnknownStore) {
		t.Errorf("create: want ErrUnknownStore, got %v", err)
	}
	if _, _, err := bad.Pull(context.Background(), "t"); !errors.Is(err, domain.ErrUnknownStore) {
		t.Errorf("pull: want ErrUnknownStore, got %v", err)
	}
}

func TestBroker_EmptyTokenIsMissing(t *testing.T) {
	b, _, _ := newFixture(t)
	missing, err := b.Missing(context.Background(), "")
	if err != nil || !missing {
		t.Errorf("missing = %v, %v", missing, err)
	}
}
