package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/email-login/internal/broker"
	"github.com/ErlanBelekov/email-login/internal/tokenstore"
)

func TestTokenStore_PutGetTakeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(testPool(t))

	if err := s.Put(ctx, "k", []byte("v1"), time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v2"), time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		got, err := s.Get(ctx, "k")
		if err != nil || string(got) != "v2" {
			t.Fatalf("get = %q, %v; want v2", got, err)
		}
	}

	got, err := s.Take(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("take = %q, %v; want v2", got, err)
	}
	if _, err := s.Take(ctx, "k"); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("second take: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("get after take: err = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_ExpiredRowIsInvisible(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(testPool(t))
	expiresAt := time.Now().Add(time.Minute)
	if err := s.Put(ctx, "k", []byte("v"), expiresAt); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return expiresAt }
	if _, err := s.Get(ctx, "k"); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("get: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Take(ctx, "k"); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Errorf("take: err = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_ConcurrentTakeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(testPool(t))
	if err := s.Put(ctx, "race", []byte("v"), time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}

func TestTokenStore_PruneExpired(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(testPool(t))
	now := time.Now()

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		if err := s.Put(ctx, key, []byte("v"), now.Add(-time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, "live", []byte("v"), now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	for _, want := range []int{2, 1, 0} {
		n, err := s.PruneExpired(ctx, now, 2)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("pruned = %d, want %d", n, want)
		}
	}
	if _, err := s.Get(ctx, "live"); err != nil {
		t.Errorf("live row pruned: %v", err)
	}
}

func TestTokenStore_WithBroker(t *testing.T) {
	ctx := context.Background()
	reg := tokenstore.NewRegistry("database")
	reg.Register("database", NewTokenStore(testPool(t)))
	b := broker.New(reg, "database", "login")

	token, err := b.Create(ctx, broker.CreateParams{Guard: "web", ID: "user-1", TTL: broker.For(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	intent, ok, err := b.Pull(ctx, token)
	if err != nil || !ok || intent.IDString() != "user-1" {
		t.Fatalf("pull = %v, %v, %v", intent, ok, err)
	}
	if missing, _ := b.Missing(ctx, token); !missing {
		t.Error("token should be gone after pull")
	}
}
