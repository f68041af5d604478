package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/session"
)

// ---- fakes ----

type fakeResolver struct {
	findByID func(ctx context.Context, id string) (*domain.User, error)
}

func (f *fakeResolver) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return f.findByID(ctx, id)
}

// ---- helpers ----

const testKey = "session-test-hash-key-32-bytes!!"

var activeUser = &domain.User{ID: "user-1", Guard: "web", Email: "ann@example.com", Active: true}

func newManager(users map[string]*domain.User) *session.Manager {
	resolver := &fakeResolver{findByID: func(_ context.Context, id string) (*domain.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		return nil, domain.ErrUserNotFound
	}}
	return session.NewManager(session.NewCookieStore([]byte(testKey), false), resolver, 30*24*time.Hour)
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func login(t *testing.T, m *session.Manager, remember bool) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/email/login", nil)

	sess := m.For(w, r)
	if _, err := sess.LoginByID(r.Context(), "web", "user-1", remember); err != nil {
		t.Fatalf("login: %v", err)
	}
	sess.Regenerate()
	sess.SetIntended("/dashboard")
	if err := sess.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	return w
}

// ---- tests ----

func TestManager_LoginAndCurrent(t *testing.T) {
	m := newManager(map[string]*domain.User{"user-1": activeUser})
	w := login(t, m, false)

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.AddCookie(sessionCookie(t, w))

	id, ok := m.Current(r)
	if !ok {
		t.Fatal("expected a logged-in session")
	}
	if id.UserID != "user-1" || id.Guard != "web" || id.Intended != "/dashboard" {
		t.Errorf("identity = %+v", id)
	}
	if id.SessionID == "" || id.LoginAt.IsZero() {
		t.Errorf("session id or login time missing: %+v", id)
	}
}

func TestManager_RememberSetsMaxAge(t *testing.T) {
	m := newManager(map[string]*domain.User{"user-1": activeUser})

	if c := sessionCookie(t, login(t, m, true)); c.MaxAge != int((30 * 24 * time.Hour).Seconds()) {
		t.Errorf("remembered cookie max-age = %d", c.MaxAge)
	}
	if c := sessionCookie(t, login(t, m, false)); c.MaxAge != 0 {
		t.Errorf("browser-session cookie max-age = %d, want 0", c.MaxAge)
	}
}

func TestRequest_LoginRejectsUnknownInactiveAndForeignGuard(t *testing.T) {
	inactive := &domain.User{ID: "user-2", Guard: "web", Active: false}
	admin := &domain.User{ID: "user-3", Guard: "admin", Active: true}
	m := newManager(map[string]*domain.User{"user-2": inactive, "user-3": admin})

	for _, id := range []string{"missing", "user-2", "user-3"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if _, err := m.For(w, r).LoginByID(context.Background(), "web", id, false); !errors.Is(err, domain.ErrUserNotFound) {
			t.Errorf("id %s: want ErrUserNotFound, got %v", id, err)
		}
	}
}

func TestRequest_RegenerateChangesID(t *testing.T) {
	m := newManager(nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	sess := m.For(w, r)
	if sess.ID() != "" {
		t.Fatalf("fresh session has id %q", sess.ID())
	}
	sess.Regenerate()
	first := sess.ID()
	sess.Regenerate()
	if sess.ID() == "" || sess.ID() == first {
		t.Errorf("session id not regenerated: %q -> %q", first, sess.ID())
	}
}

func TestManager_CurrentWithoutCookie(t *testing.T) {
	m := newManager(nil)
	if _, ok := m.Current(httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Error("no cookie must mean no session")
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "forged"})
	if _, ok := m.Current(r); ok {
		t.Error("forged cookie must not authenticate")
	}
}

func TestManager_Logout(t *testing.T) {
	m := newManager(map[string]*domain.User{"user-1": activeUser})
	cookie := sessionCookie(t, login(t, m, true))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(cookie)
	if err := m.Logout(w, r); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c := sessionCookie(t, w); c.MaxAge >= 0 {
		t.Errorf("logout cookie max-age = %d, want negative", c.MaxAge)
	}
}
