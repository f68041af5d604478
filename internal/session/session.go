// Package session establishes the logged-in state in a signed cookie once a
// login link has been redeemed.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const CookieName = "email_login_session"

const (
	keySessionID = "sid"
	keyGuard     = "guard"
	keyUserID    = "uid"
	keyIntended  = "intended"
	keyLoginAt   = "login_at"
)

// Resolver loads the user a session is established for.
type Resolver interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// NewCookieStore returns an HttpOnly, SameSite=Lax cookie store keyed by
// hashKey. Secure should be true everywhere except plain-HTTP development.
func NewCookieStore(hashKey []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(hashKey)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

type Manager struct {
	store       sessions.Store
	users       Resolver
	rememberFor time.Duration
	now         func() time.Time
}

// NewManager returns a manager. Sessions created with remember set survive
// browser restarts for rememberFor; the others end with the browser session.
func NewManager(store sessions.Store, users Resolver, rememberFor time.Duration) *Manager {
	return &Manager{store: store, users: users, rememberFor: rememberFor, now: time.Now}
}

// Identity is what a logged-in session carries.
type Identity struct {
	SessionID string
	Guard     string
	UserID    string
	LoginAt   time.Time
	Intended  string
}

// For binds the session of r for modification.
func (m *Manager) For(w http.ResponseWriter, r *http.Request) *Request {
	// A cookie that fails to decode yields a fresh session, which is what we
	// want for tampered or rotated-key cookies.
	s, _ := m.store.Get(r, CookieName)
	return &Request{manager: m, w: w, r: r, session: s}
}

// Current returns the identity stored in r's session, if any.
func (m *Manager) Current(r *http.Request) (Identity, bool) {
	s, err := m.store.Get(r, CookieName)
	if err != nil || s.IsNew {
		return Identity{}, false
	}
	userID, _ := s.Values[keyUserID].(string)
	if userID == "" {
		return Identity{}, false
	}
	id := Identity{UserID: userID}
	id.SessionID, _ = s.Values[keySessionID].(string)
	id.Guard, _ = s.Values[keyGuard].(string)
	id.Intended, _ = s.Values[keyIntended].(string)
	if at, ok := s.Values[keyLoginAt].(int64); ok {
		id.LoginAt = time.Unix(at, 0).UTC()
	}
	return id, true
}

// Logout clears the session and expires the cookie.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	s, _ := m.store.Get(r, CookieName)
	clear(s.Values)
	s.Options.MaxAge = -1
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Request is a session being modified during one HTTP request. Changes are
// written to the response by Save.
type Request struct {
	manager *Manager
	w       http.ResponseWriter
	r       *http.Request
	session *sessions.Session
}

// LoginByID resolves the user and marks the session as logged in under
// guard. It fails with domain.ErrUserNotFound when the user does not exist,
// is inactive, or belongs to another guard.
func (q *Request) LoginByID(ctx context.Context, guard, id string, remember bool) (*domain.User, error) {
	user, err := q.manager.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Active || (user.Guard != "" && user.Guard != guard) {
		return nil, domain.ErrUserNotFound
	}

	q.session.Values[keyGuard] = guard
	q.session.Values[keyUserID] = user.ID
	q.session.Values[keyLoginAt] = q.manager.now().Unix()
	if remember {
		q.session.Options.MaxAge = int(q.manager.rememberFor / time.Second)
	} else {
		q.session.Options.MaxAge = 0
	}
	return user, nil
}

// Regenerate assigns a new session id. The cookie store keeps no server-side
// copy, so the old id simply stops being issued.
func (q *Request) Regenerate() {
	q.session.Values[keySessionID] = uuid.NewString()
}

// SetIntended records where to send the user after login.
func (q *Request) SetIntended(path string) {
	if path == "" {
		delete(q.session.Values, keyIntended)
		return
	}
	q.session.Values[keyIntended] = path
}

// ID returns the current session id, empty until Regenerate is called.
func (q *Request) ID() string {
	sid, _ := q.session.Values[keySessionID].(string)
	return sid
}

func (q *Request) Save() error {
	if err := q.session.Save(q.r, q.w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
