package middleware

import (
	"log/slog"
	"net/http"

	ctxlog "github.com/ErlanBelekov/email-login/internal/log"
	"github.com/ErlanBelekov/email-login/internal/session"
	"github.com/gin-gonic/gin"
)

const (
	IdentityKey     = "identity"
	errUnauthorized = "Unauthorized"
)

// RequireSession aborts with 401 unless the request carries a logged-in
// session cookie. The identity is stored under IdentityKey.
func RequireSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessions.Current(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		ctx := ctxlog.WithAttrs(c.Request.Context(), slog.String("user_id", id.UserID), slog.String("guard", id.Guard))
		c.Request = c.Request.WithContext(ctx)
		c.Set(IdentityKey, id)
		c.Next()
	}
}
