package handler

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/email-login/internal/session"
	"github.com/ErlanBelekov/email-login/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions *session.Manager
	logger   *slog.Logger
}

func NewSessionHandler(sessions *session.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.With("component", "session_handler"),
	}
}

// GET /auth/me
func (h *SessionHandler) Me(c *gin.Context) {
	id, ok := c.Get(middleware.IdentityKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}
	identity := id.(session.Identity)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    identity.UserID,
		"guard":      identity.Guard,
		"session_id": identity.SessionID,
		"login_at":   identity.LoginAt,
		"intended":   identity.Intended,
	})
}

// POST /auth/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Writer, c.Request); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "logout", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.Status(http.StatusNoContent)
}
