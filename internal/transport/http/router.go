package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/email-login/internal/session"
	"github.com/ErlanBelekov/email-login/internal/signedurl"
	"github.com/ErlanBelekov/email-login/internal/transport/http/handler"
	"github.com/ErlanBelekov/email-login/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// Route names used when building login links.
const (
	RouteLogin = "email.login"
	LoginPath  = "/auth/email/login"
)

func NewRouter(logger *slog.Logger, emailHandler *handler.EmailLoginHandler, sessionHandler *handler.SessionHandler, sessions *session.Manager, signer *signedurl.Signer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		// The query string of a login link is a bearer capability.
		Filters: []sloggin.Filter{sloggin.IgnorePath(LoginPath)},
	}))
	r.Use(middleware.Metrics())

	auth := r.Group("/auth")
	auth.POST("/email/send", emailHandler.Send)
	// A scanner prefetching the link gets the preview; only POST consumes.
	auth.GET("/email/login", middleware.Signed(signer, http.StatusGone), emailHandler.Preview)
	auth.POST("/email/login", middleware.Signed(signer, http.StatusUnprocessableEntity), emailHandler.Login)

	auth.GET("/me", middleware.RequireSession(sessions), sessionHandler.Me)
	auth.POST("/logout", sessionHandler.Logout)

	return r
}
