package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ErlanBelekov/email-login/internal/domain"
	ctxlog "github.com/ErlanBelekov/email-login/internal/log"
	"github.com/ErlanBelekov/email-login/internal/metrics"
	"github.com/ErlanBelekov/email-login/internal/session"
	"github.com/ErlanBelekov/email-login/internal/transport/http/middleware"
	"github.com/ErlanBelekov/email-login/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// issuer and redeemer are the subsets of the usecases the handler needs.
// Defined here (point of use) so tests can inject fakes.
type issuer interface {
	CredentialField(guard string) (string, string, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendResult, error)
}

type redeemer interface {
	Preview(ctx context.Context, store, token string) (domain.LoginIntent, error)
	Login(ctx context.Context, store, token string, sess usecase.Session) (usecase.LoginResult, error)
}

type EmailLoginHandler struct {
	issuer      issuer
	redeemer    redeemer
	sessions    *session.Manager
	validate    *validator.Validate
	rememberKey string
	logger      *slog.Logger
}

func NewEmailLoginHandler(issuer issuer, redeemer redeemer, sessions *session.Manager, rememberKey string, logger *slog.Logger) *EmailLoginHandler {
	return &EmailLoginHandler{
		issuer:      issuer,
		redeemer:    redeemer,
		sessions:    sessions,
		validate:    validator.New(),
		rememberKey: rememberKey,
		logger:      logger.With("component", "email_login_handler"),
	}
}

// POST /auth/email/send
// Answers 200 with the same body whether or not the account exists.
func (h *EmailLoginHandler) Send(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := stringFields(body)

	guard, field, err := h.issuer.CredentialField(fields["guard"])
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errUnknownGuard})
		return
	}

	credential := strings.TrimSpace(fields[field])
	rule := "required,max=255"
	if field == "email" {
		rule = "required,email,max=254"
	}
	if err := h.validate.Var(credential, rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidInput, "field": field})
		return
	}
	fields[field] = credential

	ctx := ctxlog.WithAttrs(c.Request.Context(), slog.String("guard", guard))
	res, err := h.issuer.Send(ctx, usecase.SendInput{
		Guard:    guard,
		Request:  fields,
		Remember: truthy(body[h.rememberKey]),
		Intended: localPath(fields["intended"]),
	})
	if err != nil {
		metrics.LinksRequestedTotal.WithLabelValues("error").Inc()
		switch {
		case errors.Is(err, domain.ErrUnknownGuard):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errUnknownGuard})
		default:
			h.logger.ErrorContext(ctx, "send login link", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	metrics.LinksRequestedTotal.WithLabelValues(sendOutcome(res)).Inc()
	c.JSON(http.StatusOK, gin.H{"message": msgLinkSent})
}

// GET /auth/email/login?token=&store=&signature=
// Shows what the link would do without consuming it, so mail scanners that
// prefetch the URL cannot burn the token.
func (h *EmailLoginHandler) Preview(c *gin.Context) {
	ctx := c.Request.Context()
	intent, err := h.redeemer.Preview(ctx, c.GetString(middleware.StoreKey), c.GetString(middleware.TokenKey))
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			metrics.RedemptionsTotal.WithLabelValues("preview", "invalid").Inc()
			c.JSON(http.StatusGone, gin.H{"error": domain.ErrTokenInvalid.Error()})
			return
		}
		metrics.RedemptionsTotal.WithLabelValues("preview", "error").Inc()
		h.logger.ErrorContext(ctx, "preview login link", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	metrics.RedemptionsTotal.WithLabelValues("preview", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"guard":    intent.Guard(),
		"remember": intent.Remember(),
		"intended": intent.Intended(),
	})
}

// POST /auth/email/login?token=&store=&signature=
// Consumes the token and establishes the session.
func (h *EmailLoginHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	sess := h.sessions.For(c.Writer, c.Request)

	res, err := h.redeemer.Login(ctx, c.GetString(middleware.StoreKey), c.GetString(middleware.TokenKey), sess)
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			metrics.RedemptionsTotal.WithLabelValues("login", "invalid").Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": domain.ErrTokenInvalid.Error()})
			return
		}
		metrics.RedemptionsTotal.WithLabelValues("login", "error").Inc()
		h.logger.ErrorContext(ctx, "redeem login link", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if err := sess.Save(); err != nil {
		metrics.RedemptionsTotal.WithLabelValues("login", "error").Inc()
		h.logger.ErrorContext(ctx, "save session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	metrics.RedemptionsTotal.WithLabelValues("login", "ok").Inc()
	h.logger.InfoContext(ctx, "user logged in", "user_id", res.User.ID, "guard", res.Intent.Guard(), "session_id", sess.ID())
	c.JSON(http.StatusOK, gin.H{"redirect": res.Redirect})
}

func sendOutcome(res usecase.SendResult) string {
	switch {
	case res.Throttled:
		return "throttled"
	case res.RateLimited:
		return "rate_limited"
	case res.Sent:
		return "sent"
	default:
		return "unknown"
	}
}

func stringFields(body map[string]any) map[string]string {
	fields := make(map[string]string, len(body))
	for k, v := range body {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "1", "true", "on", "yes":
			return true
		}
	case float64:
		return b == 1
	}
	return false
}

// localPath keeps only same-origin absolute paths so the post-login redirect
// cannot be pointed at another host.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return ""
	}
	return p
}
