package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/email-login/config"
	"github.com/ErlanBelekov/email-login/internal/broker"
	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/email"
	"github.com/ErlanBelekov/email-login/internal/health"
	mongostore "github.com/ErlanBelekov/email-login/internal/infrastructure/mongo"
	"github.com/ErlanBelekov/email-login/internal/infrastructure/postgres"
	redisstore "github.com/ErlanBelekov/email-login/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/email-login/internal/log"
	"github.com/ErlanBelekov/email-login/internal/metrics"
	"github.com/ErlanBelekov/email-login/internal/scheduler"
	"github.com/ErlanBelekov/email-login/internal/session"
	"github.com/ErlanBelekov/email-login/internal/signedurl"
	"github.com/ErlanBelekov/email-login/internal/throttle"
	"github.com/ErlanBelekov/email-login/internal/tokenstore"
	httptransport "github.com/ErlanBelekov/email-login/internal/transport/http"
	"github.com/ErlanBelekov/email-login/internal/transport/http/handler"
	"github.com/ErlanBelekov/email-login/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)
	checker.Add("postgres", pool)

	// Token stores. Every backend that is configured is registered so links
	// minted against one keep working after CACHE_STORE changes.
	memTokens := tokenstore.NewMemoryStore(time.Now)
	dbTokens := postgres.NewTokenStore(pool)
	stores := tokenstore.NewRegistry(cfg.CacheStore)
	stores.Register("memory", memTokens)
	stores.Register("database", dbTokens)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			stop()
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		stores.Register("redis", redisstore.NewTokenStore(redisClient))
		checker.Add("redis", health.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	if cfg.MongoURL != "" {
		mongoClient, err := mongostore.Connect(ctx, cfg.MongoURL)
		if err != nil {
			stop()
			log.Fatalf("mongo: %v", err)
		}
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
		mongoTokens, err := mongostore.NewTokenStore(ctx, mongoClient.Database(cfg.MongoDB).Collection(mongostore.DefaultCollectionName))
		if err != nil {
			stop()
			log.Fatalf("mongo: %v", err)
		}
		stores.Register("mongo", mongoTokens)
		checker.Add("mongo", mongoTokens)
	}

	if _, err := stores.Lookup(cfg.CacheStore); err != nil {
		stop()
		log.Fatalf("token store: %v", err)
	}
	loginBroker := broker.New(stores, cfg.CacheStore, cfg.CachePrefix)

	// Throttle
	var throttleStore throttle.Store = throttle.NewMemoryStore(time.Now)
	if cfg.ThrottleStore == "redis" {
		throttleStore = redisstore.NewThrottleStore(redisClient)
	}
	guard := throttle.NewGuard(throttleStore, cfg.ThrottlePrefix, cfg.ThrottleWindow(), logger)
	guard.OnStoreError = func(op string) {
		metrics.ThrottleStoreErrorsTotal.WithLabelValues(op).Inc()
	}

	// Mail
	sender, err := email.NewSender(email.Options{
		Mailer:       cfg.Mailer,
		From:         cfg.MailFrom,
		ResendAPIKey: cfg.ResendAPIKey,
		SMTP: email.SMTPParams{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			UseSSL:   cfg.SMTPSSL,
		},
		PerMinute: cfg.MailPerMinute,
		Burst:     cfg.MailBurst,
	}, logger)
	if err != nil {
		stop()
		log.Fatalf("mailer: %v", err)
	}
	templates := email.NewTemplates(cfg.MailSubject)
	if cfg.MailTemplateDir != "" {
		if err := templates.LoadFS(os.DirFS(cfg.MailTemplateDir), cfg.MailSubject); err != nil {
			stop()
			log.Fatalf("mail templates: %v", err)
		}
	}
	if !templates.Has(cfg.MailTemplate) {
		stop()
		log.Fatalf("mail template %q: %v", cfg.MailTemplate, email.ErrUnknownTemplate)
	}

	// Links
	signer := signedurl.NewSigner([]byte(cfg.SigningKey))
	routes := signedurl.NewRoutes(cfg.AppURL, map[string]string{httptransport.RouteLogin: cfg.LoginRoute})

	// Users and sessions
	userRepo := postgres.NewUserRepository(pool)
	sessions := session.NewManager(session.NewCookieStore([]byte(cfg.SessionKey), cfg.SecureCookies()), userRepo, cfg.RememberFor())

	issuer := usecase.NewIssuer(loginBroker, userRepo, email.NewNotifier(sender), signedurl.NewBuilder(signer), usecase.IssuerConfig{
		Guards:       cfg.Guards,
		DefaultGuard: cfg.DefaultGuard,
		LinkTTL:      cfg.LinkTTL(),
		Destination:  signedurl.ToRoute(routes, httptransport.RouteLogin, nil),
		Message:      email.FromTemplate(templates, cfg.MailTemplate),
		Throttle:     guard,
		Hooks: usecase.IssuanceHooks{
			OnSent: func(ctx context.Context, guard string, user *domain.User) {
				logger.DebugContext(ctx, "login link event", "event", "sent", "guard", guard, "user_id", user.ID)
			},
		},
	}, logger)
	redeemer := usecase.NewRedeemer(loginBroker, cfg.DefaultRedirect, logger)

	emailHandler := handler.NewEmailLoginHandler(issuer, redeemer, sessions, cfg.RememberField, logger)
	sessionHandler := handler.NewSessionHandler(sessions, logger)

	pruner, err := scheduler.NewPruner(cfg.PruneCron, map[string]scheduler.Prunable{
		"database": dbTokens,
		"memory":   memTokens,
	}, logger)
	if err != nil {
		stop()
		log.Fatalf("pruner: %v", err)
	}
	go pruner.Start(ctx)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, emailHandler, sessionHandler, sessions, signer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "store", cfg.CacheStore, "stores", stores.Names(), "mailer", cfg.Mailer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
