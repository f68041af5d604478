package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env         string `env:"ENV"          envDefault:"local" validate:"required,oneof=local staging production"`
	Port        string `env:"PORT"         envDefault:"8080"  validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"  validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"25" validate:"min=1,max=200"`
	RedisURL    string `env:"REDIS_URL" validate:"required_if=CacheStore redis,required_if=ThrottleStore redis"`
	MongoURL    string `env:"MONGO_URL" validate:"required_if=CacheStore mongo"`
	MongoDB     string `env:"MONGO_DATABASE" envDefault:"email_login"`

	AppURL     string `env:"APP_URL"     envDefault:"http://localhost:8080" validate:"required,url"`
	SigningKey string `env:"SIGNING_KEY,required" validate:"required,min=32"`
	SessionKey string `env:"SESSION_KEY,required" validate:"required,min=32"`

	// Guards maps guard names to the request field identifying their users,
	// e.g. "web:email,staff:username".
	Guards          map[string]string `env:"GUARDS"           envDefault:"web:email"`
	DefaultGuard    string            `env:"DEFAULT_GUARD"    envDefault:"web" validate:"required"`
	RememberField   string            `env:"REMEMBER_FIELD"   envDefault:"remember"`
	RememberDays    int               `env:"REMEMBER_DAYS"    envDefault:"30" validate:"min=1"`
	LoginRoute      string            `env:"LOGIN_ROUTE"      envDefault:"/auth/email/login" validate:"startswith=/"`
	DefaultRedirect string            `env:"DEFAULT_REDIRECT" envDefault:"/" validate:"startswith=/"`
	LinkTTLMinutes  int               `env:"LINK_TTL_MINUTES" envDefault:"5" validate:"min=1,max=1440"`

	CacheStore      string `env:"CACHE_STORE"      envDefault:"database" validate:"oneof=memory database redis mongo"`
	CachePrefix     string `env:"CACHE_PREFIX"     envDefault:"email_login"`
	ThrottleStore   string `env:"THROTTLE_STORE"   envDefault:"memory" validate:"oneof=memory redis"`
	ThrottlePrefix  string `env:"THROTTLE_PREFIX"  envDefault:"email_login_throttle"`
	ThrottleSeconds int    `env:"THROTTLE_SECONDS" envDefault:"60" validate:"min=0"`

	Mailer          string `env:"MAILER"            envDefault:"log" validate:"oneof=log resend smtp"`
	MailFrom        string `env:"MAIL_FROM"         envDefault:"no-reply@localhost" validate:"required"`
	MailTemplate    string `env:"MAIL_TEMPLATE"     envDefault:"login"`
	MailTemplateDir string `env:"MAIL_TEMPLATE_DIR"`
	MailSubject     string `env:"MAIL_SUBJECT"      envDefault:"Your sign-in link"`
	ResendAPIKey    string `env:"RESEND_API_KEY"    validate:"required_if=Mailer resend"`
	SMTPHost        string `env:"SMTP_HOST"         validate:"required_if=Mailer smtp"`
	SMTPPort        int    `env:"SMTP_PORT"         envDefault:"587"`
	SMTPUsername    string `env:"SMTP_USERNAME"`
	SMTPPassword    string `env:"SMTP_PASSWORD"`
	SMTPSSL         bool   `env:"SMTP_SSL"`
	MailPerMinute   int    `env:"MAIL_RATE_PER_MINUTE" envDefault:"0" validate:"min=0"`
	MailBurst       int    `env:"MAIL_BURST"           envDefault:"5" validate:"min=1"`

	PruneCron string `env:"PRUNE_CRON" envDefault:"*/15 * * * *"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, ok := cfg.Guards[cfg.DefaultGuard]; !ok {
		return nil, fmt.Errorf("invalid config: DEFAULT_GUARD %q is not listed in GUARDS", cfg.DefaultGuard)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) LinkTTL() time.Duration {
	return time.Duration(c.LinkTTLMinutes) * time.Minute
}

func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleSeconds) * time.Second
}

func (c *Config) RememberFor() time.Duration {
	return time.Duration(c.RememberDays) * 24 * time.Hour
}

// SecureCookies is false only for local development over plain HTTP.
func (c *Config) SecureCookies() bool {
	return c.Env != "local"
}
