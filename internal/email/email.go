package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

var ErrRateLimitExceeded = errors.New("email: rate limit exceeded")

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them. Used in local development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "mailer")}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "login link email (log mailer)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Dialer is the part of *gomail.Dialer the SMTP sender needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	dialer Dialer
	from   string
}

type SMTPParams struct {
	Host      string
	Port      int
	Username  string
	Password  string
	UseSSL    bool
	LocalName string
}

func NewSMTPSender(p SMTPParams, from string) *SMTPSender {
	dialer := gomail.NewDialer(p.Host, p.Port, p.Username, p.Password)
	dialer.SSL = p.UseSSL
	dialer.LocalName = p.LocalName
	return &SMTPSender{dialer: dialer, from: from}
}

// NewSMTPSenderWithDialer is used by tests to capture outgoing messages.
func NewSMTPSenderWithDialer(d Dialer, from string) *SMTPSender {
	return &SMTPSender{dialer: d, from: from}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// LimitedSender caps the outgoing mail rate of the whole process. Sends over
// the limit fail with ErrRateLimitExceeded instead of queueing.
type LimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

func NewLimitedSender(next Sender, every time.Duration, burst int) *LimitedSender {
	return &LimitedSender{next: next, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (s *LimitedSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.limiter.Allow() {
		return ErrRateLimitExceeded
	}
	return s.next.Send(ctx, to, subject, body)
}

type Options struct {
	Mailer       string
	From         string
	ResendAPIKey string
	SMTP         SMTPParams
	// PerMinute and Burst configure LimitedSender. PerMinute <= 0 disables it.
	PerMinute int
	Burst     int
}

// NewSender picks the transport named by opts.Mailer (log, resend or smtp)
// and wraps it in a rate limiter when one is configured.
func NewSender(opts Options, logger *slog.Logger) (Sender, error) {
	var s Sender
	switch opts.Mailer {
	case "", "log":
		s = NewLogSender(logger)
	case "resend":
		s = NewResendSender(opts.ResendAPIKey, opts.From)
	case "smtp":
		s = NewSMTPSender(opts.SMTP, opts.From)
	default:
		return nil, fmt.Errorf("unknown mailer %q", opts.Mailer)
	}
	if opts.PerMinute > 0 {
		s = NewLimitedSender(s, time.Minute/time.Duration(opts.PerMinute), max(opts.Burst, 1))
	}
	return s, nil
}
