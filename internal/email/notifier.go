package email

import (
	"context"
	"fmt"
	"time"
)

// Notifier builds login link messages and hands them to a Sender.
type Notifier struct {
	sender Sender
	now    func() time.Time
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender, now: time.Now}
}

// WithClock returns a copy that computes link lifetimes against now.
func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	clone := *n
	clone.now = now
	return &clone
}

// Notify delivers url to the recipient. Delivery errors are returned to the
// caller unchanged apart from wrapping.
func (n *Notifier) Notify(ctx context.Context, builder MessageBuilder, to Recipient, url string, expiresAt time.Time) error {
	link := Link{URL: url, ExpiresAt: expiresAt, ValidFor: expiresAt.Sub(n.now())}
	msg, err := builder.Build(ctx, to, link)
	if err != nil {
		return fmt.Errorf("build login message: %w", err)
	}
	if msg.To == "" {
		msg.To = to.Email
	}
	if err := n.sender.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
		return fmt.Errorf("deliver login message: %w", err)
	}
	return nil
}
