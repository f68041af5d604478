package broker

import (
	"errors"
	"time"
)

// ErrInvalidTTL is returned when a TTL does not resolve to an instant in the
// future.
var ErrInvalidTTL = errors.New("broker: ttl must resolve to a future instant")

// TTL describes how long a login intent stays redeemable. It is either an
// absolute expiration instant or a duration relative to the moment of
// creation. Build one with Until, For or Seconds.
type TTL struct {
	at       time.Time
	duration time.Duration
}

// Until expires the intent at the given instant.
func Until(at time.Time) TTL {
	return TTL{at: at}
}

// For expires the intent d after creation.
func For(d time.Duration) TTL {
	return TTL{duration: d}
}

// Seconds expires the intent n seconds after creation.
func Seconds(n int) TTL {
	return TTL{duration: time.Duration(n) * time.Second}
}

// ExpiresAt normalizes the TTL against now.
func (t TTL) ExpiresAt(now time.Time) (time.Time, error) {
	var at time.Time
	if !t.at.IsZero() {
		at = t.at
	} else {
		at = now.Add(t.duration)
	}
	if !at.After(now) {
		return time.Time{}, ErrInvalidTTL
	}
	return at, nil
}
