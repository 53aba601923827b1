// Package notify builds configuration change notifications and delivers them through
// an unreliable channel with a bounded, fixed-delay retry.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
)

// ErrDeliveryFailed is returned once every delivery attempt has failed.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Receipt is what the channel answered for a delivery attempt.
type Receipt struct {
	StatusCode int
	Body       string
	Attempts   int
}

// OK reports whether the channel accepted the notification.
func (r Receipt) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Channel performs a single delivery attempt. A non-2xx status in the receipt or a
// returned error both count as a failed attempt.
type Channel interface {
	Deliver(ctx context.Context, p Payload) (Receipt, error)
}

// Logger abstracts logging so callers can use logrus or anything with the same methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}

// RetryingNotifier delivers a payload, retrying failed attempts after a constant delay.
// It makes at most MaxRetries+1 attempts.
type RetryingNotifier struct {
	Channel    Channel
	MaxRetries int
	RetryDelay time.Duration
	Clock      clock.Clock // defaults to the wall clock
	Log        Logger      // optional
}

// Notify delivers p and returns the receipt of the successful attempt.
func (n *RetryingNotifier) Notify(ctx context.Context, p Payload) (Receipt, error) {
	log := n.Log
	if log == nil {
		log = nopLogger{}
	}
	clk := n.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	var (
		receipt Receipt
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		receipt, lastErr = n.Channel.Deliver(ctx, p)
		receipt.Attempts = attempt
		if lastErr == nil && receipt.OK() {
			return receipt, nil
		}

		reason := fmt.Sprintf("status %d", receipt.StatusCode)
		if lastErr != nil {
			reason = lastErr.Error()
		}
		if attempt > n.MaxRetries {
			return receipt, fmt.Errorf("%w after %d attempt(s): %s", ErrDeliveryFailed, attempt, reason)
		}

		log.Warnf("Notification attempt %d failed (%s), retrying in %s", attempt, reason, n.RetryDelay)
		select {
		case <-ctx.Done():
			return receipt, fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
		case <-clk.After(n.RetryDelay):
		}
	}
}
