package common

import (
	"context"
	"math"
	"net/http"
	"time"
)

// Exponential backoff defaults
const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = 1 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultMaxDelay      = 30 * time.Second
)

// RetryPolicy decides whether and when a server failure is re-sent.
// Only 5xx responses are retried; the call is attempted at most
// MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	// MaxDelay caps a single wait; zero means no cap.
	MaxDelay time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		BackoffFactor: DefaultBackoffFactor,
		MaxDelay:      DefaultMaxDelay,
	}
}

// Retryable reports whether status is a server failure with budget left.
func (p RetryPolicy) Retryable(status, attemptsUsed int) bool {
	return status >= http.StatusInternalServerError && attemptsUsed < p.MaxRetries
}

// Delay is BaseDelay * BackoffFactor^attemptsUsed, capped at MaxDelay.
func (p RetryPolicy) Delay(attemptsUsed int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(factor, float64(attemptsUsed))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d unless ctx is canceled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
