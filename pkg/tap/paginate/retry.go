// Package paginate walks paginated remote collections with bounded retries.
package paginate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/errors"
)

// RetryPolicy retries transient fetch failures with exponential backoff.
// Terminal errors pass through on the first attempt.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	Log          *zap.Logger
}

// DefaultRetryPolicy returns the production policy: five attempts with delays
// of 2, 4, 8 and 16 seconds between them.
func DefaultRetryPolicy(log *zap.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		Log:          log,
	}
}

// Execute runs op until it succeeds, fails terminally, or attempts run out.
// The backoff sleep aborts when the context is canceled.
func (p *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		if p.Log != nil {
			p.Log.Warn("transient fetch failure, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "backoff interrupted")
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return errors.Wrap(lastErr, errors.ErrorTypeConnection, "retries exhausted").
		WithDetail("attempts", p.MaxAttempts)
}
