// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kailas-cloud/workoutcache/internal/domain"
)

// Config bounds the number of attempts and the delay between them.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns three attempts starting at 50ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The last error from fn is returned unchanged.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = cfg.Multiplier
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), ctx) //nolint:gosec // MaxAttempts >= 1

	var last error
	err := backoff.Retry(func() error {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !domain.IsRetryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, b)
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err //nolint:wrapcheck // context error from backoff
}
