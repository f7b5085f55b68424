// Package retry provides bounded retries with exponential backoff for
// transient LLM failures (malformed structured output, rate limits).
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes delays to avoid thundering herds.
	Jitter bool
}

// DefaultConfig returns the retry configuration used for LLM calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Permanent wraps an error to mark it as non-retryable.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do executes op until it succeeds, a permanent error is returned, the
// attempt budget is exhausted, or the context is canceled. The last
// error is returned on failure.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.Factor < 1 {
		config.Factor = 2.0
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Factor, float64(attempt-1)))
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
		if config.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()/2))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
