// Package retry repeats an operation with exponential backoff until it
// succeeds, fails permanently or the context ends. ptrscan uses it to wait for
// a target process to start.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the backoff schedule. InitialBackoff must be positive.
type Config struct {
	// MaxRetries is the maximum number of calls. Zero or less means call until
	// the context ends.
	MaxRetries int

	// InitialBackoff is the wait before the second call. Each further wait
	// doubles.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to this fraction of the wait, growing with the attempt.
	Jitter float64
}

// ShouldRetryFunc reports whether err is transient. A nil func retries every
// error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil, returns an error shouldRetry rejects, the
// attempts run out or ctx ends. Exhaustion wraps the last error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(calculateBackoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff returns InitialBackoff * 2^(attempt-1), capped at
// MaxBackoff, plus jitter.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))
	if backoff < 0 || (cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff) {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		scale := 1.0
		if cfg.MaxRetries > 0 {
			scale = math.Min(1, float64(attempt)/float64(cfg.MaxRetries))
		}
		backoff += time.Duration(float64(backoff) * cfg.Jitter * scale)
	}

	return backoff
}
