// Package retry runs an operation with exponential backoff for as long as
// its errors are classified retryable.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 500 * time.Millisecond}, llm.IsRetryable, func() error {
//	    return client.Call()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 mean a single try.
	Attempts int
	// BaseDelay is the wait before the second try; each further wait
	// doubles, capped by MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the per-try wait.
	MaxDelay time.Duration
}

// Do calls fn up to cfg.Attempts times. retryable decides which errors are
// worth another try; a nil predicate retries everything. Do stops early on
// context cancellation or when fn succeeds, and returns the last error.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) || attempt == cfg.Attempts {
			return lastErr
		}

		slog.Debug("retry: transient failure, backing off",
			"attempt", attempt, "max", cfg.Attempts,
			"err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
