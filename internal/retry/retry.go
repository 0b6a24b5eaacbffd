// Package retry runs a function again with exponential backoff. Only startup
// bootstrapping uses it; scheduled operations never retry internally.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // 0 = until ctx is done
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // 0-1
}

// DefaultConfig returns the bootstrap defaults: five attempts over roughly
// half a minute.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		InitialWait: time.Second,
		MaxWait:     15 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// RetryableError marks an error as worth another attempt.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }

func (e RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that Do tries again. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	return errors.As(err, &r)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, name string, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, name, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, name string, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		cause := errors.Unwrap(err)
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return zero, cause
		}

		wait := backoff(cfg, attempt)
		logging.Warn("attempt failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(cause))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func backoff(cfg Config, attempt int) time.Duration {
	wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}
