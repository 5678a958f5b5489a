// Package resilience wraps fortify retry policies for calls to external
// clients that are worth repeating.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// Config configures a retry policy.
type Config struct {
	// Attempts is the total number of tries; values below 2 disable retry.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns a single-attempt policy with exponential backoff
// parameters ready for when attempts are raised.
func DefaultConfig() Config {
	return Config{
		Attempts:     1,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Enabled reports whether more than one attempt is configured.
func (c Config) Enabled() bool {
	return c.Attempts > 1
}

// Do runs operation under the policy. With retry disabled, operation runs
// exactly once.
func Do[T any](ctx context.Context, cfg Config, operation func(context.Context) (T, error)) (T, error) {
	if !cfg.Enabled() {
		return operation(ctx)
	}

	r := retry.New[T](retry.Config{
		MaxAttempts:   cfg.Attempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
		Jitter:        true,
		IsRetryable:   IsRetryable,
	})
	return r.Do(ctx, operation)
}

// IsRetryable reports whether err is worth another attempt. Cancellation,
// configuration and response-shape errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch rperrors.GetKind(err) {
	case rperrors.KindCanceled, rperrors.KindConfig, rperrors.KindLockResponse:
		return false
	default:
		return true
	}
}
