package embedder

import (
	"context"
	"errors"
	"net"
	"time"
)

// Retry configuration defaults: capped exponential backoff on the batch
// boundary, transient errors only.
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 2000
	BackoffMultiplier = 2.0

	// rateLimitFactor widens the base delay after a 429.
	rateLimitFactor = 4
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the documented retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  InitialBackoffMs * time.Millisecond,
		MaxDelay:   MaxBackoffMs * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// apiError carries an HTTP status so retry can classify it.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return "api error " + itoa(e.status) + ": " + e.body
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// isTransient reports whether an error is worth retrying: network
// failures, 5xx, and 429. Everything else is permanent and fails the
// batch immediately.
func isTransient(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status == 429 || ae.status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// isRateLimited reports whether the error was a 429.
func isRateLimited(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == 429
}

// retryWithBackoff executes fn with capped exponential backoff. Permanent
// errors and context cancellation stop retrying immediately; rate-limit
// errors extend the delay.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !isTransient(err) {
			return zero, err
		}
		if attempt == config.MaxRetries {
			break
		}

		delay := backoff
		if isRateLimited(err) {
			delay *= rateLimitFactor
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if backoff > config.MaxDelay {
				backoff = config.MaxDelay
			}
		}
	}

	return zero, lastErr
}
