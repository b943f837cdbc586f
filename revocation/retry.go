package revocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig configures retry behavior for revocation requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first try).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delays, 0.1 meaning +/-10%.
	Jitter float64

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a short exponential backoff. Revocation checks
// sit on the validation path, so it gives up quickly.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func (c *RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		spread := d * c.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var p *permanentError
	return !errors.As(err, &p)
}

// retryResult records the attempts of one retried operation.
type retryResult struct {
	Attempts int
	Errors   []error
}

func (r *retryResult) err() error {
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	msgs := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		msgs[i] = fmt.Sprintf("attempt %d: %v", i+1, err)
	}
	return fmt.Errorf("%w: all attempts failed: %s", r.Errors[len(r.Errors)-1], strings.Join(msgs, "; "))
}

// retry executes fn until it succeeds, fails permanently or runs out of
// attempts. Delays are measured on clock.
func retry[T any](ctx context.Context, clock clockwork.Clock, config *RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	result := &retryResult{}
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		result.Errors = append(result.Errors, err)

		if attempt == attempts || !retryable(err) {
			break
		}

		d := config.delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, d)
		}
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			return zero, result.err()
		case <-clock.After(d):
		}
	}
	return zero, result.err()
}
