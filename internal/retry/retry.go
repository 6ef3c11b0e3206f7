// Package retry provides the single backoff executor shared by upload,
// notification and data source calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrRetriesExhausted wraps the last failure after all attempts are spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy configures exponential backoff. The delay before retry k (k >= 1)
// is BaseDelay * 2^(k-1), optionally jittered by +/-20%.
type Policy struct {
	MaxRetries int           // retries after the first attempt; 0 means try once
	BaseDelay  time.Duration // delay before the first retry
	Jitter     bool
}

// Default supplies the base delay when a policy omits one.
var Default = Policy{
	MaxRetries: 3,
	BaseDelay:  10 * time.Second,
}

// IsRetryableFunc classifies an error as transient (retry) or permanent
// (fail immediately without consuming retries).
type IsRetryableFunc func(error) bool

// Do executes fn, retrying transient failures per the policy. A nil
// isRetryable treats every error as transient. Permanent failures and
// context cancellation return immediately; exhaustion returns the last
// error wrapped in ErrRetriesExhausted. A missing base delay falls back to
// the default; the caller's MaxRetries is always honored, including zero.
func Do(ctx context.Context, policy Policy, isRetryable IsRetryableFunc, fn func(context.Context) error) error {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = Default.BaseDelay
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			break
		}

		delay := policy.BaseDelay << attempt
		if delay < policy.BaseDelay {
			// Shift overflowed.
			delay = policy.BaseDelay
		}
		if policy.Jitter {
			delta := float64(delay) * 0.2
			delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*delta)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxRetries+1, lastErr)
}
