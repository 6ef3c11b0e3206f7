package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset")
var errPermanent = errors.New("password authentication failed")

func TestDoSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, func(context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	// max_retries=3 means 1 initial attempt + 3 retries with doubling delays.
	policy := Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}

	attempts := 0
	var gaps []time.Duration
	last := time.Now()
	err := Do(context.Background(), policy, nil, func(context.Context) error {
		now := time.Now()
		if attempts > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		attempts++
		return errTransient
	})

	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", attempts)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected wrapped last error, got %v", err)
	}

	// Delays double: base, 2*base, 4*base.
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(gaps) != len(want) {
		t.Fatalf("expected %d delays, got %d", len(want), len(gaps))
	}
	for i, g := range gaps {
		if g < want[i] {
			t.Errorf("delay %d was %v, expected at least %v", i, g, want[i])
		}
	}
}

func TestDoPermanentFailureShortCircuits(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool { return !errors.Is(err, errPermanent) }

	err := Do(context.Background(), Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, isRetryable, func(context.Context) error {
		attempts++
		return errPermanent
	})

	if attempts != 1 {
		t.Errorf("permanent failure consumed retries: %d attempts", attempts)
	}
	if !errors.Is(err, errPermanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("permanent failure must not be wrapped as retries exhausted")
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, Policy{MaxRetries: 10, BaseDelay: time.Hour}, nil, func(context.Context) error {
		attempts++
		cancel()
		return errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestDoZeroDelayKeepsCallerRetries(t *testing.T) {
	// A config with retry_delay_base "0s" and max_retries 0 means a
	// single attempt, not the default retry count.
	attempts := 0
	err := Do(context.Background(), Policy{MaxRetries: 0}, nil, func(context.Context) error {
		attempts++
		return errTransient
	})
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
}
