package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"syscall"
	"time"

	"github.com/smnsjas/go-ews/soap"
	"github.com/smnsjas/go-ews/soap/transport"
)

// RetryPolicy controls how Run retries calls the server turned away.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps every delay, including server back-off hints.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64
}

// DefaultRetryPolicy returns a policy of three attempts with exponential
// backoff from 500ms up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// isRetryableError reports whether err means the server did not process the
// call, so sending it again cannot duplicate a side effect.
//
// Throttling faults, 503 responses and refused connections qualify. Other
// network failures may have reached the server and are not retried.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var f *soap.Fault
	if errors.As(err, &f) {
		return f.IsThrottled()
	}

	var he *transport.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusServiceUnavailable
	}

	return errors.Is(err, syscall.ECONNREFUSED)
}

// retryDelay returns the wait before attempt (2-based). A back-off hint in
// a throttling fault replaces the computed delay.
func retryDelay(attempt int, policy *RetryPolicy, err error) time.Duration {
	if policy == nil {
		return time.Second
	}

	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var f *soap.Fault
	if errors.As(err, &f) {
		if hint := f.BackOff(); hint > 0 {
			return min(hint, maxDelay)
		}
	}

	delay := policy.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if attempt <= 2 {
		return min(delay, maxDelay)
	}

	multiplier := policy.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	backoff := float64(delay) * math.Pow(multiplier, float64(attempt-2))
	if backoff > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(backoff)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
