package domain

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maxRetryDelay caps any computed backoff delay.
const maxRetryDelay = time.Hour

// RetryPolicy decides whether a failed attempt may be retried and how long
// to wait before it. Delays grow exponentially with a uniform jitter in
// [0.9, 1.1] and are capped at one hour.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// NewRetryPolicy validates and constructs a RetryPolicy.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration, multiplier float64) (RetryPolicy, error) {
	if maxRetries < 0 {
		return RetryPolicy{}, fmt.Errorf("op=retry.policy: max retries must not be negative, got %d", maxRetries)
	}
	if baseDelay <= 0 {
		return RetryPolicy{}, fmt.Errorf("op=retry.policy: base delay must be positive, got %v", baseDelay)
	}
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return RetryPolicy{}, fmt.Errorf("op=retry.policy: multiplier must be positive and finite, got %v", multiplier)
	}
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay, Multiplier: multiplier}, nil
}

// Delay returns the jittered backoff before attempt (0-based) and whether a
// retry is permitted at all. ok is false once attempt reaches MaxRetries or
// when retries are disabled.
func (p RetryPolicy) Delay(attempt int) (time.Duration, bool) {
	if p.MaxRetries == 0 || attempt >= p.MaxRetries {
		return 0, false
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if raw > float64(maxRetryDelay) || math.IsInf(raw, 0) {
		raw = float64(maxRetryDelay)
	}
	jitter := 0.9 + rand.Float64()*0.2
	return time.Duration(raw * jitter), true
}

// ShouldRetry reports whether attempt (0-based) may be retried given the
// classified failure.
func (p RetryPolicy) ShouldRetry(attempt int, cerr *ClassifiedError) bool {
	if cerr == nil || !cerr.Retryable {
		return false
	}
	return attempt < p.MaxRetries
}
