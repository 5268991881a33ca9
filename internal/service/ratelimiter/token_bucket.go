// Package ratelimiter implements the token bucket that gates outbound calls
// to the remote generation API. State is process-local: each process
// enforces its own budget and global limits are enforced by sizing per
// process.
package ratelimiter

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is the acquire-side contract consumed by the remote client.
type Limiter interface {
	// Acquire blocks until one token is available or the context ends.
	Acquire(ctx context.Context) error
	// Available returns the current whole tokens, or unbounded=true when
	// rate limiting is disabled.
	Available() (tokens int64, unbounded bool)
}

// TokenBucket is a refilling bucket with FIFO waiters. The bucket starts
// full; refill is accrued from the wall clock on every interaction and
// capped at capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	last       time.Time
	waiters    []*waiter
	timer      *time.Timer
	disabled   bool
	now        func() time.Time
}

type waiter struct {
	ch        chan struct{}
	cancelled bool
}

// NewTokenBucket builds a bucket sized for the given requests-per-minute.
// A disabled or non-positive budget yields an unbounded no-op limiter.
func NewTokenBucket(perMinute int, enabled bool) *TokenBucket {
	if !enabled || perMinute <= 0 {
		return &TokenBucket{disabled: true, now: time.Now}
	}
	return newBucket(float64(perMinute), float64(perMinute)/60.0)
}

func newBucket(capacity, refillPerSec float64) *TokenBucket {
	b := &TokenBucket{
		capacity:   capacity,
		refillRate: refillPerSec,
		tokens:     capacity,
		now:        time.Now,
	}
	b.last = b.now()
	return b
}

// Acquire takes one token, waiting in FIFO order behind earlier callers when
// the bucket is empty.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b.disabled {
		return nil
	}
	b.mu.Lock()
	b.refillLocked()
	if len(b.waiters) == 0 && b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan struct{})}
	b.waiters = append(b.waiters, w)
	b.scheduleLocked()
	b.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		select {
		case <-w.ch:
			// Token was granted while cancelling; give it back.
			b.tokens = math.Min(b.capacity, b.tokens+1)
		default:
			w.cancelled = true
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Available reports the current whole-token count.
func (b *TokenBucket) Available() (int64, bool) {
	if b.disabled {
		return 0, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return int64(b.tokens), false
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	delta := now.Sub(b.last).Seconds()
	if delta > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+delta*b.refillRate)
	}
	b.last = now
}

// scheduleLocked arms the wake-up timer for the head waiter if one is not
// already pending.
func (b *TokenBucket) scheduleLocked() {
	if b.timer != nil || len(b.waiters) == 0 {
		return
	}
	need := 1 - b.tokens
	if need < 0 {
		need = 0
	}
	wait := time.Duration(need / b.refillRate * float64(time.Second))
	b.timer = time.AfterFunc(wait, b.dispatch)
}

// dispatch drains as many waiters as accrued tokens allow, in FIFO order,
// then re-arms the timer for any that remain.
func (b *TokenBucket) dispatch() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.refillLocked()
	for len(b.waiters) > 0 {
		w := b.waiters[0]
		if w.cancelled {
			b.waiters = b.waiters[1:]
			continue
		}
		if b.tokens < 1 {
			break
		}
		b.tokens--
		b.waiters = b.waiters[1:]
		close(w.ch)
	}
	b.scheduleLocked()
}
