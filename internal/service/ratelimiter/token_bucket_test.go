package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTokenBucket_StartsFull(t *testing.T) {
	b := NewTokenBucket(30, true)
	tokens, unbounded := b.Available()
	if unbounded {
		t.Fatalf("enabled bucket reported unbounded")
	}
	if tokens != 30 {
		t.Fatalf("tokens = %d, want 30", tokens)
	}
}

func TestTokenBucket_Disabled(t *testing.T) {
	b := NewTokenBucket(0, true)
	if _, unbounded := b.Available(); !unbounded {
		t.Fatalf("zero budget should be unbounded")
	}

	b = NewTokenBucket(60, false)
	if _, unbounded := b.Available(); !unbounded {
		t.Fatalf("disabled bucket should be unbounded")
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("disabled acquire: %v", err)
	}
}

func TestTokenBucket_AcquireDrains(t *testing.T) {
	b := newBucket(3, 0.0001) // effectively no refill during the test
	for i := 0; i < 3; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	tokens, _ := b.Available()
	if tokens != 0 {
		t.Fatalf("tokens after drain = %d, want 0", tokens)
	}
}

func TestTokenBucket_RefillAfterIdle(t *testing.T) {
	b := newBucket(5, 100) // refills fully in 50ms
	for i := 0; i < 5; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	time.Sleep(80 * time.Millisecond)
	tokens, _ := b.Available()
	if tokens != 5 {
		t.Fatalf("tokens after idle = %d, want capacity 5", tokens)
	}
}

func TestTokenBucket_WaitersWakeInFIFOOrder(t *testing.T) {
	b := newBucket(1, 50) // one token every 20ms
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("prime acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := b.Acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
		// Stagger starts so queue order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("wake order = %v, want [0 1 2]", order)
	}
}

func TestTokenBucket_AcquireRespectsContext(t *testing.T) {
	b := newBucket(1, 0.001)
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("prime acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := b.Acquire(ctx)
	if err == nil {
		t.Fatalf("acquire on empty bucket should fail when context expires")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancelled acquire took too long")
	}
}

func TestTokenBucket_BlocksAtMostOneRefillPeriod(t *testing.T) {
	b := newBucket(1, 100) // 10ms per token
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("prime acquire: %v", err)
	}
	start := time.Now()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		t.Fatalf("waited %v for one token at 100/s", waited)
	}
}
