package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour, 10*time.Second), mr
}

func TestCache_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.CacheGet(ctx, "fp1")
	if err != nil {
		t.Fatalf("CacheGet miss: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}

	art := &domain.Artifact{
		RemoteJobID: "char-1",
		Rotations:   []domain.Rotation{{Direction: "south", URL: "https://cdn.example/s.png"}},
	}
	if err := s.CachePut(ctx, "fp1", art); err != nil {
		t.Fatalf("CachePut: %v", err)
	}
	got, err = s.CacheGet(ctx, "fp1")
	if err != nil {
		t.Fatalf("CacheGet hit: %v", err)
	}
	if got == nil || got.RemoteJobID != "char-1" || len(got.Rotations) != 1 {
		t.Fatalf("cached artifact = %+v", got)
	}
}

func TestCache_MalformedValueIsMiss(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Set("cache:fpX", "{not json")

	got, err := s.CacheGet(context.Background(), "fpX")
	if err != nil {
		t.Fatalf("malformed value should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("malformed value should be a miss, got %+v", got)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := s.CachePut(ctx, "fp1", &domain.Artifact{RemoteJobID: "c"}); err != nil {
		t.Fatalf("CachePut: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	got, err := s.CacheGet(ctx, "fp1")
	if err != nil || got != nil {
		t.Fatalf("expired entry should miss: %+v, %v", got, err)
	}
}

func TestDedup_WindowBehavior(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	jobID, err := s.DedupCheck(ctx, "u1", "fp1")
	if err != nil || jobID != "" {
		t.Fatalf("empty dedup = %q, %v", jobID, err)
	}

	if err := s.DedupMark(ctx, "u1", "fp1", "job-1"); err != nil {
		t.Fatalf("DedupMark: %v", err)
	}
	jobID, err = s.DedupCheck(ctx, "u1", "fp1")
	if err != nil || jobID != "job-1" {
		t.Fatalf("dedup hit = %q, %v", jobID, err)
	}

	// Other user, same fingerprint: no collapse.
	jobID, _ = s.DedupCheck(ctx, "u2", "fp1")
	if jobID != "" {
		t.Fatalf("dedup crossed users: %q", jobID)
	}

	mr.FastForward(11 * time.Second)
	jobID, _ = s.DedupCheck(ctx, "u1", "fp1")
	if jobID != "" {
		t.Fatalf("dedup survived its window: %q", jobID)
	}
}

func TestActive_MarkCountClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.ActiveCount(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("empty count = %d, %v", n, err)
	}

	for _, id := range []string{"j1", "j2", "j3"} {
		if err := s.MarkActive(ctx, "u1", id, time.Hour); err != nil {
			t.Fatalf("MarkActive %s: %v", id, err)
		}
	}
	if err := s.MarkActive(ctx, "u2", "other", time.Hour); err != nil {
		t.Fatalf("MarkActive other user: %v", err)
	}

	n, err = s.ActiveCount(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}

	if err := s.ClearActive(ctx, "u1", "j2"); err != nil {
		t.Fatalf("ClearActive: %v", err)
	}
	n, _ = s.ActiveCount(ctx, "u1")
	if n != 2 {
		t.Fatalf("count after clear = %d, want 2", n)
	}
}
