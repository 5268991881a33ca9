// Package rediscache implements the artifact cache, the submission dedup
// window, and the per-user active-job markers on Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// Store holds the three key families: cache:{fingerprint},
// dedup:{user}:{fingerprint}, and active:{user}:{job_id}.
type Store struct {
	client      *redis.Client
	cacheTTL    time.Duration
	dedupWindow time.Duration
}

// New builds a Store over an existing client.
func New(client *redis.Client, cacheTTL, dedupWindow time.Duration) *Store {
	return &Store{client: client, cacheTTL: cacheTTL, dedupWindow: dedupWindow}
}

func cacheKey(fingerprint string) string { return "cache:" + fingerprint }

func dedupKey(user, fingerprint string) string { return "dedup:" + user + ":" + fingerprint }

func activeKey(user, jobID string) string { return "active:" + user + ":" + jobID }

// CacheGet returns the cached artifact for a fingerprint, or nil on miss. A
// stored value that fails to decode counts as a miss and is logged, not
// surfaced.
func (s *Store) CacheGet(ctx context.Context, fingerprint string) (*domain.Artifact, error) {
	raw, err := s.client.Get(ctx, cacheKey(fingerprint)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=cache.Get: %w", err)
	}
	var a domain.Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		slog.Warn("malformed cache entry treated as miss",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err))
		return nil, nil
	}
	return &a, nil
}

// CachePut stores an artifact under its fingerprint with the configured TTL.
// Rewrites are idempotent.
func (s *Store) CachePut(ctx context.Context, fingerprint string, a *domain.Artifact) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("op=cache.Put: marshal artifact: %w", err)
	}
	if err := s.client.Set(ctx, cacheKey(fingerprint), raw, s.cacheTTL).Err(); err != nil {
		return fmt.Errorf("op=cache.Put: %w", err)
	}
	return nil
}

// DedupCheck returns the job id already submitted for this user+fingerprint
// inside the dedup window, or "" when none exists.
func (s *Store) DedupCheck(ctx context.Context, userID, fingerprint string) (string, error) {
	jobID, err := s.client.Get(ctx, dedupKey(userID, fingerprint)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("op=dedup.Check: %w", err)
	}
	return jobID, nil
}

// DedupMark records a submission for the dedup window.
func (s *Store) DedupMark(ctx context.Context, userID, fingerprint, jobID string) error {
	if err := s.client.Set(ctx, dedupKey(userID, fingerprint), jobID, s.dedupWindow).Err(); err != nil {
		return fmt.Errorf("op=dedup.Mark: %w", err)
	}
	return nil
}

// MarkActive records a job as in flight for its user. The marker carries a
// generous TTL so a crashed worker cannot pin the user's quota forever.
func (s *Store) MarkActive(ctx context.Context, userID, jobID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, activeKey(userID, jobID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("op=active.Mark: %w", err)
	}
	return nil
}

// ClearActive removes a job's in-flight marker once it reaches a terminal
// state.
func (s *Store) ClearActive(ctx context.Context, userID, jobID string) error {
	if err := s.client.Del(ctx, activeKey(userID, jobID)).Err(); err != nil {
		return fmt.Errorf("op=active.Clear: %w", err)
	}
	return nil
}

// ActiveCount counts the user's in-flight jobs by scanning the active key
// family.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	var (
		cursor uint64
		count  int
	)
	pattern := "active:" + userID + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("op=active.Count: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
