package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// DLQ retains terminally failed jobs. Entries are immutable, expire after
// maxAge, and are otherwise removed only by explicit admin delete. An index
// sorted by failure time serves listing newest-first.
type DLQ struct {
	client    *redis.Client
	entryPref string
	indexKey  string
	maxAge    time.Duration
}

// NewDLQ builds a DLQ sharing the queue's name prefix.
func NewDLQ(client *redis.Client, name string, maxAge time.Duration) *DLQ {
	return &DLQ{
		client:    client,
		entryPref: name + ":dlq:",
		indexKey:  name + ":dlq:index",
		maxAge:    maxAge,
	}
}

func (d *DLQ) entryKey(jobID string) string { return d.entryPref + jobID }

// Add writes a DLQ entry with the retention TTL and indexes it by failure
// time.
func (d *DLQ) Add(ctx context.Context, entry *domain.DLQEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=dlq.Add: marshal entry: %w", err)
	}
	pipe := d.client.Pipeline()
	pipe.Set(ctx, d.entryKey(entry.JobID), data, d.maxAge)
	pipe.ZAdd(ctx, d.indexKey, redis.Z{Score: float64(entry.FailedAt.Unix()), Member: entry.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=dlq.Add: %w", err)
	}
	return nil
}

// Get returns one entry, or nil when it does not exist or has expired.
func (d *DLQ) Get(ctx context.Context, jobID string) (*domain.DLQEntry, error) {
	raw, err := d.client.Get(ctx, d.entryKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired entries may linger in the index; drop them lazily.
		d.client.ZRem(ctx, d.indexKey, jobID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=dlq.Get: %w", err)
	}
	var entry domain.DLQEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("op=dlq.Get: unmarshal entry %s: %w", jobID, err)
	}
	return &entry, nil
}

// List returns up to limit entries, newest failures first.
func (d *DLQ) List(ctx context.Context, limit int) ([]domain.DLQEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	jobIDs, err := d.client.ZRevRange(ctx, d.indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("op=dlq.List: %w", err)
	}
	entries := make([]domain.DLQEntry, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		entry, err := d.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// Delete removes an entry and its index record.
func (d *DLQ) Delete(ctx context.Context, jobID string) error {
	pipe := d.client.Pipeline()
	pipe.Del(ctx, d.entryKey(jobID))
	pipe.ZRem(ctx, d.indexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=dlq.Delete: %w", err)
	}
	return nil
}

// Size counts indexed entries. Expired-but-indexed entries are included
// until a Get or List touches them.
func (d *DLQ) Size(ctx context.Context) (int64, error) {
	n, err := d.client.ZCard(ctx, d.indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("op=dlq.Size: %w", err)
	}
	return n, nil
}
