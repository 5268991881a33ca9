package redisq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

func newTestDLQ(t *testing.T, maxAge time.Duration) (*DLQ, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDLQ(client, "testq", maxAge), mr
}

func testEntry(jobID string, failedAt time.Time) *domain.DLQEntry {
	return &domain.DLQEntry{
		JobID:         jobID,
		UserID:        "u1",
		Job:           *testJob(jobID),
		FailureReason: "the generation service encountered an internal error",
		FailedAt:      failedAt,
		RetryAttempts: 3,
		LastError:     domain.DLQError{Message: "status=500", Kind: domain.KindServerError},
	}
}

func TestDLQ_AddGetDelete(t *testing.T) {
	d, _ := newTestDLQ(t, 7*24*time.Hour)
	ctx := context.Background()

	if err := d.Add(ctx, testEntry("j1", time.Now().UTC())); err != nil {
		t.Fatalf("Add: %v", err)
	}

	entry, err := d.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil || entry.JobID != "j1" || entry.LastError.Kind != domain.KindServerError {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.RetryAttempts != 3 {
		t.Fatalf("retry_attempts = %d", entry.RetryAttempts)
	}

	n, _ := d.Size(ctx)
	if n != 1 {
		t.Fatalf("size = %d, want 1", n)
	}

	if err := d.Delete(ctx, "j1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entry, err = d.Get(ctx, "j1")
	if err != nil || entry != nil {
		t.Fatalf("entry after delete = %+v, %v", entry, err)
	}
	n, _ = d.Size(ctx)
	if n != 0 {
		t.Fatalf("size after delete = %d", n)
	}
}

func TestDLQ_ListNewestFirst(t *testing.T) {
	d, _ := newTestDLQ(t, 7*24*time.Hour)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		entry := testEntry(fmt.Sprintf("j%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := d.Add(ctx, entry); err != nil {
			t.Fatalf("Add j%d: %v", i, err)
		}
	}

	entries, err := d.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].JobID != "j4" || entries[1].JobID != "j3" || entries[2].JobID != "j2" {
		t.Fatalf("order = %s, %s, %s", entries[0].JobID, entries[1].JobID, entries[2].JobID)
	}
}

func TestDLQ_EntriesExpire(t *testing.T) {
	d, mr := newTestDLQ(t, time.Hour)
	ctx := context.Background()

	if err := d.Add(ctx, testEntry("j1", time.Now().UTC())); err != nil {
		t.Fatalf("Add: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	entry, err := d.Get(ctx, "j1")
	if err != nil || entry != nil {
		t.Fatalf("expired entry = %+v, %v", entry, err)
	}
	// Lazy index pruning on Get.
	n, _ := d.Size(ctx)
	if n != 0 {
		t.Fatalf("index size after expiry = %d", n)
	}
}
