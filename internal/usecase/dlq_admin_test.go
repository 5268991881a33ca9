package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

type fakeDLQStore struct{ entries map[string]*domain.DLQEntry }

func (f *fakeDLQStore) List(ctx context.Context, limit int) ([]domain.DLQEntry, error) {
	out := make([]domain.DLQEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDLQStore) Get(ctx context.Context, jobID string) (*domain.DLQEntry, error) {
	return f.entries[jobID], nil
}

func (f *fakeDLQStore) Delete(ctx context.Context, jobID string) error {
	delete(f.entries, jobID)
	return nil
}

func (f *fakeDLQStore) Size(ctx context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}

type fakeRetrier struct{ retried []string }

func (f *fakeRetrier) RetryFromDLQ(ctx context.Context, jobID string) (*domain.Job, error) {
	f.retried = append(f.retried, jobID)
	return &domain.Job{ID: jobID + "-retry-1", State: domain.JobQueued, RetriedFromDLQ: true}, nil
}

func TestDLQAdmin_GetMissingIsValidationError(t *testing.T) {
	s := NewDLQAdminService(&fakeDLQStore{entries: map[string]*domain.DLQEntry{}}, &fakeRetrier{})
	_, err := s.Get(context.Background(), "nope")
	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) || cerr.Kind != domain.KindValidation {
		t.Fatalf("err = %v", err)
	}
}

func TestDLQAdmin_RetryAndDelete(t *testing.T) {
	store := &fakeDLQStore{entries: map[string]*domain.DLQEntry{
		"j1": {JobID: "j1", UserID: "u1", FailureReason: "remote error", FailedAt: time.Now().UTC()},
	}}
	retrier := &fakeRetrier{}
	s := NewDLQAdminService(store, retrier)

	j, err := s.Retry(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !j.RetriedFromDLQ || j.State != domain.JobQueued {
		t.Fatalf("retried job = %+v", j)
	}
	if len(retrier.retried) != 1 || retrier.retried[0] != "j1" {
		t.Fatalf("retried = %v", retrier.retried)
	}

	if err := s.Delete(context.Background(), "j1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := s.Size(context.Background()); n != 0 {
		t.Fatalf("size after delete = %d", n)
	}
}
