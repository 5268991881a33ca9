package usecase

import (
	"context"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// DLQStore is the read/delete surface of the dead-letter queue.
type DLQStore interface {
	List(ctx context.Context, limit int) ([]domain.DLQEntry, error)
	Get(ctx context.Context, jobID string) (*domain.DLQEntry, error)
	Delete(ctx context.Context, jobID string) error
	Size(ctx context.Context) (int64, error)
}

// DLQRetrier re-enqueues dead-lettered jobs.
type DLQRetrier interface {
	RetryFromDLQ(ctx context.Context, jobID string) (*domain.Job, error)
}

// DLQAdminService backs the admin endpoints for reviewing and replaying
// terminally failed jobs.
type DLQAdminService struct {
	Store   DLQStore
	Retrier DLQRetrier
}

// NewDLQAdminService constructs a DLQAdminService.
func NewDLQAdminService(store DLQStore, retrier DLQRetrier) *DLQAdminService {
	return &DLQAdminService{Store: store, Retrier: retrier}
}

// List returns up to limit entries, newest first.
func (s *DLQAdminService) List(ctx context.Context, limit int) ([]domain.DLQEntry, error) {
	return s.Store.List(ctx, limit)
}

// Get returns one entry, or a validation error when it does not exist.
func (s *DLQAdminService) Get(ctx context.Context, jobID string) (*domain.DLQEntry, error) {
	entry, err := s.Store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.NewClassifiedError(domain.KindValidation, false, "no dead-letter entry for job "+jobID)
	}
	return entry, nil
}

// Retry replays a dead-lettered job under a new id. The entry itself stays
// until an explicit Delete.
func (s *DLQAdminService) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.Retrier.RetryFromDLQ(ctx, jobID)
}

// Delete removes an entry.
func (s *DLQAdminService) Delete(ctx context.Context, jobID string) error {
	return s.Store.Delete(ctx, jobID)
}

// Size reports how many entries are currently retained.
func (s *DLQAdminService) Size(ctx context.Context) (int64, error) {
	return s.Store.Size(ctx)
}
