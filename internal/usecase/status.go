package usecase

import (
	"context"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// JobReader loads stored job records.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	JobID       string           `json:"job_id"`
	State       domain.JobState  `json:"state"`
	Attempts    int              `json:"attempts"`
	SubmittedAt string           `json:"submitted_at"`
	LastError   string           `json:"last_error,omitempty"`
	Artifact    *domain.Artifact `json:"artifact,omitempty"`
}

// StatusService resolves job status queries. Completed jobs carry their
// artifact when the cache still has it.
type StatusService struct {
	Jobs  JobReader
	Cache CacheStore
}

// NewStatusService constructs a StatusService.
func NewStatusService(jobs JobReader, cache CacheStore) *StatusService {
	return &StatusService{Jobs: jobs, Cache: cache}
}

// Status returns the current view of one job.
func (s *StatusService) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st := &JobStatus{
		JobID:       j.ID,
		State:       j.State,
		Attempts:    j.Attempts,
		SubmittedAt: j.SubmittedAt.Format(time.RFC3339),
		LastError:   j.LastError,
	}
	if j.State == domain.JobCompleted {
		if artifact, cerr := s.Cache.CacheGet(ctx, j.Fingerprint); cerr == nil && artifact != nil {
			st.Artifact = artifact
		}
	}
	return st, nil
}
