package redisq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// RetryManager decides the fate of a failed job: a delayed re-enqueue when
// the classified error is retryable and the budget allows, or a move to the
// dead-letter queue.
type RetryManager struct {
	queue  *Queue
	dlq    *DLQ
	policy domain.RetryPolicy
}

// NewRetryManager constructs a RetryManager.
func NewRetryManager(queue *Queue, dlq *DLQ, policy domain.RetryPolicy) *RetryManager {
	return &RetryManager{queue: queue, dlq: dlq, policy: policy}
}

// HandleFailure routes a failed execution. The retry index is zero-based:
// the first failure of a job retries with the base delay. A remote
// retry-after hint stretches the computed delay but never shrinks it.
func (m *RetryManager) HandleFailure(ctx context.Context, j *domain.Job, failure error) error {
	cerr := domain.Classify(failure)
	j.LastError = cerr.Error()

	retryIdx := j.Attempts - 1
	if retryIdx < 0 {
		retryIdx = 0
	}

	if m.policy.ShouldRetry(retryIdx, cerr) {
		delay, ok := m.policy.Delay(retryIdx)
		if !ok {
			return m.moveToDLQ(ctx, j, cerr, retryIdx)
		}
		if cerr.RetryAfter > delay {
			delay = cerr.RetryAfter
		}
		j.State = domain.JobRetrying
		if err := m.queue.EnqueueDelayed(ctx, j, delay); err != nil {
			return fmt.Errorf("op=retry.HandleFailure: schedule retry: %w", err)
		}
		observability.RetryJob()
		slog.Warn("job scheduled for retry",
			slog.String("job_id", j.ID),
			slog.String("kind", string(cerr.Kind)),
			slog.Int("retry", retryIdx+1),
			slog.Int("max_retries", m.policy.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("reason", cerr.TechnicalDetail))
		return nil
	}

	return m.moveToDLQ(ctx, j, cerr, retryIdx)
}

// moveToDLQ records the terminal failure and marks the job dlq.
func (m *RetryManager) moveToDLQ(ctx context.Context, j *domain.Job, cerr *domain.ClassifiedError, retryIdx int) error {
	entry := &domain.DLQEntry{
		JobID:         j.ID,
		UserID:        j.UserID,
		Job:           *j,
		FailureReason: cerr.UserMessage,
		FailedAt:      time.Now().UTC(),
		RetryAttempts: retryIdx,
		LastError: domain.DLQError{
			Message: cerr.TechnicalDetail,
			Kind:    cerr.Kind,
		},
		RemoteJobID: j.RemoteJobID,
	}
	if err := m.dlq.Add(ctx, entry); err != nil {
		return fmt.Errorf("op=retry.moveToDLQ: %w", err)
	}

	j.State = domain.JobDLQ
	if err := m.queue.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("op=retry.moveToDLQ: update job: %w", err)
	}
	if err := m.queue.Complete(ctx, j.ID); err != nil {
		return fmt.Errorf("op=retry.moveToDLQ: remove from processing: %w", err)
	}

	observability.FailJob()
	slog.Error("job moved to dead-letter queue",
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.String("kind", string(cerr.Kind)),
		slog.Int("retry_attempts", retryIdx),
		slog.String("reason", cerr.TechnicalDetail))
	return nil
}

// RetryFromDLQ re-enqueues a fresh copy of a dead-lettered job under a new
// id. The DLQ entry stays until an explicit delete.
func (m *RetryManager) RetryFromDLQ(ctx context.Context, jobID string) (*domain.Job, error) {
	entry, err := m.dlq.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.NewClassifiedError(domain.KindValidation, false,
			fmt.Sprintf("no dead-letter entry for job %s", jobID))
	}

	fresh := entry.Job
	fresh.ID = fmt.Sprintf("%s-retry-%d", entry.JobID, time.Now().Unix())
	fresh.Attempts = 0
	fresh.State = domain.JobQueued
	fresh.RetriedFromDLQ = true
	fresh.LastError = ""
	fresh.RemoteJobID = ""
	fresh.StartedAt = time.Time{}
	fresh.SubmittedAt = time.Now().UTC()

	if err := m.queue.Enqueue(ctx, &fresh); err != nil {
		return nil, fmt.Errorf("op=retry.RetryFromDLQ: %w", err)
	}
	observability.EnqueueJob()
	slog.Info("dead-letter entry re-enqueued",
		slog.String("original_job_id", entry.JobID),
		slog.String("job_id", fresh.ID))
	return &fresh, nil
}
