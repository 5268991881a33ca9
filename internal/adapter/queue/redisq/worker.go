package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
	"github.com/fairyhunter13/sprite-forge/internal/service/timeout"
)

// schedulerInterval is how often delayed retries are promoted to ready.
const schedulerInterval = time.Second

// ArtifactCache is the slice of the cache store the worker needs after a
// successful generation.
type ArtifactCache interface {
	CachePut(ctx context.Context, fingerprint string, a *domain.Artifact) error
	ClearActive(ctx context.Context, userID, jobID string) error
}

// Pool runs the configured number of workers against the queue, plus the
// scheduler that promotes delayed retries and the reaper that recovers jobs
// from dead workers.
type Pool struct {
	queue       *Queue
	retry       *RetryManager
	remote      domain.RemoteClient
	poller      *Poller
	enforcer    *timeout.Enforcer
	cache       ArtifactCache
	artifacts   domain.ArtifactRepository
	events      domain.EventPublisher
	concurrency int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPool constructs a Pool. artifacts and events may be nil; the worker
// then skips document persistence and event publishing.
func NewPool(queue *Queue, retry *RetryManager, remote domain.RemoteClient, poller *Poller,
	enforcer *timeout.Enforcer, cache ArtifactCache, artifacts domain.ArtifactRepository,
	events domain.EventPublisher, concurrency int) *Pool {
	return &Pool{
		queue:       queue,
		retry:       retry,
		remote:      remote,
		poller:      poller,
		enforcer:    enforcer,
		cache:       cache,
		artifacts:   artifacts,
		events:      events,
		concurrency: concurrency,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the workers and the background loops. It returns
// immediately; call Stop to shut down.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("starting worker pool", slog.Int("workers", p.concurrency))
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
	p.wg.Add(2)
	go p.schedulerLoop(ctx)
	go p.reaperLoop(ctx)
}

// Stop shuts the pool down, waiting up to 30s for in-flight jobs.
func (p *Pool) Stop() {
	close(p.stopChan)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("worker pool stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("worker pool shutdown timed out")
	}
}

// worker is the dequeue loop of one worker goroutine. Redis errors back off
// exponentially so an outage does not turn into a hot loop.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 0
	expo.MaxInterval = 30 * time.Second

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		j, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := expo.NextBackOff()
			slog.Warn("dequeue failed, backing off",
				slog.Int("worker_id", id),
				slog.Duration("backoff", wait),
				slog.Any("error", err))
			select {
			case <-time.After(wait):
			case <-p.stopChan:
				return
			}
			continue
		}
		expo.Reset()
		if j == nil {
			continue
		}
		p.process(ctx, id, j)
	}
}

// process runs one job end to end under the timeout enforcer.
func (p *Pool) process(ctx context.Context, workerID int, j *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked",
				slog.Int("worker_id", workerID),
				slog.String("job_id", j.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			panicErr := domain.NewClassifiedError(domain.KindUnknown, false, fmt.Sprintf("panic: %v", r))
			if err := p.retry.HandleFailure(ctx, j, panicErr); err != nil {
				slog.Error("failed to record panicked job", slog.String("job_id", j.ID), slog.Any("error", err))
			}
			p.afterFailure(ctx, j)
		}
	}()

	j.Attempts++
	j.State = domain.JobActive
	j.StartedAt = time.Now().UTC()
	if err := p.queue.UpdateJob(ctx, j); err != nil {
		slog.Warn("failed to persist active state", slog.String("job_id", j.ID), slog.Any("error", err))
	}
	observability.StartProcessingJob()
	slog.Info("processing job",
		slog.Int("worker_id", workerID),
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.Int("attempt", j.Attempts))

	// The runner works on a private copy of the job. When the deadline
	// expires the runner goroutine keeps executing past the grace window and
	// may still be writing RemoteJobID/State, so the shared record is merged
	// back only once the runner has provably returned.
	runJob := *j
	var artifact *domain.Artifact
	err := p.enforcer.Execute(ctx, j, func(runCtx context.Context) error {
		a, runErr := p.run(runCtx, &runJob)
		if runErr != nil {
			return runErr
		}
		artifact = a
		return nil
	})
	if runnerReturned(err) {
		*j = runJob
	}
	if err != nil {
		if ferr := p.retry.HandleFailure(ctx, j, err); ferr != nil {
			slog.Error("failed to handle job failure", slog.String("job_id", j.ID), slog.Any("error", ferr))
		}
		p.afterFailure(ctx, j)
		return
	}
	p.complete(ctx, j, artifact)
}

// runnerReturned reports whether the runner delivered its result through the
// enforcer. On a timeout or an outer cancellation the runner goroutine may
// still be running against its copy.
func runnerReturned(err error) bool {
	if err == nil {
		return true
	}
	var cerr *domain.ClassifiedError
	return errors.As(err, &cerr) && cerr.Origin != timeout.Origin
}

// run submits the job if it has not been submitted yet, then awaits the
// remote outcome. A requeued job that already carries a remote id resumes
// polling without a second submit.
func (p *Pool) run(ctx context.Context, j *domain.Job) (*domain.Artifact, error) {
	if j.RemoteJobID == "" {
		receipt, err := p.remote.Submit(ctx, j.Prompt)
		if err != nil {
			return nil, err
		}
		j.RemoteJobID = receipt.RemoteJobID
		j.State = domain.JobPolling
		if err := p.queue.UpdateJob(ctx, j); err != nil {
			slog.Warn("failed to persist polling state", slog.String("job_id", j.ID), slog.Any("error", err))
		}
		slog.Info("job submitted to remote",
			slog.String("job_id", j.ID),
			slog.String("remote_job_id", receipt.RemoteJobID))
	}
	return p.poller.Await(ctx, j)
}

// complete records the artifact and marks the job terminal. The cache write
// happens before the job flips to completed so an admission racing this
// moment sees either a queued job or a cache hit, never neither.
func (p *Pool) complete(ctx context.Context, j *domain.Job, artifact *domain.Artifact) {
	if err := p.cache.CachePut(ctx, j.Fingerprint, artifact); err != nil {
		slog.Warn("failed to cache artifact", slog.String("job_id", j.ID), slog.Any("error", err))
	}
	if p.artifacts != nil {
		go func(j domain.Job, a domain.Artifact) {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.artifacts.Save(saveCtx, j.ID, j.UserID, j.Fingerprint, &a); err != nil {
				slog.Warn("failed to persist artifact document",
					slog.String("job_id", j.ID),
					slog.Any("error", err))
			}
		}(*j, *artifact)
	}

	j.State = domain.JobCompleted
	if err := p.queue.UpdateJob(ctx, j); err != nil {
		slog.Warn("failed to persist completed state", slog.String("job_id", j.ID), slog.Any("error", err))
	}
	if err := p.queue.Complete(ctx, j.ID); err != nil {
		slog.Warn("failed to remove completed job from processing", slog.String("job_id", j.ID), slog.Any("error", err))
	}
	if err := p.cache.ClearActive(ctx, j.UserID, j.ID); err != nil {
		slog.Warn("failed to clear active marker", slog.String("job_id", j.ID), slog.Any("error", err))
	}
	observability.CompleteJob()
	p.publish(ctx, j)
	slog.Info("job completed",
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.Int("attempts", j.Attempts))
}

// afterFailure clears per-user state for terminal failures and publishes the
// new state. Retrying jobs keep their active marker; they still count toward
// the user's cap.
func (p *Pool) afterFailure(ctx context.Context, j *domain.Job) {
	if j.State == domain.JobDLQ {
		if err := p.cache.ClearActive(ctx, j.UserID, j.ID); err != nil {
			slog.Warn("failed to clear active marker", slog.String("job_id", j.ID), slog.Any("error", err))
		}
	}
	p.publish(ctx, j)
}

func (p *Pool) publish(ctx context.Context, j *domain.Job) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, domain.JobEvent{
		JobID:         j.ID,
		UserID:        j.UserID,
		State:         j.State,
		Fingerprint:   j.Fingerprint,
		CorrelationID: j.CorrelationID,
		At:            time.Now().UTC(),
	})
}

// schedulerLoop promotes due delayed retries back to the ready list.
func (p *Pool) schedulerLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.MoveDelayedToReady(ctx); err != nil {
				slog.Warn("scheduler pass failed", slog.Any("error", err))
			}
		}
	}
}

// reaperLoop recovers in-flight jobs whose worker died.
func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := p.queue.visibility / 2
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RequeueStuck(ctx); err != nil {
				slog.Warn("reaper pass failed", slog.Any("error", err))
			}
		}
	}
}
