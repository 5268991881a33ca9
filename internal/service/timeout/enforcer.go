// Package timeout races a single job against its deadline.
package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// gracePeriod prefers a late success over a timeout at the boundary.
const gracePeriod = 100 * time.Millisecond

// Origin marks classified errors minted by the enforcer itself, as opposed
// to errors the runner returned through it.
const Origin = "timeout_enforcer"

// Enforcer wraps the execution of one job with a deadline. Per-job overrides
// apply only when the policy allows them; invalid overrides fall back to the
// default.
type Enforcer struct {
	Default       time.Duration
	AllowOverride bool
}

// New constructs an Enforcer.
func New(defaultTimeout time.Duration, allowOverride bool) *Enforcer {
	return &Enforcer{Default: defaultTimeout, AllowOverride: allowOverride}
}

// deadlineFor resolves the effective timeout for a job.
func (e *Enforcer) deadlineFor(j *domain.Job) time.Duration {
	if !e.AllowOverride || j == nil || j.TimeoutMS <= 0 {
		return e.Default
	}
	return time.Duration(j.TimeoutMS) * time.Millisecond
}

// Execute runs fn under the job's deadline. On expiry it returns a
// timeout(retryable) classified error carrying the job id, elapsed time, and
// the enforced limit. The runner's context is cancelled so cooperative
// suspension points unwind; a remote request already accepted by the
// generation API is not aborted, only no longer awaited.
func (e *Enforcer) Execute(ctx context.Context, j *domain.Job, fn func(ctx context.Context) error) error {
	limit := e.deadlineFor(j)
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(runCtx) }()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Outer cancellation, not a per-job timeout.
			return ctx.Err()
		}
		// Grace window: take a result that lands just past the line.
		select {
		case err := <-done:
			return err
		case <-time.After(gracePeriod):
		}
		elapsed := time.Since(start)
		slog.Warn("job timed out",
			slog.String("job_id", jobID(j)),
			slog.Duration("elapsed", elapsed),
			slog.Duration("timeout", limit))
		cerr := domain.NewClassifiedError(domain.KindTimeout, true,
			fmt.Sprintf("job_id=%s elapsed_ms=%d timeout_ms=%d", jobID(j), elapsed.Milliseconds(), limit.Milliseconds()))
		cerr.Origin = Origin
		return cerr
	}
}

func jobID(j *domain.Job) string {
	if j == nil {
		return ""
	}
	return j.ID
}
