package redisq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// minPollWait floors the wait between polls regardless of the remote's hint.
const minPollWait = time.Second

// Poller drives a remotely submitted job to an outcome by polling its
// status. Progress figures are logged for observers but never decide
// termination.
type Poller struct {
	remote      domain.RemoteClient
	maxAttempts int
	maxInterval time.Duration
}

// NewPoller constructs a Poller.
func NewPoller(remote domain.RemoteClient, maxAttempts int, maxInterval time.Duration) *Poller {
	return &Poller{remote: remote, maxAttempts: maxAttempts, maxInterval: maxInterval}
}

// Await polls until the remote job completes, fails, or the attempt budget
// runs out. Errors from Poll itself arrive already classified and propagate
// unchanged.
func (p *Poller) Await(ctx context.Context, j *domain.Job) (*domain.Artifact, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		st, err := p.remote.Poll(ctx, j.RemoteJobID)
		if err != nil {
			return nil, err
		}

		switch st.State {
		case domain.PollCompleted:
			if st.Artifact.Empty() {
				return nil, domain.NewClassifiedError(domain.KindServerError, true,
					fmt.Sprintf("remote job %s completed without an artifact", j.RemoteJobID))
			}
			return st.Artifact, nil

		case domain.PollFailed:
			return nil, domain.Classify(fmt.Errorf("remote generation failed: %s", st.Message))

		case domain.PollProcessing:
			wait := st.RetryAfter
			if wait < minPollWait {
				wait = minPollWait
			}
			if wait > p.maxInterval {
				wait = p.maxInterval
			}
			if st.Progress >= 0 {
				slog.Debug("remote job progressing",
					slog.String("job_id", j.ID),
					slog.String("remote_job_id", j.RemoteJobID),
					slog.Int("progress", st.Progress),
					slog.Duration("next_poll", wait))
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	cerr := domain.NewClassifiedError(domain.KindTimeout, true,
		fmt.Sprintf("remote job %s still processing after %d polls", j.RemoteJobID, p.maxAttempts))
	cerr.Origin = "poller"
	return nil, cerr
}
