// Package domain defines the core entities and ports of the sprite
// generation orchestration service.
package domain

import (
	"context"
	"time"
)

// JobState enumerates the lifecycle states of a job. Transitions are
// queued -> active -> polling -> completed, or via retrying back to queued,
// or via failed into dlq. Once completed or dlq, the job is immutable.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobPolling   JobState = "polling"
	JobRetrying  JobState = "retrying"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDLQ       JobState = "dlq"
)

// Terminal reports whether the state permits no further transitions.
func (s JobState) Terminal() bool { return s == JobCompleted || s == JobDLQ }

// Job is the unit of work owned by the queue from admission until a
// terminal state. A job in polling always carries a RemoteJobID.
type Job struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Prompt         StructuredPrompt `json:"prompt"`
	Fingerprint    string           `json:"fingerprint"`
	Attempts       int              `json:"attempts"`
	State          JobState         `json:"state"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	StartedAt      time.Time        `json:"started_at,omitempty"`
	RemoteJobID    string           `json:"remote_job_id,omitempty"`
	TimeoutMS      int64            `json:"timeout_ms,omitempty"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	RetriedFromDLQ bool             `json:"retried_from_dlq,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
}

// Rotation is a single directional render of a generated sprite.
type Rotation struct {
	Direction string `json:"direction"`
	URL       string `json:"url"`
}

// Artifact is the descriptor of a completed generation as returned by the
// remote API. The orchestrator never mutates artifacts, only transports them.
type Artifact struct {
	RemoteJobID    string         `json:"remote_job_id"`
	Name           string         `json:"name,omitempty"`
	Rotations      []Rotation     `json:"rotations,omitempty"`
	DownloadURL    string         `json:"download_url,omitempty"`
	Specifications map[string]any `json:"specifications,omitempty"`
	Style          map[string]any `json:"style,omitempty"`
}

// Empty reports whether the artifact carries no usable content.
func (a *Artifact) Empty() bool {
	return a == nil || (len(a.Rotations) == 0 && a.DownloadURL == "")
}

// SubmitReceipt is the remote API's acknowledgement of an accepted generation.
type SubmitReceipt struct {
	RemoteJobID string `json:"remote_job_id"`
	Name        string `json:"name,omitempty"`
}

// PollState tags the variants of RemoteJobStatus.
type PollState string

const (
	PollCompleted  PollState = "completed"
	PollProcessing PollState = "processing"
	PollFailed     PollState = "failed"
)

// RemoteJobStatus is the parsed outcome of one poll against the remote API.
// Exactly one variant is meaningful: Artifact for completed, RetryAfter and
// Progress for processing, Message for failed. Progress is -1 when the remote
// gave no hint; it is informational only and never drives termination.
type RemoteJobStatus struct {
	State      PollState
	Artifact   *Artifact
	RetryAfter time.Duration
	Progress   int
	Message    string
}

// DLQEntry is the immutable record of a terminally failed job. Entries are
// retained for the configured window and removed only by TTL or explicit
// admin delete.
type DLQEntry struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	Job           Job       `json:"job"`
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
	RetryAttempts int       `json:"retry_attempts"`
	LastError     DLQError  `json:"last_error"`
	RemoteJobID   string    `json:"remote_job_id,omitempty"`
}

// DLQError captures the classified failure that moved a job to the DLQ.
type DLQError struct {
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

// Ports

// Queue is the minimal enqueue surface the admission path depends on. The
// worker side uses the concrete queue implementation directly.
type Queue interface {
	Enqueue(ctx context.Context, j *Job) error
	Depth(ctx context.Context) (int64, error)
}

// RemoteClient is the authenticated wrapper over the generation API.
type RemoteClient interface {
	Submit(ctx context.Context, prompt StructuredPrompt) (SubmitReceipt, error)
	Poll(ctx context.Context, remoteJobID string) (RemoteJobStatus, error)
	Balance(ctx context.Context) (float64, error)
	SetCredentials(key string) error
}

// ArtifactRepository persists completed artifacts as documents. Writes are
// fire-and-forget from the worker after the cache write.
type ArtifactRepository interface {
	Save(ctx context.Context, jobID, userID, fingerprint string, a *Artifact) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*Artifact, error)
}

// EventPublisher emits job lifecycle events for downstream consumers. It must
// never block or fail the worker's outcome path.
type EventPublisher interface {
	Publish(ctx context.Context, event JobEvent)
}

// JobEvent is a lifecycle notification about a job.
type JobEvent struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	State         JobState  `json:"state"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}
