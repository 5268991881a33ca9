// Package usecase contains the application services: admission, job status,
// and DLQ administration.
package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/fairyhunter13/sprite-forge/internal/adapter/observability"
	"github.com/fairyhunter13/sprite-forge/internal/config"
	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// defaultBaselinePerJob is the assumed per-job duration behind the estimated
// wait figure.
const defaultBaselinePerJob = 30 * time.Second

// CacheStore is the slice of the KV store the admission path consumes.
type CacheStore interface {
	CacheGet(ctx context.Context, fingerprint string) (*domain.Artifact, error)
	DedupCheck(ctx context.Context, userID, fingerprint string) (string, error)
	DedupMark(ctx context.Context, userID, fingerprint, jobID string) error
	MarkActive(ctx context.Context, userID, jobID string, ttl time.Duration) error
	ActiveCount(ctx context.Context, userID string) (int, error)
}

// QueueWarning is the non-fatal advisory attached to a submit response when
// the queue is close to its limit.
type QueueWarning struct {
	Message    string `json:"message"`
	QueueDepth int64  `json:"queue_depth"`
}

// SubmitResult is the synchronous outcome of an admission.
type SubmitResult struct {
	JobID          string           `json:"job_id"`
	Status         string           `json:"status"`
	CacheHit       bool             `json:"cache_hit"`
	Artifact       *domain.Artifact `json:"artifact,omitempty"`
	EstimatedWaitS int64            `json:"estimated_wait_s,omitempty"`
	Warning        *QueueWarning    `json:"warning,omitempty"`
}

// SubmitService runs the admission pipeline: validation, fingerprinting,
// cache and dedup short-circuits, capacity limits, and finally the enqueue.
type SubmitService struct {
	Queue   domain.Queue
	Cache   CacheStore
	Presets map[string]config.Preset

	MaxPerUser       int
	SystemLimit      int
	WarningThreshold int
	Concurrency      int
	ActiveTTL        time.Duration
	BaselinePerJob   time.Duration
}

// NewSubmitService constructs a SubmitService from config.
func NewSubmitService(queue domain.Queue, cache CacheStore, presets map[string]config.Preset, cfg config.Config) *SubmitService {
	return &SubmitService{
		Queue:            queue,
		Cache:            cache,
		Presets:          presets,
		MaxPerUser:       cfg.MaxJobsPerUser,
		SystemLimit:      cfg.SystemQueueLimit,
		WarningThreshold: cfg.WarningThreshold,
		Concurrency:      cfg.QueueConcurrency,
		ActiveTTL:        2 * cfg.TimeoutDefault,
		BaselinePerJob:   defaultBaselinePerJob,
	}
}

// Submit admits one generation request. The dedup entry and active marker
// are written only after a successful enqueue, so an enqueue failure leaves
// no state behind.
func (s *SubmitService) Submit(ctx context.Context, userID string, prompt domain.StructuredPrompt) (*SubmitResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewClassifiedError(domain.KindValidation, false, "user_id must be a non-empty string")
	}

	s.applyPreset(&prompt)
	if err := prompt.Validate(); err != nil {
		return nil, err
	}
	if err := validateInitImage(prompt.Options); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	fingerprint, err := prompt.FingerprintHex()
	if err != nil {
		return nil, err
	}

	if artifact, err := s.Cache.CacheGet(ctx, fingerprint); err != nil {
		return nil, err
	} else if artifact != nil {
		observability.CacheHitsTotal.Inc()
		slog.Info("admission cache hit",
			slog.String("user_id", userID),
			slog.String("fingerprint", fingerprint))
		return &SubmitResult{JobID: jobID, Status: "completed", CacheHit: true, Artifact: artifact}, nil
	}
	observability.CacheMissesTotal.Inc()

	if existing, err := s.Cache.DedupCheck(ctx, userID, fingerprint); err != nil {
		return nil, err
	} else if existing != "" {
		observability.DedupHitsTotal.Inc()
		slog.Info("admission dedup hit",
			slog.String("user_id", userID),
			slog.String("job_id", existing))
		return &SubmitResult{JobID: existing, Status: "processing"}, nil
	}

	active, err := s.Cache.ActiveCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= s.MaxPerUser {
		cerr := domain.NewClassifiedError(domain.KindQuotaExceeded, false,
			fmt.Sprintf("user %s has %d active jobs", userID, active))
		cerr.UserMessage = fmt.Sprintf("maximum concurrent jobs limit (%d) reached", s.MaxPerUser)
		return nil, cerr
	}

	depth, err := s.Queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	if depth >= int64(s.SystemLimit) {
		cerr := domain.NewClassifiedError(domain.KindQuotaExceeded, true,
			fmt.Sprintf("queue depth %d at system limit %d", depth, s.SystemLimit))
		cerr.UserMessage = "system queue is full"
		return nil, cerr
	}

	var warning *QueueWarning
	if depth >= int64(s.WarningThreshold) {
		warning = &QueueWarning{
			Message:    "queue is under heavy load, processing may be delayed",
			QueueDepth: depth,
		}
	}

	j := &domain.Job{
		ID:          jobID,
		UserID:      userID,
		Prompt:      prompt,
		Fingerprint: fingerprint,
		State:       domain.JobQueued,
		SubmittedAt: time.Now().UTC(),
	}
	if c, ok := observability.CorrelationFromContext(ctx); ok {
		j.CorrelationID = c.ID
	}
	if err := s.Queue.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	observability.EnqueueJob()

	if err := s.Cache.DedupMark(ctx, userID, fingerprint, jobID); err != nil {
		slog.Warn("failed to write dedup marker", slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := s.Cache.MarkActive(ctx, userID, jobID, s.ActiveTTL); err != nil {
		slog.Warn("failed to write active marker", slog.String("job_id", jobID), slog.Any("error", err))
	}

	estimated := (depth / int64(s.Concurrency)) * int64(s.BaselinePerJob/time.Second)
	slog.Info("job admitted",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
		slog.Int64("queue_depth", depth),
		slog.Int64("estimated_wait_s", estimated))

	return &SubmitResult{
		JobID:          jobID,
		Status:         "processing",
		EstimatedWaitS: estimated,
		Warning:        warning,
	}, nil
}

// applyPreset merges the style preset's options into the prompt. Values the
// caller set explicitly win over the preset.
func (s *SubmitService) applyPreset(prompt *domain.StructuredPrompt) {
	preset, ok := s.Presets[prompt.Style]
	if !ok || len(preset.Options) == 0 {
		return
	}
	if prompt.Options == nil {
		prompt.Options = make(map[string]any, len(preset.Options))
	}
	for k, v := range preset.Options {
		if _, set := prompt.Options[k]; !set {
			prompt.Options[k] = v
		}
	}
}

// validateInitImage sniffs the decoded init image, when present, and rejects
// anything that is not an image.
func validateInitImage(options map[string]any) error {
	raw, ok := options["initImage"]
	if !ok {
		return nil
	}
	encoded, ok := raw.(string)
	if !ok {
		return domain.NewClassifiedError(domain.KindValidation, false, "initImage must be a base64-encoded string")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.NewClassifiedError(domain.KindValidation, false, "initImage is not valid base64")
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return domain.NewClassifiedError(domain.KindValidation, false,
			fmt.Sprintf("initImage must be an image, detected %s", mt.String()))
	}
	return nil
}
