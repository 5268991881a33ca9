// Package redisq implements the durable job queue, the retry manager, the
// dead-letter queue, the polling engine, and the worker pool on Redis.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

// dequeueBlock bounds each blocking pop so workers notice shutdown promptly.
const dequeueBlock = 2 * time.Second

// terminalJobTTL keeps completed and failed job records readable by the
// status endpoint without growing Redis forever.
const terminalJobTTL = 24 * time.Hour

// Queue is a persistent FIFO with delayed entries. Ready jobs live in a list,
// in-flight jobs in a processing list, and delayed retries in a sorted set
// scored by their due time. Job bodies are stored per id so every list holds
// ids only.
type Queue struct {
	client     *redis.Client
	readyKey   string
	workingKey string
	delayedKey string
	deadlines  string
	jobPrefix  string
	visibility time.Duration
}

// NewQueue builds a Queue named after the configured queue name.
func NewQueue(client *redis.Client, name string, visibility time.Duration) *Queue {
	return &Queue{
		client:     client,
		readyKey:   name + ":ready",
		workingKey: name + ":processing",
		delayedKey: name + ":delayed",
		deadlines:  name + ":deadlines",
		jobPrefix:  name + ":job:",
		visibility: visibility,
	}
}

func (q *Queue) jobKey(jobID string) string { return q.jobPrefix + jobID }

// Enqueue stores the job body and pushes its id onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, j *domain.Job) error {
	j.State = domain.JobQueued
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("op=queue.Enqueue: marshal job: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(j.ID), data, 0)
	pipe.LPush(ctx, q.readyKey, j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.Enqueue: %w", err)
	}
	return nil
}

// EnqueueDelayed schedules the job to become ready after delay. The delayed
// entry is written in the same pipeline as the job body so a crash between
// the two cannot lose the retry.
func (q *Queue) EnqueueDelayed(ctx context.Context, j *domain.Job, delay time.Duration) error {
	due := time.Now().Add(delay)
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("op=queue.EnqueueDelayed: marshal job: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due.Unix()), Member: j.ID})
	pipe.Set(ctx, q.jobKey(j.ID), data, 0)
	pipe.LRem(ctx, q.workingKey, 1, j.ID)
	pipe.ZRem(ctx, q.deadlines, j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.EnqueueDelayed: %w", err)
	}
	return nil
}

// Dequeue blocks for up to dequeueBlock and returns the next ready job, or
// nil when the queue stayed empty. The id is moved onto the processing list
// and given a visibility deadline before the body is read.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, q.readyKey, q.workingKey, dequeueBlock).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=queue.Dequeue: %w", err)
	}
	deadline := time.Now().Add(q.visibility)
	if err := q.client.ZAdd(ctx, q.deadlines, redis.Z{Score: float64(deadline.Unix()), Member: jobID}).Err(); err != nil {
		slog.Warn("failed to record visibility deadline",
			slog.String("job_id", jobID),
			slog.Any("error", err))
	}

	j, err := q.Get(ctx, jobID)
	if err != nil {
		// Body missing or unreadable: drop the orphaned id.
		q.client.LRem(ctx, q.workingKey, 1, jobID)
		q.client.ZRem(ctx, q.deadlines, jobID)
		return nil, err
	}
	return j, nil
}

// UpdateJob rewrites the stored job body.
func (q *Queue) UpdateJob(ctx context.Context, j *domain.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("op=queue.UpdateJob: marshal job: %w", err)
	}
	var ttl time.Duration
	if j.State.Terminal() || j.State == domain.JobFailed {
		ttl = terminalJobTTL
	}
	if err := q.client.Set(ctx, q.jobKey(j.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("op=queue.UpdateJob: %w", err)
	}
	return nil
}

// Complete removes the job from the processing list once it has reached a
// terminal state. The job body stays readable for terminalJobTTL.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.workingKey, 1, jobID)
	pipe.ZRem(ctx, q.deadlines, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.Complete: %w", err)
	}
	return nil
}

// Get reads a job body by id. Missing jobs yield a classified database error.
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewClassifiedError(domain.KindDatabase, false,
			fmt.Sprintf("job %s not found", jobID))
	}
	if err != nil {
		return nil, fmt.Errorf("op=queue.Get: %w", err)
	}
	var j domain.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("op=queue.Get: unmarshal job %s: %w", jobID, err)
	}
	return &j, nil
}

// MoveDelayedToReady promotes every delayed entry whose due time has passed
// back onto the ready list. It returns the number of jobs moved. Call it
// periodically from a scheduler loop.
func (q *Queue) MoveDelayedToReady(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	jobIDs, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.MoveDelayedToReady: %w", err)
	}

	moved := 0
	for _, jobID := range jobIDs {
		j, err := q.Get(ctx, jobID)
		if err != nil {
			q.client.ZRem(ctx, q.delayedKey, jobID)
			slog.Warn("delayed entry without a job body removed",
				slog.String("job_id", jobID),
				slog.Any("error", err))
			continue
		}
		j.State = domain.JobQueued
		data, err := json.Marshal(j)
		if err != nil {
			slog.Error("failed to marshal delayed job",
				slog.String("job_id", jobID),
				slog.Any("error", err))
			continue
		}
		pipe := q.client.Pipeline()
		pipe.Set(ctx, q.jobKey(jobID), data, 0)
		pipe.LPush(ctx, q.readyKey, jobID)
		pipe.ZRem(ctx, q.delayedKey, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("failed to promote delayed job",
				slog.String("job_id", jobID),
				slog.Any("error", err))
			continue
		}
		moved++
	}
	return moved, nil
}

// RequeueStuck returns to the ready list every in-flight job whose visibility
// deadline has passed, which recovers jobs from crashed workers.
func (q *Queue) RequeueStuck(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	jobIDs, err := q.client.ZRangeByScore(ctx, q.deadlines, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.RequeueStuck: %w", err)
	}

	requeued := 0
	for _, jobID := range jobIDs {
		pipe := q.client.Pipeline()
		pipe.LRem(ctx, q.workingKey, 1, jobID)
		pipe.LPush(ctx, q.readyKey, jobID)
		pipe.ZRem(ctx, q.deadlines, jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("failed to requeue stuck job",
				slog.String("job_id", jobID),
				slog.Any("error", err))
			continue
		}
		slog.Warn("requeued stuck job past its visibility deadline",
			slog.String("job_id", jobID))
		requeued++
	}
	return requeued, nil
}

// Depth is the number of waiting, in-flight, and delayed jobs combined.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	working := pipe.LLen(ctx, q.workingKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("op=queue.Depth: %w", err)
	}
	return ready.Val() + working.Val() + delayed.Val(), nil
}
