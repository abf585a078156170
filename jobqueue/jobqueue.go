// Package jobqueue is the durable processing queue between webhook intake
// and the automation engine. Jobs carry a deduplication key (unique per
// inbound event), an attempt count, and an eligibility time; DELAY
// continuations are ordinary jobs with a future eligibility time, so
// suspended walks survive process restarts.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

const (
	StateEnqueued   = "enqueued"
	StateProcessing = "processing"
	StateProcessed  = "processed"
	StateFailed     = "failed"
)

// MaxAttempts is the delivery attempt cap per job.
var MaxAttempts = 3

var ErrDuplicateJob = errors.New("job with this dedup key already exists")
var ErrJobNotFound = errors.New("job not found")

// Job is one unit of work: process one inbound event (or resume one
// suspended walk) for one user.
type Job struct {
	ID              string
	DedupKey        string
	UserID          string
	ConversationKey string
	RawEvent        []byte
	// set on DELAY continuations: which automation and node to resume from
	AutomationID string
	ResumeNodeID string
	Attempt      int
	EligibleAt   time.Time
	EnqueuedAt   time.Time
}

// Store is the durable queue contract. Enqueue is idempotent on the dedup
// key; ClaimNext atomically hands each eligible job to exactly one caller.
type Store interface {
	// Enqueue persists a new job. Returns ErrDuplicateJob when a job with
	// the same dedup key is already enqueued, in flight, or processed; a
	// previously failed key is re-armed instead.
	Enqueue(ctx context.Context, job *Job) error
	// ClaimNext returns the oldest eligible enqueued job, transitioned to
	// processing, or nil when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)
	// SetState records a terminal (or requeue) state for a claimed job.
	SetState(ctx context.Context, jobID, state, errMsg string) error
	// Requeue puts a claimed job back with an incremented attempt count and
	// a future eligibility time.
	Requeue(ctx context.Context, jobID string, eligibleAt time.Time) error
	// RecoverStale re-arms processing jobs claimed before olderThan back to
	// enqueued: a worker that died mid-job never records an outcome, and
	// without recovery the event is silently lost. Returns the number of
	// jobs re-armed. Action idempotency tokens keep a recovered job from
	// double-sending if the original worker was merely slow.
	RecoverStale(ctx context.Context, olderThan time.Time) (int, error)
	GetState(ctx context.Context, jobID string) (string, error)
}

// 0s, 30s, 120s
func retryBackoff(attempt int) time.Duration {
	switch {
	case attempt <= 0:
		return 0
	case attempt == 1:
		return 30 * time.Second
	default:
		return 120 * time.Second
	}
}
