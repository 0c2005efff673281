// Package repository defines data access interfaces for the transcoder's job
// store. All database access goes through these interfaces, enabling easy
// testing and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
)

// JobListFilter narrows a job listing by status and supports pagination.
// A nil Status returns jobs in any status.
type JobListFilter struct {
	Status *models.JobStatus
	Offset int
	Limit  int
}

// JobStats summarizes the job table for the control plane's stats endpoint.
type JobStats struct {
	Pending          int64 `json:"pending"`
	Running          int64 `json:"running"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	Cancelled        int64 `json:"cancelled"`
	CompletedLast24h int64 `json:"completed_last_24h"`
	FailedLast24h    int64 `json:"failed_last_24h"`
	// TotalProcessed is Completed+Failed+Cancelled: every job that has ever
	// left RUNNING for a terminal state.
	TotalProcessed int64 `json:"total_processed"`
	// AvgDurationMs is the mean RUNNING wall-clock duration across COMPLETED
	// jobs, in milliseconds, or nil if none have completed yet.
	AvgDurationMs *float64 `json:"avg_duration_ms"`
}

// JobRepository defines operations for job persistence. Implementations must
// make claim_next and finish atomic with respect to concurrent callers, since
// a crashed worker and a freshly-started one may race over the same row.
type JobRepository interface {
	// Insert creates a new job in PENDING status.
	Insert(ctx context.Context, job *models.Job) error

	// GetByID retrieves a job by ID.
	GetByID(ctx context.Context, id uint) (*models.Job, error)

	// List retrieves jobs matching the filter, newest first, along with the
	// total count ignoring pagination.
	List(ctx context.Context, filter JobListFilter) ([]*models.Job, int64, error)

	// GetRunning retrieves all currently RUNNING jobs, used by stale-lock
	// recovery and by the runner status endpoint.
	GetRunning(ctx context.Context) ([]*models.Job, error)

	// ClaimNext atomically selects the oldest PENDING job and transitions it
	// to RUNNING under the given worker ID, using SELECT ... FOR UPDATE SKIP
	// LOCKED semantics. Returns nil, nil if no job is available.
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)

	// UpdateProgress persists a progress percentage for a RUNNING job.
	// Callers are expected to rate-limit calls themselves; the store does not
	// reject frequent updates.
	UpdateProgress(ctx context.Context, id uint, progress float64) error

	// Finish persists a job's terminal (or requeued-pending) state as
	// prepared by one of Job's Mark*/Requeue methods, and appends a
	// JobHistory row when the job is in a terminal state (a requeue back to
	// PENDING gets no history row).
	Finish(ctx context.Context, job *models.Job) error

	// Requeue resets a FAILED job back to PENDING via Job.Requeue and
	// persists it. Returns models.ErrJobNotRetryable if the job cannot be
	// retried under maxRetries.
	Requeue(ctx context.Context, id uint, maxRetries int) (*models.Job, error)

	// Cancel transitions a PENDING or RUNNING job to CANCELLED.
	Cancel(ctx context.Context, id uint) (*models.Job, error)

	// Delete removes a job row. Returns models.ErrJobStillRunning if the job
	// is currently RUNNING.
	Delete(ctx context.Context, id uint) error

	// DeleteCompleted deletes terminal jobs older than the given time,
	// returning the number of rows removed.
	DeleteCompleted(ctx context.Context, before time.Time) (int64, error)

	// RecoverOrphans finds RUNNING jobs whose LockedAt predates the cutoff
	// (indicating a crashed worker) and resets them to PENDING via
	// Job.RequeueInterrupted, returning the number recovered.
	RecoverOrphans(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats computes aggregate counts across all statuses.
	Stats(ctx context.Context) (*JobStats, error)

	// GetHistory retrieves history rows for a job, newest first.
	GetHistory(ctx context.Context, jobID uint, offset, limit int) ([]*models.JobHistory, int64, error)

	// DeleteHistory deletes history rows recorded before the given time.
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}
