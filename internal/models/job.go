// Package models defines GORM database models for the transcoder.
package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Classification is the destination category chosen by the Planner.
type Classification string

const (
	ClassificationMovie Classification = "MOVIE"
	ClassificationTV    Classification = "TV"
	ClassificationAudio Classification = "AUDIO"
)

// EncoderFamily is the hardware acceleration backend resolved for a job.
type EncoderFamily string

const (
	EncoderFamilyNVENC    EncoderFamily = "NVENC"
	EncoderFamilyVAAPI    EncoderFamily = "VAAPI"
	EncoderFamilyAMF      EncoderFamily = "AMF"
	EncoderFamilyQSV      EncoderFamily = "QSV"
	EncoderFamilySoftX265 EncoderFamily = "SOFT_X265"
	EncoderFamilySoftX264 EncoderFamily = "SOFT_X264"
)

// ErrorKind is the stable machine-readable taxonomy value attached to a job
// error. See the error handling design for the full table.
type ErrorKind string

const (
	ErrorKindMalformed      ErrorKind = "malformed"
	ErrorKindUnauthorized   ErrorKind = "unauthorized"
	ErrorKindOversized      ErrorKind = "oversized"
	ErrorKindMissing        ErrorKind = "missing"
	ErrorKindUnstable       ErrorKind = "unstable"
	ErrorKindNoSpace        ErrorKind = "nospace"
	ErrorKindEncode         ErrorKind = "encode"
	ErrorKindPublish        ErrorKind = "publish"
	ErrorKindShutdown       ErrorKind = "shutdown"
	ErrorKindInterrupted    ErrorKind = "interrupted"
	ErrorKindRetryExhausted ErrorKind = "retry_exhausted"
	ErrorKindCancelled      ErrorKind = "cancelled"
)

// recoverableKinds is the set of error kinds eligible for a manual retry.
var recoverableKinds = map[ErrorKind]bool{
	ErrorKindMissing:  true,
	ErrorKindUnstable: true,
	ErrorKindNoSpace:  true,
	ErrorKindEncode:   true,
	ErrorKindPublish:  true,
}

// IsRetryable reports whether a FAILED job with this error kind may be
// requeued by the control plane.
func (k ErrorKind) IsRetryable() bool {
	return recoverableKinds[k]
}

// Job is the central entity: one row per admitted notification.
type Job struct {
	ID uint `gorm:"primarykey" json:"id"`

	Title          string  `gorm:"size:500;not null" json:"title"`
	SourceHint     string  `gorm:"size:1000;not null" json:"source_hint"`
	SourceResolved *string `gorm:"size:4096" json:"source_resolved"`

	Status     JobStatus `gorm:"size:16;not null;index" json:"status"`
	Progress   float64   `gorm:"not null;default:0" json:"progress"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`

	Error     *string    `gorm:"size:4000" json:"error"`
	ErrorKind *ErrorKind `gorm:"size:32" json:"error_kind"`

	OutputPath *string `gorm:"size:4096" json:"output_path"`

	Classification *Classification `gorm:"size:16" json:"classification"`
	EncoderFamily  *EncoderFamily  `gorm:"size:16" json:"encoder_family"`

	CorrelationID *string `gorm:"size:64;index" json:"correlation_id"`
	ArmJobID      *string `gorm:"size:50" json:"arm_job_id"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// LockedBy/LockedAt record which worker instance holds a RUNNING job and
	// since when, for stale-lock detection. MAX_CONCURRENT=1 in this build,
	// but the column survives a future multi-worker configuration.
	LockedBy string     `gorm:"size:100" json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

// TableName overrides the default pluralized table name.
func (Job) TableName() string {
	return "jobs"
}

// BeforeCreate stamps timestamps and the default status if unset.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	return nil
}

// BeforeUpdate refreshes UpdatedAt on every save.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal reports whether the job has left the live PENDING/RUNNING cycle.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanRetry reports whether the job is eligible for a control-plane retry:
// FAILED, with a retryable error kind, and under the configured cap.
func (j *Job) CanRetry(maxRetries int) bool {
	if j.Status != JobStatusFailed {
		return false
	}
	if j.RetryCount >= maxRetries {
		return false
	}
	if j.ErrorKind == nil {
		return true
	}
	return j.ErrorKind.IsRetryable()
}

// Validate checks the required-field invariants enforced at admission time.
func (j *Job) Validate() error {
	if j.Title == "" {
		return ErrTitleRequired
	}
	if len(j.Title) > 500 {
		return ErrTitleTooLong
	}
	if j.SourceHint == "" {
		return ErrSourceHintRequired
	}
	if len(j.SourceHint) > 1000 {
		return ErrSourceHintTooLong
	}
	return nil
}

// setError sets the job's error/error_kind pair, or clears both when err is nil.
func (j *Job) setError(kind ErrorKind, err error) {
	if err == nil {
		j.Error = nil
		j.ErrorKind = nil
		return
	}
	msg := err.Error()
	j.Error = &msg
	j.ErrorKind = &kind
}

// MarkRunning transitions PENDING -> RUNNING.
func (j *Job) MarkRunning(workerID string) {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.Progress = 0
	j.setError("", nil)
}

// MarkCompleted transitions RUNNING -> COMPLETED.
func (j *Job) MarkCompleted(outputPath string) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.Progress = 100
	j.OutputPath = &outputPath
	j.setError("", nil)
	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed transitions RUNNING -> FAILED with a taxonomy kind attached.
func (j *Job) MarkFailed(kind ErrorKind, err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.setError(kind, err)
	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkCancelled transitions PENDING/RUNNING -> CANCELLED.
func (j *Job) MarkCancelled() {
	now := time.Now().UTC()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.setError(ErrorKindCancelled, fmt.Errorf("cancelled by operator"))
	j.LockedBy = ""
	j.LockedAt = nil
}

// Requeue transitions FAILED -> PENDING, bumping retry_count and clearing
// the error. Callers must have already checked CanRetry.
func (j *Job) Requeue() {
	j.Status = JobStatusPending
	j.RetryCount++
	j.Progress = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.setError("", nil)
}

// RequeueInterrupted is used by startup orphan recovery and by the
// shutdown path: it resets a RUNNING job to PENDING without bumping
// retry_count, since no attempt was actually consumed.
func (j *Job) RequeueInterrupted(kind ErrorKind) {
	j.Status = JobStatusPending
	j.Progress = 0
	j.StartedAt = nil
	j.LockedBy = ""
	j.LockedAt = nil
	msg := string(kind)
	j.Error = &msg
	j.ErrorKind = &kind
}

// DurationMillis returns the wall-clock RUNNING duration in milliseconds,
// or nil if the job never started.
func (j *Job) DurationMillis() *int64 {
	if j.StartedAt == nil {
		return nil
	}
	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	ms := end.Sub(*j.StartedAt).Milliseconds()
	return &ms
}

// JobHistory is an append-only audit row written once per job whenever it
// leaves RUNNING, independent of the live Job row's eventual deletion.
type JobHistory struct {
	ID ULID `gorm:"primarykey;type:varchar(26)" json:"id"`

	JobID        uint       `gorm:"not null;index" json:"job_id"`
	Status       JobStatus  `gorm:"size:16;not null" json:"status"`
	ErrorKind    *ErrorKind `gorm:"size:32" json:"error_kind"`
	DurationMs   *int64     `json:"duration_ms"`
	AttemptCount int        `gorm:"not null" json:"attempt_count"`
	RecordedAt   time.Time  `gorm:"not null;index" json:"recorded_at"`
}

// TableName overrides the default pluralized table name.
func (JobHistory) TableName() string {
	return "job_history"
}

// BeforeCreate generates a ULID and stamps RecordedAt if unset.
func (h *JobHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID.IsZero() {
		h.ID = NewULID()
	}
	if h.RecordedAt.IsZero() {
		h.RecordedAt = time.Now().UTC()
	}
	return nil
}

// NewHistoryFromJob builds the JobHistory row for a job that just left
// RUNNING, per invariant 7 in the data model.
func NewHistoryFromJob(j *Job) *JobHistory {
	return &JobHistory{
		JobID:        j.ID,
		Status:       j.Status,
		ErrorKind:    j.ErrorKind,
		DurationMs:   j.DurationMillis(),
		AttemptCount: j.RetryCount,
	}
}
