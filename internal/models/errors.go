package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation and lookup errors for the job domain.
var (
	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrTitleTooLong indicates the title exceeds the 500-character cap.
	ErrTitleTooLong = errors.New("title exceeds maximum length of 500 characters")

	// ErrSourceHintRequired indicates a required source hint field is empty.
	ErrSourceHintRequired = errors.New("source_hint is required")

	// ErrSourceHintTooLong indicates the source hint exceeds the 1000-character cap.
	ErrSourceHintTooLong = errors.New("source_hint exceeds maximum length of 1000 characters")

	// ErrJobNotFound indicates no job exists with the given ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending indicates an operation required a PENDING job but found another status.
	ErrJobNotPending = errors.New("job is not pending")

	// ErrJobNotRunning indicates an operation required a RUNNING job but found another status.
	ErrJobNotRunning = errors.New("job is not running")

	// ErrJobNotRetryable indicates a FAILED job is not eligible for retry
	// (retry_count exhausted or a non-retryable error kind).
	ErrJobNotRetryable = errors.New("job is not retryable")

	// ErrJobStillRunning indicates a delete was attempted on a RUNNING job.
	ErrJobStillRunning = errors.New("cannot delete a running job")
)
