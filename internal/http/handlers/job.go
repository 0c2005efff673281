package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/middleware"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/scheduler"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/worker"
)

// JobHandler implements the control-plane job endpoints: listing, single-job
// lookup, history, stats, runner status, retry, cancel, and delete.
type JobHandler struct {
	jobs        repository.JobRepository
	worker      *worker.Worker
	keys        *middleware.KeyStore
	requireAuth bool
	maxRetries  int
}

// NewJobHandler creates a new control-plane job handler. w is used to signal
// live cancellation of a RUNNING job and to report liveness on /runner.
func NewJobHandler(jobs repository.JobRepository, w *worker.Worker, keys *middleware.KeyStore, requireAuth bool, maxRetries int) *JobHandler {
	return &JobHandler{
		jobs:        jobs,
		worker:      w,
		keys:        keys,
		requireAuth: requireAuth,
		maxRetries:  maxRetries,
	}
}

// authorize checks the presented API key and, if admin is true, that the
// matched role is RoleAdmin.
func (h *JobHandler) authorize(apiKey string, admin bool) error {
	role, ok := h.keys.Authorize(apiKey, h.requireAuth)
	if !ok {
		return huma.NewError(http.StatusUnauthorized, "missing or invalid API key")
	}
	if admin && role != middleware.RoleAdmin {
		return huma.Error403Forbidden("admin role required")
	}
	return nil
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs newest first, optionally filtered by status.",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a single job by ID.",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getJobHistory",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/history",
		Summary:     "Get job history",
		Description: "Returns the append-only history rows for a job, newest first.",
		Tags:        []string{"Jobs"},
	}, h.GetHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Get job statistics",
		Description: "Returns per-status counts, total processed, and average completed duration.",
		Tags:        []string{"Jobs"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getRunnerStatus",
		Method:      http.MethodGet,
		Path:        "/runner",
		Summary:     "Get runner status",
		Description: "Returns the worker's liveness, poll interval, and pending/running counts.",
		Tags:        []string{"Jobs"},
	}, h.GetRunnerStatus)

	huma.Register(api, huma.Operation{
		OperationID: "retryJob",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/retry",
		Summary:     "Retry a failed job",
		Description: "Requeues a FAILED job as PENDING, if it has not exhausted its retry budget.",
		Tags:        []string{"Jobs"},
	}, h.Retry)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/cancel",
		Summary:     "Cancel a job",
		Description: "Cancels a PENDING or RUNNING job.",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Delete job",
		Description: "Deletes a job row. Not allowed while the job is RUNNING.",
		Tags:        []string{"Jobs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "validateCron",
		Method:      http.MethodPost,
		Path:        "/jobs/cron/validate",
		Summary:     "Validate a cron expression",
		Description: "Validates an operator-supplied retention cron expression and returns its next due time.",
		Tags:        []string{"Jobs"},
	}, h.ValidateCron)
}

// JobListResponse is the {items,total} envelope used by every paginated
// listing endpoint.
type JobListResponse struct {
	Items []*models.Job `json:"items"`
	Total int64         `json:"total"`
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	APIKey string `header:"X-API-Key"`
	Status string `query:"status" doc:"Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Offset int    `query:"offset" default:"0" minimum:"0"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body JobListResponse
}

// List returns jobs matching the optional status filter.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	if err := h.authorize(input.APIKey, false); err != nil {
		return nil, err
	}

	filter := repository.JobListFilter{Offset: input.Offset, Limit: input.Limit}
	if input.Status != "" {
		status := models.JobStatus(input.Status)
		filter.Status = &status
	}

	jobs, total, err := h.jobs.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	return &ListJobsOutput{Body: JobListResponse{Items: jobs, Total: total}}, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	APIKey string `header:"X-API-Key"`
	ID     uint   `path:"id"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body *models.Job
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	if err := h.authorize(input.APIKey, false); err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	return &GetJobOutput{Body: job}, nil
}

// JobHistoryListResponse is the {items,total} envelope for history rows.
type JobHistoryListResponse struct {
	Items []*models.JobHistory `json:"items"`
	Total int64                `json:"total"`
}

// GetJobHistoryInput is the input for getting job history.
type GetJobHistoryInput struct {
	APIKey string `header:"X-API-Key"`
	ID     uint   `path:"id"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Offset int    `query:"offset" default:"0" minimum:"0"`
}

// GetJobHistoryOutput is the output for getting job history.
type GetJobHistoryOutput struct {
	Body JobHistoryListResponse
}

// GetHistory returns history rows for a single job.
func (h *JobHandler) GetHistory(ctx context.Context, input *GetJobHistoryInput) (*GetJobHistoryOutput, error) {
	if err := h.authorize(input.APIKey, false); err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	history, total, err := h.jobs.GetHistory(ctx, input.ID, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job history", err)
	}

	return &GetJobHistoryOutput{Body: JobHistoryListResponse{Items: history, Total: total}}, nil
}

// GetStatsInput is the input for getting job statistics.
type GetStatsInput struct {
	APIKey string `header:"X-API-Key"`
}

// GetStatsOutput is the output for getting job statistics.
type GetStatsOutput struct {
	Body *repository.JobStats
}

// GetStats returns job statistics.
func (h *JobHandler) GetStats(ctx context.Context, input *GetStatsInput) (*GetStatsOutput, error) {
	if err := h.authorize(input.APIKey, false); err != nil {
		return nil, err
	}

	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job stats", err)
	}

	return &GetStatsOutput{Body: stats}, nil
}

// RunnerStatusResponse mirrors the worker's internal loop state for
// operators, without exposing internal types.
type RunnerStatusResponse struct {
	Alive        bool   `json:"alive"`
	WorkerID     string `json:"worker_id"`
	PollInterval string `json:"poll_interval"`
	Pending      int64  `json:"pending"`
	Running      int64  `json:"running"`
}

// GetRunnerStatusInput is the input for getting runner status.
type GetRunnerStatusInput struct {
	APIKey string `header:"X-API-Key"`
}

// GetRunnerStatusOutput is the output for getting runner status.
type GetRunnerStatusOutput struct {
	Body RunnerStatusResponse
}

// GetRunnerStatus returns the worker's liveness and queue depth.
func (h *JobHandler) GetRunnerStatus(ctx context.Context, input *GetRunnerStatusInput) (*GetRunnerStatusOutput, error) {
	if err := h.authorize(input.APIKey, false); err != nil {
		return nil, err
	}

	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get runner status", err)
	}

	return &GetRunnerStatusOutput{
		Body: RunnerStatusResponse{
			Alive:        h.worker.Alive(),
			WorkerID:     h.worker.WorkerID(),
			PollInterval: h.worker.PollInterval().String(),
			Pending:      stats.Pending,
			Running:      stats.Running,
		},
	}, nil
}

// RetryJobInput is the input for retrying a job.
type RetryJobInput struct {
	APIKey string `header:"X-API-Key"`
	ID     uint   `path:"id"`
}

// RetryJobOutput is the output for retrying a job.
type RetryJobOutput struct {
	Body *models.Job
}

// Retry requeues a FAILED job as PENDING.
func (h *JobHandler) Retry(ctx context.Context, input *RetryJobInput) (*RetryJobOutput, error) {
	if err := h.authorize(input.APIKey, true); err != nil {
		return nil, err
	}

	job, err := h.jobs.Requeue(ctx, input.ID, h.maxRetries)
	if err != nil {
		switch err {
		case models.ErrJobNotFound:
			return nil, huma.Error404NotFound("job not found")
		case models.ErrJobNotRetryable:
			return nil, huma.Error409Conflict("job is not eligible for retry")
		}
		return nil, huma.Error500InternalServerError("failed to retry job", err)
	}

	return &RetryJobOutput{Body: job}, nil
}

// CancelJobInput is the input for canceling a job.
type CancelJobInput struct {
	APIKey string `header:"X-API-Key"`
	ID     uint   `path:"id"`
}

// CancelJobOutput is the output for canceling a job.
type CancelJobOutput struct {
	Body *models.Job
}

// Cancel cancels a PENDING or RUNNING job. For a RUNNING job it first signals
// the worker to stop the in-flight subprocess; in both cases it then marks
// the row CANCELLED through the repository and returns the updated row.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	if err := h.authorize(input.APIKey, true); err != nil {
		return nil, err
	}

	job, err := h.jobs.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}
	if job.IsTerminal() {
		return nil, huma.Error409Conflict("job is already in a terminal state")
	}

	if job.Status == models.JobStatusRunning {
		h.worker.CancelJob(job.ID)
	}

	cancelled, err := h.jobs.Cancel(ctx, input.ID)
	if err != nil {
		if err == models.ErrJobNotFound {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to cancel job", err)
	}

	return &CancelJobOutput{Body: cancelled}, nil
}

// DeleteJobInput is the input for deleting a job.
type DeleteJobInput struct {
	APIKey string `header:"X-API-Key"`
	ID     uint   `path:"id"`
}

// DeleteJobOutput is the output for deleting a job.
type DeleteJobOutput struct{}

// Delete removes a job row. Not allowed while RUNNING.
func (h *JobHandler) Delete(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	if err := h.authorize(input.APIKey, true); err != nil {
		return nil, err
	}

	if err := h.jobs.Delete(ctx, input.ID); err != nil {
		switch err {
		case models.ErrJobNotFound:
			return nil, huma.Error404NotFound("job not found")
		case models.ErrJobStillRunning:
			return nil, huma.Error409Conflict("job is currently RUNNING")
		}
		return nil, huma.Error500InternalServerError("failed to delete job", err)
	}

	return &DeleteJobOutput{}, nil
}

// ValidateCronRequest is the request body for cron validation.
type ValidateCronRequest struct {
	Expression string `json:"expression"`
}

// ValidateCronResponse reports whether the expression parsed and, if so,
// when it will next fire.
type ValidateCronResponse struct {
	Valid   bool       `json:"valid"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// ValidateCronInput is the input for validating a cron expression.
type ValidateCronInput struct {
	APIKey string `header:"X-API-Key"`
	Body   ValidateCronRequest
}

// ValidateCronOutput is the output for validating a cron expression.
type ValidateCronOutput struct {
	Body ValidateCronResponse
}

// ValidateCron parses the supplied expression with the same validator the
// worker uses for CLEANUP_CRON, and reports the next scheduled run.
func (h *JobHandler) ValidateCron(ctx context.Context, input *ValidateCronInput) (*ValidateCronOutput, error) {
	if err := h.authorize(input.APIKey, true); err != nil {
		return nil, err
	}

	schedule, err := scheduler.NewCronValidator().Parse(input.Body.Expression)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid cron expression", err)
	}

	next := schedule.Next(time.Now())
	return &ValidateCronOutput{Body: ValidateCronResponse{Valid: true, NextRun: &next}}, nil
}
