// Package handlers provides the control-plane HTTP handlers for the
// transcoder job server.
package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/worker"
)

// HealthHandler implements the unauthenticated liveness endpoint.
type HealthHandler struct {
	jobs   repository.JobRepository
	worker *worker.Worker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(jobs repository.JobRepository, w *worker.Worker) *HealthHandler {
	return &HealthHandler{jobs: jobs, worker: w}
}

// HealthInput is the input for the health check endpoint. It is empty and
// carries no auth header: /health is reachable regardless of API key
// configuration.
type HealthInput struct{}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
	Worker string `json:"worker"`
	Queue  int64  `json:"queue"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports service liveness, worker state, and pending queue depth. Requires no authentication.",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports "ok" so long as the worker goroutine is running; the
// pending queue depth comes along for free since a stuck or crashed worker
// shows up as a growing queue even while the HTTP server itself stays up.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	status := "ok"
	workerState := "stopped"
	if h.worker.Alive() {
		workerState = "running"
	} else {
		status = "degraded"
	}

	var queue int64
	if stats, err := h.jobs.Stats(ctx); err == nil {
		queue = stats.Pending
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status: status,
			Worker: workerState,
			Queue:  queue,
		},
	}, nil
}
