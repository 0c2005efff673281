// Package admission implements the webhook entry point that turns an
// external rip/encode-completion notification into a durable Job row. It
// accepts two payload shapes and enforces the size, field-length, and
// webhook-secret checks a job must pass before it is ever written to the
// store.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/middleware"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
)

const (
	maxBodyBytes = 10 * 1024
	maxTitleLen  = 500
	maxBodyLen   = 2000
	maxPathLen   = 1000
	maxJobIDLen  = 50
	// maxShortTokenLen bounds what admission treats as a "reasonably short
	// token" worth reusing directly as the correlation id, rather than
	// generating a fresh uuid.
	maxShortTokenLen = 32
)

// sourceCompletePattern extracts the source directory name from a Shape A
// notification's free-text body: "<name> rip complete" or
// "<name> processing complete", case-insensitively.
var sourceCompletePattern = regexp.MustCompile(`(?is)^(.+?)\s+(?:rip|processing) complete`)

// shortTokenPattern matches job_id values plain enough to double as a log
// correlation id without further massaging.
var shortTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

var acceptableStatuses = map[string]bool{
	"success":   true,
	"complete":  true,
	"completed": true,
	"ok":        true,
}

// payload is the union of Shape A ({title, body, type}) and Shape B
// ({title, path, job_id?, status?}); unknown fields from either shape are
// ignored by encoding/json.
type payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Path   string `json:"path"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Handler implements POST /webhook/arm.
type Handler struct {
	jobs          repository.JobRepository
	webhookSecret string
}

// NewHandler builds an admission Handler. webhookSecret, when non-empty, is
// compared against the X-Webhook-Secret header on every request; an empty
// value disables the check.
func NewHandler(jobs repository.JobRepository, webhookSecret string) *Handler {
	return &Handler{jobs: jobs, webhookSecret: webhookSecret}
}

// Register registers the webhook route with the API.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "admitJob",
		Method:      http.MethodPost,
		Path:        "/webhook/arm",
		Summary:     "Admit a completed rip",
		Description: "Accepts a rip- or encode-completion notification and enqueues a transcode job.",
		Tags:        []string{"Admission"},
	}, h.Admit)
}

// AdmitInput is the webhook request. Body is captured as raw JSON so both
// payload shapes can be decoded loosely without a strict schema.
type AdmitInput struct {
	WebhookSecret string          `header:"X-Webhook-Secret"`
	Body          json.RawMessage `doc:"Shape A: {title,body,type}. Shape B: {title,path,job_id?,status?}."`
}

// AdmitResponse is returned on every 2xx outcome, including the
// broadcast-compatibility no-op case (Skipped=true, JobID omitted).
type AdmitResponse struct {
	JobID   uint `json:"job_id,omitempty"`
	Skipped bool `json:"skipped,omitempty"`
}

// AdmitOutput wraps AdmitResponse for huma registration.
type AdmitOutput struct {
	Body AdmitResponse
}

// Admit validates and persists a webhook notification as a PENDING job.
func (h *Handler) Admit(ctx context.Context, input *AdmitInput) (*AdmitOutput, error) {
	if len(input.Body) > maxBodyBytes {
		return nil, huma.NewError(http.StatusRequestEntityTooLarge, "request body exceeds 10 KiB")
	}
	if !middleware.CheckWebhookSecret(h.webhookSecret, input.WebhookSecret) {
		return nil, huma.NewError(http.StatusUnauthorized, "webhook secret mismatch")
	}

	var p payload
	if err := json.Unmarshal(input.Body, &p); err != nil {
		return nil, huma.Error400BadRequest("malformed JSON body", err)
	}

	if p.Title == "" {
		return nil, huma.Error400BadRequest("title is required")
	}
	if len(p.Title) > maxTitleLen {
		return nil, huma.Error400BadRequest(fmt.Sprintf("title exceeds %d characters", maxTitleLen))
	}
	if len(p.Body) > maxBodyLen {
		return nil, huma.Error400BadRequest(fmt.Sprintf("body exceeds %d characters", maxBodyLen))
	}
	if len(p.Path) > maxPathLen {
		return nil, huma.Error400BadRequest(fmt.Sprintf("path exceeds %d characters", maxPathLen))
	}
	if len(p.JobID) > maxJobIDLen {
		return nil, huma.Error400BadRequest(fmt.Sprintf("job_id exceeds %d characters", maxJobIDLen))
	}

	// Broadcast-compatibility: a status the notifier attaches to every event
	// (not just completions) is only trusted when it names one of the
	// success synonyms, or the body independently matches a rip-complete
	// pattern. Anything else is a silent, idempotent no-op rather than an
	// error, since the sender cannot distinguish "rejected" from "ignored".
	matchesRipComplete := sourceCompletePattern.MatchString(p.Body)
	if p.Status != "" && !acceptableStatuses[strings.ToLower(p.Status)] && !matchesRipComplete {
		return &AdmitOutput{Body: AdmitResponse{Skipped: true}}, nil
	}

	shapeB := p.Path != ""

	var sourceHint string
	if shapeB {
		if err := validatePathHint(p.Path); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		sourceHint = p.Path
	} else {
		m := sourceCompletePattern.FindStringSubmatch(p.Body)
		if m == nil {
			return nil, huma.Error400BadRequest("body does not match a rip-complete or processing-complete pattern")
		}
		sourceHint = strings.TrimSpace(m[1])
	}

	job := &models.Job{
		Title:      p.Title,
		SourceHint: sourceHint,
	}
	if p.JobID != "" {
		armID := p.JobID
		job.ArmJobID = &armID
		if shortTokenPattern.MatchString(p.JobID) {
			cid := p.JobID
			job.CorrelationID = &cid
		}
	}
	if job.CorrelationID == nil {
		cid := uuid.NewString()
		job.CorrelationID = &cid
	}

	if err := job.Validate(); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if err := h.jobs.Insert(ctx, job); err != nil {
		return nil, huma.Error500InternalServerError("failed to persist job", err)
	}

	return &AdmitOutput{Body: AdmitResponse{JobID: job.ID}}, nil
}

// validatePathHint enforces the Shape B path constraints: a directory
// basename under the raw root, never a path, never traversing upward.
func validatePathHint(hint string) error {
	if strings.ContainsRune(hint, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	if strings.ContainsAny(hint, "/\\") {
		return fmt.Errorf("path must be a directory basename, not a path")
	}
	if strings.Contains(hint, "..") {
		return fmt.Errorf("path must not contain '..'")
	}
	return nil
}
