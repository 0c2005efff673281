package handlers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/worker"
)

// fakeJobRepository is a minimal in-memory repository.JobRepository for
// exercising the control-plane handlers without a database.
type fakeJobRepository struct {
	mu     sync.Mutex
	jobs   map[uint]*models.Job
	order  []uint
	nextID uint
}

func newFakeJobRepository() *fakeJobRepository {
	return &fakeJobRepository{jobs: make(map[uint]*models.Job)}
}

func (r *fakeJobRepository) Insert(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job.ID = r.nextID
	job.Status = models.JobStatusPending
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return nil
}

func (r *fakeJobRepository) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	snapshot := *job
	return &snapshot, nil
}

func (r *fakeJobRepository) List(ctx context.Context, filter repository.JobListFilter) ([]*models.Job, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, id := range r.order {
		job := r.jobs[id]
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, job)
	}
	return out, int64(len(out)), nil
}

func (r *fakeJobRepository) GetRunning(ctx context.Context) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var running []*models.Job
	for _, id := range r.order {
		if job := r.jobs[id]; job.Status == models.JobStatusRunning {
			running = append(running, job)
		}
	}
	return running, nil
}

func (r *fakeJobRepository) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	return nil, nil
}

func (r *fakeJobRepository) UpdateProgress(ctx context.Context, id uint, progress float64) error {
	return nil
}

func (r *fakeJobRepository) Finish(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepository) Requeue(ctx context.Context, id uint, maxRetries int) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	if !job.CanRetry(maxRetries) {
		return nil, models.ErrJobNotRetryable
	}
	job.Requeue()
	return job, nil
}

func (r *fakeJobRepository) Cancel(ctx context.Context, id uint) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	job.MarkCancelled()
	return job, nil
}

func (r *fakeJobRepository) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status == models.JobStatusRunning {
		return models.ErrJobStillRunning
	}
	delete(r.jobs, id)
	return nil
}

func (r *fakeJobRepository) DeleteCompleted(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeJobRepository) RecoverOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeJobRepository) Stats(ctx context.Context) (*repository.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.JobStats{}
	for _, id := range r.order {
		switch r.jobs[id].Status {
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusRunning:
			stats.Running++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	stats.TotalProcessed = stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

func (r *fakeJobRepository) GetHistory(ctx context.Context, jobID uint, offset, limit int) ([]*models.JobHistory, int64, error) {
	return nil, 0, nil
}

func (r *fakeJobRepository) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

var _ repository.JobRepository = (*fakeJobRepository)(nil)

// put inserts a job directly at a known status, bypassing Insert's
// PENDING-only behavior, for tests that need to start from RUNNING/FAILED/etc.
func (r *fakeJobRepository) put(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	job.ID = r.nextID
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
}

// newTestWorker builds a real, unstarted *worker.Worker backed by fake
// ffmpeg/ffprobe scripts, for exercising the accessor methods the
// control-plane handlers call (WorkerID, PollInterval, Alive, CancelJob).
func newTestWorker(t *testing.T, repo repository.JobRepository) *worker.Worker {
	t.Helper()

	binDir := t.TempDir()
	ffmpegPath := filepath.Join(binDir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	ffprobePath := filepath.Join(binDir, "ffprobe")
	require.NoError(t, os.WriteFile(ffprobePath, []byte("#!/bin/sh\necho '{}'\n"), 0o755))

	cfg := worker.Config{
		WorkerID:      "test-worker",
		PollInterval:  20 * time.Millisecond,
		SourceRoot:    t.TempDir(),
		WorkRoot:      t.TempDir(),
		CompletedRoot: t.TempDir(),
	}

	w, err := worker.New(
		cfg,
		repo,
		probe.NewProber(ffprobePath),
		probe.NewGPUDetector(ffmpegPath, ""),
		&commandguard.Binaries{FFmpegPath: ffmpegPath},
		commandguard.NormalizedParams{
			VideoEncoder: commandguard.VideoEncoderX264,
			AudioEncoder: commandguard.AudioEncoderCopy,
			SubtitleMode: commandguard.SubtitleModeAll,
			Quality:      20,
			Preset:       "medium",
		},
		"",
	)
	require.NoError(t, err)
	return w
}
