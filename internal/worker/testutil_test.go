package worker

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
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/stabilizer"
)

// fakeJobRepository is an in-memory stand-in for the GORM-backed
// repository.JobRepository, in the teacher's "drive the real component
// against a fake store" test style (see internal/repository/job_repo_test.go
// for the SQLite-backed equivalent used one layer down).
type fakeJobRepository struct {
	mu      sync.Mutex
	jobs    map[uint]*models.Job
	order   []uint
	nextID  uint
	history []*models.JobHistory
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
		return nil, models.ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (r *fakeJobRepository) List(ctx context.Context, filter repository.JobListFilter) ([]*models.Job, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Job
	for _, id := range r.order {
		out = append(out, r.jobs[id])
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
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Status == models.JobStatusPending {
			job.MarkRunning(workerID)
			return job, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepository) UpdateProgress(ctx context.Context, id uint, progress float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Progress = progress
	}
	return nil
}

func (r *fakeJobRepository) Finish(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	if job.Status != models.JobStatusRunning {
		r.history = append(r.history, models.NewHistoryFromJob(job))
	}
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
	return &repository.JobStats{}, nil
}

func (r *fakeJobRepository) GetHistory(ctx context.Context, jobID uint, offset, limit int) ([]*models.JobHistory, int64, error) {
	return nil, 0, nil
}

func (r *fakeJobRepository) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

var _ repository.JobRepository = (*fakeJobRepository)(nil)

// get is a test-only convenience accessor that does not go through the
// snapshot copy GetByID returns, so tests can observe the live row a
// background goroutine is mutating.
func (r *fakeJobRepository) get(id uint) *models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// testPaths bundles the temp directories a Worker needs.
type testPaths struct {
	sourceRoot    string
	workRoot      string
	completedRoot string
}

// writeScript writes an executable shell script into dir and returns its
// path, standing in for the real ffmpeg/ffprobe binaries CommandGuard
// resolves at startup.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// fakeFFmpeg returns a path to a script that ignores its arguments and
// creates an empty file at whichever path was passed last, mirroring ffmpeg
// writing its output file without needing a real encode.
func fakeFFmpeg(t *testing.T, dir string) string {
	return writeScript(t, dir, "ffmpeg", `last=""
for a in "$@"; do last="$a"; done
: > "$last"
`)
}

// fakeFFprobe returns a path to a script that prints a fixed, valid ffprobe
// JSON payload for a 1080p, ten-second source.
func fakeFFprobe(t *testing.T, dir string) string {
	return writeScript(t, dir, "ffprobe",
		`echo '{"format":{"duration":"10.0"},"streams":[{"codec_type":"video","width":1920,"height":1080}]}'`)
}

// newTestWorker assembles a Worker wired to a fakeJobRepository and fake
// ffmpeg/ffprobe binaries, with fresh temp directories for every root.
func newTestWorker(t *testing.T, repo repository.JobRepository) (*Worker, testPaths) {
	t.Helper()

	binDir := t.TempDir()
	paths := testPaths{
		sourceRoot:    t.TempDir(),
		workRoot:      t.TempDir(),
		completedRoot: t.TempDir(),
	}

	ffmpegPath := fakeFFmpeg(t, binDir)
	ffprobePath := fakeFFprobe(t, binDir)

	cfg := Config{
		WorkerID:           "test-worker",
		PollInterval:       20 * time.Millisecond,
		SourceRoot:         paths.sourceRoot,
		WorkRoot:           paths.workRoot,
		CompletedRoot:      paths.completedRoot,
		MinimumFreeSpaceGB: 0.0001,
		// A zero stabilizer.Config falls back to a 60s stability window,
		// longer than the tests' 5s completion deadline.
		Stabilize: stabilizer.Config{
			SampleInterval: 10 * time.Millisecond,
			StableFor:      50 * time.Millisecond,
			MaxWait:        2 * time.Second,
		},
	}

	baseParams := commandguard.NormalizedParams{
		VideoEncoder: commandguard.VideoEncoderX264,
		AudioEncoder: commandguard.AudioEncoderCopy,
		SubtitleMode: commandguard.SubtitleModeAll,
		Quality:      20,
		Preset:       "medium",
	}

	w, err := New(
		cfg,
		repo,
		probe.NewProber(ffprobePath),
		probe.NewGPUDetector(ffmpegPath, ""),
		&commandguard.Binaries{FFmpegPath: ffmpegPath},
		baseParams,
		"",
	)
	require.NoError(t, err)
	return w, paths
}

// writeSourceFile creates a source directory under paths.sourceRoot with one
// file of the given name and content, returning the hint to pass as
// Job.SourceHint.
func writeSourceFile(t *testing.T, paths testPaths, dirName, fileName string, content []byte) string {
	t.Helper()
	dir := filepath.Join(paths.sourceRoot, dirName)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), content, 0o640))
	return dirName
}

// pollUntil polls cond every 10ms until it returns true or timeout elapses,
// failing the test on timeout.
func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
