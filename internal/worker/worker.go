// Package worker drives the job state machine: claim a PENDING job, run it
// end to end through stabilization, resolution, admission, planning,
// execution, and publishing, and persist the result. MAX_CONCURRENT is fixed
// at 1 in this build, so there is exactly one long-lived loop goroutine
// rather than a pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/executor"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/scheduler"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/stabilizer"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/storage"
)

// Config holds the tunables the worker needs beyond its collaborators.
// Defaults mirror SPEC_FULL.md §4.7/§4.9.
type Config struct {
	WorkerID string

	// PollInterval bounds how long the loop sleeps between ClaimNext calls
	// when no PENDING job is available.
	PollInterval time.Duration

	SourceRoot    string
	WorkRoot      string
	CompletedRoot string
	VAAPIDevice   string

	MinimumFreeSpaceGB float64
	DeleteSource       bool

	Stabilize stabilizer.Config

	// StaleLockTimeout bounds how long a RUNNING job may sit locked without
	// a progress heartbeat before the periodic sweep assumes its worker
	// crashed and recovers it. UpdateProgress refreshes locked_at on every
	// commit, so this only needs to cover the gap before the first commit
	// (stabilization, resolution, planning, encoder startup) plus the
	// throttled commit interval, not the job's total runtime.
	StaleLockTimeout time.Duration
	// RetentionAge bounds how long terminal jobs and history rows are kept
	// before the periodic cleanup sweep deletes them.
	RetentionAge time.Duration
	// CleanupCron is a standard five-field cron expression governing when
	// the retention sweep runs. Defaults to hourly.
	CleanupCron string
}

// DefaultConfig fills in every duration/interval default named in the spec;
// callers still must supply the path fields and WorkerID.
func DefaultConfig() Config {
	return Config{
		PollInterval:       1 * time.Second,
		MinimumFreeSpaceGB: 10,
		Stabilize:          stabilizer.DefaultConfig(),
		StaleLockTimeout:   1 * time.Hour,
		RetentionAge:       7 * 24 * time.Hour,
		CleanupCron:        "0 * * * *",
	}
}

// Worker owns the single transcode loop plus its two auxiliary sweeps.
type Worker struct {
	cfg Config

	jobRepo      repository.JobRepository
	stabilizer   *stabilizer.Stabilizer
	pathGuard    *storage.PathGuard
	completed    *storage.Sandbox
	prober       *probe.Prober
	gpuDetector  *probe.GPUDetector
	binaries     *commandguard.Binaries
	executor     *executor.Executor
	baseParams   commandguard.NormalizedParams
	preset4K     string

	retentionSchedule cron.Schedule

	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobCancelMu sync.Mutex
	jobCancels  map[uint]context.CancelFunc
}

// New assembles a Worker from its collaborators. baseParams is the
// validated, globally-configured encode parameter set (from EncodingConfig);
// preset4K is the separate VideoTool-B preset used for UHD sources on the
// NVENC preset path (HANDBRAKE_PRESET_4K), empty if unconfigured.
func New(
	cfg Config,
	jobRepo repository.JobRepository,
	prober *probe.Prober,
	gpuDetector *probe.GPUDetector,
	binaries *commandguard.Binaries,
	baseParams commandguard.NormalizedParams,
	preset4K string,
) (*Worker, error) {
	completed, err := storage.NewSandbox(cfg.CompletedRoot)
	if err != nil {
		return nil, fmt.Errorf("creating completed-root sandbox: %w", err)
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MinimumFreeSpaceGB <= 0 {
		cfg.MinimumFreeSpaceGB = def.MinimumFreeSpaceGB
	}
	if cfg.StaleLockTimeout <= 0 {
		cfg.StaleLockTimeout = def.StaleLockTimeout
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = def.RetentionAge
	}
	if cfg.CleanupCron == "" {
		cfg.CleanupCron = def.CleanupCron
	}

	retentionSchedule, err := scheduler.NewCronValidator().Parse(cfg.CleanupCron)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup cron schedule: %w", err)
	}

	return &Worker{
		cfg:               cfg,
		jobRepo:           jobRepo,
		stabilizer:        stabilizer.New(cfg.Stabilize),
		pathGuard:         storage.NewPathGuard(true),
		completed:         completed,
		prober:            prober,
		gpuDetector:       gpuDetector,
		binaries:          binaries,
		executor:          executor.New(),
		baseParams:        baseParams,
		preset4K:          preset4K,
		retentionSchedule: retentionSchedule,
		logger:            slog.Default(),
		jobCancels:        make(map[uint]context.CancelFunc),
	}, nil
}

// WithLogger sets a custom logger.
func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	w.logger = logger
	return w
}

// WorkerID returns the identifier this worker claims jobs under.
func (w *Worker) WorkerID() string {
	return w.cfg.WorkerID
}

// PollInterval returns the configured idle-poll interval.
func (w *Worker) PollInterval() time.Duration {
	return w.cfg.PollInterval
}

// Alive reports whether Start has been called and Stop has not yet
// completed, for the runner status endpoint's liveness field.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx != nil
}

// Start recovers orphaned RUNNING jobs left over from a crashed previous
// run, then starts the main loop and the two auxiliary sweep goroutines,
// all sharing ctx's cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx != nil {
		return fmt.Errorf("worker already started")
	}

	recovered, err := w.jobRepo.RecoverOrphans(ctx, time.Now().Add(-w.cfg.StaleLockTimeout))
	if err != nil {
		return fmt.Errorf("recovering orphaned jobs at startup: %w", err)
	}
	if recovered > 0 {
		w.logger.Warn("recovered orphaned jobs at startup", slog.Int64("count", recovered))
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(3)
	go w.loop()
	go w.staleSweep()
	go w.retentionSweep()

	w.logger.Info("worker started", slog.String("worker_id", w.cfg.WorkerID))
	return nil
}

// Stop cancels the worker's context and waits for the loop and both sweeps
// to exit. If a transcode is EXECUTING, the in-flight job is requeued to
// PENDING with error kind "shutdown" rather than left RUNNING.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	w.ctx = nil
	w.cancel = nil
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// loop claims and drives jobs one at a time until cancelled.
func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.jobRepo.ClaimNext(w.ctx, w.cfg.WorkerID)
		if err != nil {
			w.logger.Error("claiming next job failed", slog.Any("error", err))
			w.sleepOrDone(w.cfg.PollInterval)
			continue
		}
		if job == nil {
			w.sleepOrDone(w.cfg.PollInterval)
			continue
		}

		w.logger.Info("claimed job", slog.Uint64("job_id", uint64(job.ID)), slog.String("title", job.Title))
		w.runJob(job)
	}
}

// CancelJob signals the running job with the given ID to stop, if it is the
// one currently executing. It reports whether a running job was found. The
// control-plane cancel endpoint calls this for RUNNING jobs; PENDING jobs
// are marked CANCELLED in the store directly, without involving the worker.
func (w *Worker) CancelJob(id uint) bool {
	w.jobCancelMu.Lock()
	cancel, ok := w.jobCancels[id]
	w.jobCancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (w *Worker) registerJobCancel(id uint, cancel context.CancelFunc) {
	w.jobCancelMu.Lock()
	w.jobCancels[id] = cancel
	w.jobCancelMu.Unlock()
}

func (w *Worker) unregisterJobCancel(id uint) {
	w.jobCancelMu.Lock()
	delete(w.jobCancels, id)
	w.jobCancelMu.Unlock()
}

func (w *Worker) sleepOrDone(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

// staleSweep periodically recovers RUNNING jobs whose lock predates the
// configured timeout, guarding against a crash mid-transcode in a prior
// process lifetime. Grounded on the same ticker/select shape as the
// teacher's recoverStaleJobs, generalized from a multi-worker pool's lock
// staleness check to this single-flight worker's crash-recovery sweep.
func (w *Worker) staleSweep() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.StaleLockTimeout)
			recovered, err := w.jobRepo.RecoverOrphans(w.ctx, cutoff)
			if err != nil {
				w.logger.Error("stale job sweep failed", slog.Any("error", err))
				continue
			}
			if recovered > 0 {
				w.logger.Warn("recovered stale jobs", slog.Int64("count", recovered))
			}
		}
	}
}

// retentionSweep deletes terminal jobs and history rows older than the
// configured retention age at each firing of the CleanupCron schedule.
func (w *Worker) retentionSweep() {
	defer w.wg.Done()

	for {
		timer := time.NewTimer(time.Until(w.retentionSchedule.Next(time.Now())))
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			cutoff := time.Now().Add(-w.cfg.RetentionAge)
			if n, err := w.jobRepo.DeleteCompleted(w.ctx, cutoff); err != nil {
				w.logger.Error("job retention sweep failed", slog.Any("error", err))
			} else if n > 0 {
				w.logger.Info("pruned old jobs", slog.Int64("count", n))
			}
			if n, err := w.jobRepo.DeleteHistory(w.ctx, cutoff); err != nil {
				w.logger.Error("history retention sweep failed", slog.Any("error", err))
			} else if n > 0 {
				w.logger.Info("pruned old job history", slog.Int64("count", n))
			}
		}
	}
}
