package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sync/errgroup"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/executor"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/planner"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/stabilizer"
)

// runJob drives one claimed job through RESOLVING, STABILIZING, ADMIT,
// PLANNING, EXECUTING, and PUBLISHING/CLEANUP, persisting the outcome at
// every exit point. It never returns an error: every failure is recorded on
// the job itself.
func (w *Worker) runJob(job *models.Job) {
	ctx, cancel := context.WithCancel(w.ctx)
	w.registerJobCancel(job.ID, cancel)
	defer func() {
		w.unregisterJobCancel(job.ID)
		cancel()
	}()

	if err := w.resolve(job); err != nil {
		w.fail(ctx, job, models.ErrorKindMissing, err)
		return
	}

	if err := w.stabilizer.Wait(ctx, *job.SourceResolved); err != nil {
		if errors.Is(err, context.Canceled) {
			w.handleCancellation(job)
			return
		}
		kind := models.ErrorKindUnstable
		if errors.Is(err, stabilizer.ErrSourceMissing) {
			kind = models.ErrorKindMissing
		}
		w.fail(ctx, job, kind, err)
		return
	}

	sourceFiles, sourceSize, err := listSourceFiles(*job.SourceResolved)
	if err != nil {
		w.fail(ctx, job, models.ErrorKindMissing, err)
		return
	}
	if len(sourceFiles) == 0 {
		w.fail(ctx, job, models.ErrorKindMissing, fmt.Errorf("source directory contains no files"))
		return
	}

	if err := w.admit(ctx, sourceSize); err != nil {
		w.fail(ctx, job, models.ErrorKindNoSpace, err)
		return
	}

	classification := planner.Classify(sourceFiles, job.SourceHint)
	job.Classification = &classification

	if classification == models.ClassificationAudio {
		w.runAudioShortcut(ctx, job, sourceFiles)
		return
	}

	w.runVideoJob(ctx, job, sourceFiles, classification)
}

// resolve validates and canonicalizes the job's source hint against the
// configured source root, recording the resolved absolute path on the job.
// PathGuard's existence check doubles as this step's not-found detection,
// since Stabilizer has nothing to hash until the directory exists.
func (w *Worker) resolve(job *models.Job) error {
	resolved, err := w.pathGuard.Resolve(w.cfg.SourceRoot, job.SourceHint)
	if err != nil {
		return fmt.Errorf("resolving source path: %w", err)
	}
	job.SourceResolved = &resolved
	return nil
}

// admit checks that the work filesystem has enough free space for a
// transcode of sourceSize bytes, per SPEC_FULL.md §4.7's ADMIT formula.
func (w *Worker) admit(ctx context.Context, sourceSize int64) error {
	usage, err := disk.UsageWithContext(ctx, w.cfg.WorkRoot)
	if err != nil {
		return fmt.Errorf("querying free space: %w", err)
	}

	required := float64(sourceSize)*0.6 + w.cfg.MinimumFreeSpaceGB*1e9
	if float64(usage.Free) < required {
		return fmt.Errorf("insufficient free space: have %d bytes, need %.0f bytes", usage.Free, required)
	}
	return nil
}

// runAudioShortcut implements the audio-only copy-publish path: each source
// file is copied, not moved, into completed_root/audio/<cleaned_title>/.
func (w *Worker) runAudioShortcut(ctx context.Context, job *models.Job, sourceFiles []string) {
	destDir := filepath.Join("audio", cleanTitle(job.SourceHint))

	for _, name := range sourceFiles {
		if err := w.copyIntoCompleted(*job.SourceResolved, name, destDir); err != nil {
			w.fail(ctx, job, models.ErrorKindPublish, fmt.Errorf("copying %s: %w", name, err))
			return
		}
	}

	if w.cfg.DeleteSource {
		if err := os.RemoveAll(*job.SourceResolved); err != nil {
			w.logger.Error("non-fatal: failed to delete source directory",
				slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		}
	}

	outputPath, err := w.completed.ResolvePath(destDir)
	if err != nil {
		outputPath = destDir
	}
	job.MarkCompleted(outputPath)
	w.finish(ctx, job)
}

// copyIntoCompleted copies one file from the source directory into a
// subdirectory of completed_root, without touching the source.
func (w *Worker) copyIntoCompleted(sourceDir, name, destDir string) error {
	src, err := os.Open(filepath.Join(sourceDir, name))
	if err != nil {
		return err
	}
	defer src.Close()

	return w.completed.AtomicWriteReader(filepath.Join(destDir, name), src)
}

// runVideoJob implements the PLANNING/EXECUTING/PUBLISHING path for a
// MOVIE or TV job.
func (w *Worker) runVideoJob(ctx context.Context, job *models.Job, sourceFiles []string, classification models.Classification) {
	mediaPath, err := pickPrimaryVideoFile(*job.SourceResolved, sourceFiles)
	if err != nil {
		w.fail(ctx, job, models.ErrorKindMissing, err)
		return
	}

	// ffprobe inspection and GPU capability detection touch different
	// subprocesses and don't depend on each other; run them concurrently.
	var mediaInfo *probe.MediaInfo
	var caps *probe.Capabilities
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := w.prober.Inspect(gctx, mediaPath)
		if err != nil {
			return fmt.Errorf("probing source: %w", err)
		}
		mediaInfo = info
		return nil
	})
	g.Go(func() error {
		caps = w.gpuDetector.Detect(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		w.fail(ctx, job, models.ErrorKindEncode, err)
		return
	}

	family, videoEncoder, fellBack := w.resolveFamily(caps)
	job.EncoderFamily = &family
	if fellBack {
		w.logger.Warn("configured video_encoder unavailable on this host, falling back to software x265",
			slog.Uint64("job_id", uint64(job.ID)), slog.String("configured", string(w.baseParams.VideoEncoder)))
	}

	params := w.baseParams
	params.VideoEncoder = videoEncoder
	if mediaInfo.Resolution == probe.ResolutionUHD && w.preset4K != "" {
		params.Preset = w.preset4K
	}

	workDir := filepath.Join(w.cfg.WorkRoot, fmt.Sprintf("job-%d", job.ID))
	defer os.RemoveAll(workDir)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		w.fail(ctx, job, models.ErrorKindEncode, fmt.Errorf("creating scratch work directory: %w", err))
		return
	}
	scratchOutput := filepath.Join(workDir, "output.mkv")

	plan, err := planner.BuildPlan(planner.Input{
		SourcePath:  mediaPath,
		DestPath:    scratchOutput,
		Family:      family,
		Resolution:  mediaInfo.Resolution,
		Params:      params,
		Binaries:    w.binaries,
		VAAPIDevice: w.cfg.VAAPIDevice,
	})
	if err != nil {
		w.fail(ctx, job, models.ErrorKindEncode, fmt.Errorf("building encode plan: %w", err))
		return
	}

	tool := executor.ToolVideoToolA
	if w.binaries.HasNVENCTool() && plan.Tool == w.binaries.NVENCToolPath {
		tool = executor.ToolVideoToolB
	}

	result, sampler := w.execute(ctx, job, plan, tool, time.Duration(mediaInfo.DurationSeconds*float64(time.Second)))
	if sampler != nil {
		summary := sampler.Summary()
		w.logger.Info("transcode resource usage",
			slog.Uint64("job_id", uint64(job.ID)),
			slog.Float64("peak_cpu_percent", summary.PeakCPU),
			slog.Uint64("peak_rss_bytes", summary.PeakRSS))
	}

	if result == nil {
		w.fail(ctx, job, models.ErrorKindEncode, fmt.Errorf("failed to run encoder"))
		return
	}
	if result.Cancelled {
		w.handleCancellation(job)
		return
	}
	if result.ExitCode != 0 {
		w.fail(ctx, job, models.ErrorKindEncode,
			fmt.Errorf("encoder exited with status %d: %s", result.ExitCode, result.StderrTail))
		return
	}

	w.publish(ctx, job, classification, scratchOutput)
}

// execute runs the planned command through Executor, attaching a
// ResourceSampler to the child for the duration of the run. Sampling is
// advisory and failures to attach are ignored.
func (w *Worker) execute(ctx context.Context, job *models.Job, plan *planner.Plan, tool executor.Tool, sourceDuration time.Duration) (*executor.Result, *probe.ResourceSampler) {
	var sampler *probe.ResourceSampler

	var lastCommitted float64 = -1
	var lastCommitTime time.Time

	result, err := w.executor.Run(ctx, executor.Request{
		Argv:           append([]string{plan.Tool}, plan.Argv...),
		Tool:           tool,
		SourceDuration: sourceDuration,
		OnProgress: func(p executor.Progress) {
			if p.PercentComplete < 0 {
				return
			}
			// Throttle commits: an encoder can emit a progress line every
			// few hundred milliseconds, far more often than the store needs
			// to persist it. A row is written only on a meaningful jump, on
			// completion, or once enough time has passed since the last
			// write.
			due := p.PercentComplete >= 100 ||
				p.PercentComplete >= lastCommitted+5.0 ||
				time.Since(lastCommitTime) >= 10*time.Second
			if !due {
				return
			}
			if uerr := w.jobRepo.UpdateProgress(ctx, job.ID, p.PercentComplete); uerr != nil {
				w.logger.Debug("progress update failed", slog.Any("error", uerr))
				return
			}
			lastCommitted = p.PercentComplete
			lastCommitTime = time.Now()
		},
		OnStart: func(pid int) {
			s, serr := probe.NewResourceSampler(int32(pid))
			if serr != nil {
				return
			}
			sampler = s
			sampler.Start(ctx)
		},
	})
	if sampler != nil {
		sampler.Stop()
	}
	if err != nil {
		w.logger.Error("executor run failed", slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		return nil, sampler
	}
	return result, sampler
}

// publish atomically moves the scratch output into completed_root under the
// classification's subdirectory, then runs CLEANUP.
func (w *Worker) publish(ctx context.Context, job *models.Job, classification models.Classification, scratchOutput string) {
	destRel := filepath.Join(planner.DestinationSubdir(classification), cleanTitle(job.SourceHint)+".mkv")

	if err := w.completed.AtomicPublish(scratchOutput, destRel); err != nil {
		w.fail(ctx, job, models.ErrorKindPublish, fmt.Errorf("publishing output: %w", err))
		return
	}

	outputPath, err := w.completed.ResolvePath(destRel)
	if err != nil {
		outputPath = destRel
	}

	if w.cfg.DeleteSource {
		if err := os.RemoveAll(*job.SourceResolved); err != nil {
			w.logger.Error("non-fatal: failed to delete source directory",
				slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		}
	}

	job.MarkCompleted(outputPath)
	w.finish(ctx, job)
}

// resolveFamily picks the encoder family to use for a job: the family
// implied by the globally configured video_encoder if the GPU detector
// reports it available, or SOFT_X265 with a caller-visible warning
// otherwise, per SPEC_FULL.md §4.5's advisory-detection fallback rule.
func (w *Worker) resolveFamily(caps *probe.Capabilities) (models.EncoderFamily, commandguard.VideoEncoder, bool) {
	desired := planner.FamilyForVideoEncoder(w.baseParams.VideoEncoder)

	available := true
	switch desired {
	case models.EncoderFamilyNVENC:
		available = caps.NVENC
	case models.EncoderFamilyVAAPI:
		available = caps.VAAPI
	case models.EncoderFamilyAMF:
		available = caps.AMF
	case models.EncoderFamilyQSV:
		available = caps.QSV
	}

	if available {
		return desired, w.baseParams.VideoEncoder, false
	}
	return models.EncoderFamilySoftX265, commandguard.VideoEncoderX265, true
}

// pickPrimaryVideoFile selects the largest file in the source directory as
// the main feature to transcode. Disc rips and box-mount drops may contain
// extras or sample files alongside the main title; size is the simplest
// reliable signal for which one is the feature.
func pickPrimaryVideoFile(dir string, names []string) (string, error) {
	var best string
	var bestSize int64 = -1

	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			best = name
		}
	}
	if best == "" {
		return "", fmt.Errorf("no usable source file found")
	}
	return filepath.Join(dir, best), nil
}

// fail records a FAILED outcome with the given taxonomy kind and persists it.
func (w *Worker) fail(ctx context.Context, job *models.Job, kind models.ErrorKind, err error) {
	w.logger.Error("job failed",
		slog.Uint64("job_id", uint64(job.ID)), slog.String("kind", string(kind)), slog.Any("error", err))
	job.MarkFailed(kind, err)
	w.finish(ctx, job)
}

// handleCancellation runs once a cancelled job's context has unwound, and
// tells apart the two sources of that cancellation per SPEC_FULL.md §4.9:
// if the worker's own root context is also cancelled, the process is
// shutting down and the job goes back to PENDING without consuming a retry
// attempt; otherwise only this job's context was cancelled, which happens
// exclusively through the operator-initiated cancel endpoint, and the job
// is marked CANCELLED.
func (w *Worker) handleCancellation(job *models.Job) {
	if w.ctx.Err() != nil {
		job.RequeueInterrupted(models.ErrorKindShutdown)
	} else {
		job.MarkCancelled()
	}
	// ctx is already cancelled here; persist with a fresh background
	// context so the outcome isn't lost along with it.
	if err := w.jobRepo.Finish(context.Background(), job); err != nil {
		w.logger.Error("failed to persist cancelled job", slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
	}
}

// finish persists the job's terminal or requeued state.
func (w *Worker) finish(ctx context.Context, job *models.Job) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := w.jobRepo.Finish(ctx, job); err != nil {
		w.logger.Error("failed to persist job outcome", slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
	}
}
