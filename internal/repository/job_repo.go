package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Insert creates a new job in PENDING status.
func (r *jobRepo) Insert(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// List retrieves jobs matching the filter, newest first.
func (r *jobRepo) List(ctx context.Context, filter JobListFilter) ([]*models.Job, int64, error) {
	var jobs []*models.Job
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Job{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	if err := query.Order("created_at DESC").Offset(filter.Offset).Limit(limit).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}

	return jobs, total, nil
}

// GetRunning retrieves all currently RUNNING jobs.
func (r *jobRepo) GetRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).Where("status = ?", models.JobStatusRunning).
		Order("started_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting running jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically selects the oldest PENDING job and transitions it to
// RUNNING under workerID, using SELECT ... FOR UPDATE SKIP LOCKED so that a
// single instance configured with MAX_CONCURRENT > 1 cannot double-claim a
// row, and so a crashed claim never blocks the next poll.
func (r *jobRepo) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.JobStatusPending).
			Order("created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			return err
		}

		job.MarkRunning(workerID)

		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("claiming job: %w", err)
		}
		return nil
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	return &job, nil
}

// UpdateProgress persists a progress percentage for a RUNNING job and
// refreshes locked_at, since this is the only signal the stale-lock sweep
// has that a long-running subprocess is still alive: a transcode can
// legitimately run for many hours, far past any reasonable lock window, so
// RecoverOrphans must see the lock age reset on every commit rather than
// judging liveness from the one-time MarkRunning timestamp.
func (r *jobRepo) UpdateProgress(ctx context.Context, id uint, progress float64) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ? AND status = ?", id, models.JobStatusRunning).
		UpdateColumns(map[string]interface{}{
			"progress":   progress,
			"locked_at":  now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("updating job progress: %w", result.Error)
	}
	return nil
}

// Finish persists a job's terminal (or requeued-pending) state and, when the
// job is in a terminal state, appends a JobHistory row in the same transaction.
func (r *jobRepo) Finish(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(job).Error; err != nil {
			return fmt.Errorf("finishing job: %w", err)
		}
		if job.IsTerminal() {
			history := models.NewHistoryFromJob(job)
			if err := tx.Create(history).Error; err != nil {
				return fmt.Errorf("recording job history: %w", err)
			}
		}
		return nil
	})
}

// Requeue resets a FAILED job back to PENDING, bumping retry_count.
func (r *jobRepo) Requeue(ctx context.Context, id uint, maxRetries int) (*models.Job, error) {
	var job models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}
		if !job.CanRetry(maxRetries) {
			return models.ErrJobNotRetryable
		}
		job.Requeue()
		return tx.Save(&job).Error
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}

	return &job, nil
}

// Cancel transitions a PENDING or RUNNING job to CANCELLED.
func (r *jobRepo) Cancel(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}
		if job.IsTerminal() {
			return fmt.Errorf("cannot cancel job in status %s", job.Status)
		}
		job.MarkCancelled()
		return tx.Save(&job).Error
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}

	if job.IsTerminal() {
		history := models.NewHistoryFromJob(&job)
		if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
			return nil, fmt.Errorf("recording cancellation history: %w", err)
		}
	}

	return &job, nil
}

// Delete removes a job row, refusing to delete one that is RUNNING.
func (r *jobRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Where("id = ?", id).First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrJobNotFound
			}
			return err
		}
		if job.Status == models.JobStatusRunning {
			return models.ErrJobStillRunning
		}
		if err := tx.Delete(&models.Job{}, id).Error; err != nil {
			return fmt.Errorf("deleting job: %w", err)
		}
		return nil
	})
}

// DeleteCompleted deletes terminal jobs older than the given time.
func (r *jobRepo) DeleteCompleted(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled, before).
		Delete(&models.Job{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting completed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecoverOrphans resets RUNNING jobs whose lock predates cutoff back to
// PENDING, for use at startup and by the periodic stale-lock sweep.
func (r *jobRepo) RecoverOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	var orphans []*models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, cutoff).
		Find(&orphans).Error; err != nil {
		return 0, fmt.Errorf("finding orphaned jobs: %w", err)
	}

	var recovered int64
	for _, job := range orphans {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			job.RequeueInterrupted(models.ErrorKindInterrupted)
			if err := tx.Save(job).Error; err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return recovered, fmt.Errorf("recovering orphaned job %d: %w", job.ID, err)
		}
		recovered++
	}

	return recovered, nil
}

// Stats computes aggregate counts across all statuses.
func (r *jobRepo) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}
	since := time.Now().Add(-24 * time.Hour)

	type countRow struct {
		Status models.JobStatus
		Count  int64
	}
	var rows []countRow
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("computing job stats: %w", err)
	}

	for _, row := range rows {
		switch row.Status {
		case models.JobStatusPending:
			stats.Pending = row.Count
		case models.JobStatusRunning:
			stats.Running = row.Count
		case models.JobStatusCompleted:
			stats.Completed = row.Count
		case models.JobStatusFailed:
			stats.Failed = row.Count
		case models.JobStatusCancelled:
			stats.Cancelled = row.Count
		}
	}

	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND completed_at >= ?", models.JobStatusCompleted, since).
		Count(&stats.CompletedLast24h).Error; err != nil {
		return nil, fmt.Errorf("computing completed-last-24h: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND completed_at >= ?", models.JobStatusFailed, since).
		Count(&stats.FailedLast24h).Error; err != nil {
		return nil, fmt.Errorf("computing failed-last-24h: %w", err)
	}

	stats.TotalProcessed = stats.Completed + stats.Failed + stats.Cancelled

	var avg *float64
	if err := r.db.WithContext(ctx).Model(&models.JobHistory{}).
		Where("status = ? AND duration_ms IS NOT NULL", models.JobStatusCompleted).
		Select("avg(duration_ms)").
		Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("computing average job duration: %w", err)
	}
	stats.AvgDurationMs = avg

	return stats, nil
}

// GetHistory retrieves history rows for a job, newest first.
func (r *jobRepo) GetHistory(ctx context.Context, jobID uint, offset, limit int) ([]*models.JobHistory, int64, error) {
	var history []*models.JobHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&models.JobHistory{}).Where("job_id = ?", jobID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting job history: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}

	if err := query.Order("recorded_at DESC").Offset(offset).Limit(limit).Find(&history).Error; err != nil {
		return nil, 0, fmt.Errorf("getting job history: %w", err)
	}

	return history, total, nil
}

// DeleteHistory deletes history rows recorded before the given time.
func (r *jobRepo) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("recorded_at < ?", before).
		Delete(&models.JobHistory{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting job history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
