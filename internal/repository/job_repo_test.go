package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Job{}, &models.JobHistory{})
	require.NoError(t, err)

	return db
}

func TestJobRepo_InsertAndGetByID(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{
		Title:      "Test Movie",
		SourceHint: "/mnt/arm/Test Movie",
		Status:     models.JobStatusPending,
	}

	err := repo.Insert(ctx, job)
	require.NoError(t, err)
	assert.NotZero(t, job.ID)

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.Title, found.Title)
	assert.Equal(t, job.SourceHint, found.SourceHint)

	t.Run("non-existent job", func(t *testing.T) {
		found, err := repo.GetByID(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestJobRepo_List(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	jobs := []*models.Job{
		{Title: "A", SourceHint: "/a", Status: models.JobStatusPending},
		{Title: "B", SourceHint: "/b", Status: models.JobStatusRunning},
		{Title: "C", SourceHint: "/c", Status: models.JobStatusCompleted},
	}
	for _, job := range jobs {
		require.NoError(t, repo.Insert(ctx, job))
	}

	t.Run("no filter returns all", func(t *testing.T) {
		results, total, err := repo.List(ctx, JobListFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, results, 3)
	})

	t.Run("filtered by status", func(t *testing.T) {
		status := models.JobStatusRunning
		results, total, err := repo.List(ctx, JobListFilter{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, results, 1)
		assert.Equal(t, "B", results[0].Title)
	})

	t.Run("with pagination", func(t *testing.T) {
		results, total, err := repo.List(ctx, JobListFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, results, 2)
	})
}

func TestJobRepo_GetRunning(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	jobs := []*models.Job{
		{Title: "Running 1", SourceHint: "/a", Status: models.JobStatusRunning},
		{Title: "Running 2", SourceHint: "/b", Status: models.JobStatusRunning},
		{Title: "Pending", SourceHint: "/c", Status: models.JobStatusPending},
	}
	for _, job := range jobs {
		require.NoError(t, repo.Insert(ctx, job))
	}

	running, err := repo.GetRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}

func TestJobRepo_ClaimNext(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job1 := &models.Job{Title: "First", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job1))
	job2 := &models.Job{Title: "Second", SourceHint: "/b", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job2))

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job1.ID, claimed.ID)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	assert.Equal(t, "worker-1", claimed.LockedBy)

	claimed2, err := repo.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, job2.ID, claimed2.ID)

	claimed3, err := repo.ClaimNext(ctx, "worker-3")
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestJobRepo_UpdateProgress(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))
	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, claimed.ID, 42.5))

	found, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.5, found.Progress)
}

func TestJobRepo_Finish(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))
	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	claimed.MarkCompleted("/media/output/x.mkv")
	require.NoError(t, repo.Finish(ctx, claimed))

	found, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, found.Status)

	history, total, err := repo.GetHistory(ctx, claimed.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, history, 1)
	assert.Equal(t, models.JobStatusCompleted, history[0].Status)
}

func TestJobRepo_Requeue(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))
	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	claimed.MarkFailed(models.ErrorKindEncode, assert.AnError)
	require.NoError(t, repo.Finish(ctx, claimed))

	t.Run("retryable", func(t *testing.T) {
		requeued, err := repo.Requeue(ctx, claimed.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, requeued.Status)
		assert.Equal(t, 1, requeued.RetryCount)
	})

	t.Run("exhausted retries", func(t *testing.T) {
		found, err := repo.GetByID(ctx, claimed.ID)
		require.NoError(t, err)
		found.MarkRunning("worker-2")
		found.MarkFailed(models.ErrorKindEncode, assert.AnError)
		found.RetryCount = 3
		require.NoError(t, repo.Finish(ctx, found))

		_, err = repo.Requeue(ctx, claimed.ID, 3)
		assert.ErrorIs(t, err, models.ErrJobNotRetryable)
	})
}

func TestJobRepo_Cancel(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))

	cancelled, err := repo.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	t.Run("already terminal", func(t *testing.T) {
		_, err := repo.Cancel(ctx, job.ID)
		assert.Error(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Cancel(ctx, 999999)
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})
}

func TestJobRepo_Delete(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))

	err := repo.Delete(ctx, job.ID)
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	t.Run("refuses to delete running job", func(t *testing.T) {
		running := &models.Job{Title: "Y", SourceHint: "/b", Status: models.JobStatusPending}
		require.NoError(t, repo.Insert(ctx, running))
		claimed, err := repo.ClaimNext(ctx, "worker-1")
		require.NoError(t, err)

		err = repo.Delete(ctx, claimed.ID)
		assert.ErrorIs(t, err, models.ErrJobStillRunning)
	})
}

func TestJobRepo_DeleteCompleted(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	oldTime := now.Add(-48 * time.Hour)
	recentTime := now.Add(-time.Hour)

	jobs := []*models.Job{
		{Title: "A", SourceHint: "/a", Status: models.JobStatusCompleted, CompletedAt: &oldTime},
		{Title: "B", SourceHint: "/b", Status: models.JobStatusFailed, CompletedAt: &oldTime},
		{Title: "C", SourceHint: "/c", Status: models.JobStatusCompleted, CompletedAt: &recentTime},
		{Title: "D", SourceHint: "/d", Status: models.JobStatusPending},
	}
	for _, job := range jobs {
		require.NoError(t, repo.Insert(ctx, job))
	}

	cutoff := now.Add(-24 * time.Hour)
	deleted, err := repo.DeleteCompleted(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, total, err := repo.List(ctx, JobListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestJobRepo_RecoverOrphans(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))
	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	staleTime := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", claimed.ID).
		UpdateColumn("locked_at", staleTime).Error)

	recovered, err := repo.RecoverOrphans(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	found, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, found.Status)
	assert.Empty(t, found.LockedBy)
}

func TestJobRepo_Stats(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	jobs := []*models.Job{
		{Title: "A", SourceHint: "/a", Status: models.JobStatusPending},
		{Title: "B", SourceHint: "/b", Status: models.JobStatusRunning},
		{Title: "C", SourceHint: "/c", Status: models.JobStatusCompleted},
		{Title: "D", SourceHint: "/d", Status: models.JobStatusFailed},
		{Title: "E", SourceHint: "/e", Status: models.JobStatusCancelled},
	}
	for _, job := range jobs {
		require.NoError(t, repo.Insert(ctx, job))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Cancelled)
}

func TestJobRepo_DeleteHistory(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Title: "X", SourceHint: "/a", Status: models.JobStatusPending}
	require.NoError(t, repo.Insert(ctx, job))

	old := models.NewHistoryFromJob(&models.Job{ID: job.ID, Status: models.JobStatusFailed})
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Model(old).UpdateColumn("recorded_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	recent := models.NewHistoryFromJob(&models.Job{ID: job.ID, Status: models.JobStatusCompleted})
	require.NoError(t, db.Create(recent).Error)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := repo.DeleteHistory(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, total, err := repo.GetHistory(ctx, job.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
