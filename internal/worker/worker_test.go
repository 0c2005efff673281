package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
)

func TestWorker_StartRejectsDoubleStart(t *testing.T) {
	repo := newFakeJobRepository()
	w, _ := newTestWorker(t, repo)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

func TestWorker_LoopClaimsAndCompletesAudioJob(t *testing.T) {
	repo := newFakeJobRepository()
	w, paths := newTestWorker(t, repo)

	hint := writeSourceFile(t, paths, "album", "track.flac", []byte("fake audio bytes"))
	job := &models.Job{Title: "Test Album", SourceHint: hint}
	require.NoError(t, repo.Insert(context.Background(), job))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	pollUntil(t, 5*time.Second, func() bool {
		return repo.get(job.ID).Status != models.JobStatusPending &&
			repo.get(job.ID).Status != models.JobStatusRunning
	})

	finished := repo.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)
	require.NotNil(t, finished.OutputPath)
	assert.Contains(t, *finished.OutputPath, "audio")
}

func TestWorker_CancelJobReturnsFalseWhenNothingRunning(t *testing.T) {
	repo := newFakeJobRepository()
	w, _ := newTestWorker(t, repo)

	assert.False(t, w.CancelJob(42))
}

func TestWorker_HandleCancellationDistinguishesShutdownFromOperatorCancel(t *testing.T) {
	repo := newFakeJobRepository()
	w, _ := newTestWorker(t, repo)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	w.ctx = rootCtx

	operatorJob := &models.Job{ID: 1, Title: "t", SourceHint: "h", Status: models.JobStatusRunning}
	w.handleCancellation(operatorJob)
	assert.Equal(t, models.JobStatusCancelled, operatorJob.Status)

	rootCancel()

	shutdownJob := &models.Job{ID: 2, Title: "t", SourceHint: "h", Status: models.JobStatusRunning}
	w.handleCancellation(shutdownJob)
	assert.Equal(t, models.JobStatusPending, shutdownJob.Status)
	require.NotNil(t, shutdownJob.ErrorKind)
	assert.Equal(t, models.ErrorKindShutdown, *shutdownJob.ErrorKind)
}
