package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
)

func TestPipeline_RunVideoJobEndToEnd(t *testing.T) {
	repo := newFakeJobRepository()
	w, paths := newTestWorker(t, repo)

	hint := writeSourceFile(t, paths, "movie", "feature.mkv", make([]byte, 4096))
	job := &models.Job{Title: "A Great Movie", SourceHint: hint}
	require.NoError(t, repo.Insert(context.Background(), job))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	pollUntil(t, 5*time.Second, func() bool {
		status := repo.get(job.ID).Status
		return status != models.JobStatusPending && status != models.JobStatusRunning
	})

	finished := repo.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)
	require.NotNil(t, finished.Classification)
	assert.Equal(t, models.ClassificationMovie, *finished.Classification)
	require.NotNil(t, finished.EncoderFamily)
	assert.Equal(t, models.EncoderFamilySoftX264, *finished.EncoderFamily)
	require.NotNil(t, finished.OutputPath)
	assert.FileExists(t, *finished.OutputPath)
	assert.Contains(t, *finished.OutputPath, "movies")
}

func TestPipeline_RunAudioShortcutCopiesWithoutDeletingSource(t *testing.T) {
	repo := newFakeJobRepository()
	w, paths := newTestWorker(t, repo)
	w.cfg.DeleteSource = false

	hint := writeSourceFile(t, paths, "album", "track.flac", []byte("some audio data"))
	job := &models.Job{Title: "Some Album", SourceHint: hint}
	require.NoError(t, repo.Insert(context.Background(), job))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	pollUntil(t, 5*time.Second, func() bool {
		status := repo.get(job.ID).Status
		return status != models.JobStatusPending && status != models.JobStatusRunning
	})

	finished := repo.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, finished.Status)
	assert.DirExists(t, filepath.Join(paths.sourceRoot, hint))
	assert.FileExists(t, filepath.Join(paths.completedRoot, "audio", hint, "track.flac"))
}

func TestPipeline_FailsWithMissingKindWhenSourceHintDoesNotResolve(t *testing.T) {
	repo := newFakeJobRepository()
	w, _ := newTestWorker(t, repo)

	job := &models.Job{Title: "Ghost", SourceHint: "does-not-exist"}
	require.NoError(t, repo.Insert(context.Background(), job))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	pollUntil(t, 5*time.Second, func() bool {
		status := repo.get(job.ID).Status
		return status != models.JobStatusPending && status != models.JobStatusRunning
	})

	finished := repo.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	require.NotNil(t, finished.ErrorKind)
	assert.Equal(t, models.ErrorKindMissing, *finished.ErrorKind)
}

func TestPipeline_FailsWithNoSpaceKindWhenAdmitRejects(t *testing.T) {
	repo := newFakeJobRepository()
	w, paths := newTestWorker(t, repo)
	w.cfg.MinimumFreeSpaceGB = 1e9 // impossible to satisfy

	hint := writeSourceFile(t, paths, "movie", "feature.mkv", make([]byte, 4096))
	job := &models.Job{Title: "Too Big", SourceHint: hint}
	require.NoError(t, repo.Insert(context.Background(), job))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	pollUntil(t, 5*time.Second, func() bool {
		status := repo.get(job.ID).Status
		return status != models.JobStatusPending && status != models.JobStatusRunning
	})

	finished := repo.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	require.NotNil(t, finished.ErrorKind)
	assert.Equal(t, models.ErrorKindNoSpace, *finished.ErrorKind)
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "Foo   Bar\tBaz", "Foo Bar Baz"},
		{"replaces reserved characters", `Foo: Bar/Baz?`, "Foo_ Bar_Baz_"},
		{"strips control characters", "Foo\x01Bar", "FooBar"},
		{"trims surrounding whitespace", "  Foo  ", "Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanTitle(tc.in))
		})
	}

	t.Run("truncates to 240 runes", func(t *testing.T) {
		long := make([]rune, 300)
		for i := range long {
			long[i] = 'a'
		}
		got := cleanTitle(string(long))
		assert.Len(t, []rune(got), 240)
	})
}

func TestListSourceFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mkv"), make([]byte, 10), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.srt"), make([]byte, 5), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), make([]byte, 3), 0o640))

	names, totalSize, err := listSourceFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.mkv", "b.srt"}, names)
	assert.Equal(t, int64(18), totalSize)
}

func TestPickPrimaryVideoFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.mkv"), make([]byte, 10), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.mkv"), make([]byte, 1000), 0o640))

	picked, err := pickPrimaryVideoFile(dir, []string{"sample.mkv", "feature.mkv"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "feature.mkv"), picked)
}

func TestPickPrimaryVideoFile_ErrorsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()
	_, err := pickPrimaryVideoFile(dir, []string{"missing.mkv"})
	assert.Error(t, err)
}
