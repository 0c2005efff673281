// Package tests drives the HTTP surface end to end against a real SQLite
// file, the way blackbox_test.go in the reference repo exercises a running
// server rather than calling handler methods directly.
package tests

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/admission"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/config"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/database"
	internalhttp "github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/handlers"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/middleware"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/worker"
)

// testServer bundles a running httptest.Server with the collaborators tests
// need to reach past the HTTP surface and assert on persisted state.
type testServer struct {
	*httptest.Server
	jobs   repository.JobRepository
	worker *worker.Worker
}

// newTestServer wires the same collaborators cmd/transcoder/cmd/serve.go
// does, minus config-file/env loading, against a real SQLite file under
// t.TempDir() rather than ":memory:" so migrations, connection pooling, and
// file-based locking all behave the way they do in production. The worker
// is constructed but never started: every handler under test only calls
// Alive/WorkerID/PollInterval/CancelJob, all safe on an unstarted Worker,
// and leaving it unstarted keeps job rows from being claimed out from under
// assertions that expect them to stay PENDING.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	dbCfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             filepath.Join(tmpDir, "transcoder.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "silent",
	}

	db, err := database.New(dbCfg, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))

	jobRepo := repository.NewJobRepository(db.DB)

	binaries := &commandguard.Binaries{
		FFmpegPath:  filepath.Join(tmpDir, "bin", "ffmpeg"),
		FFprobePath: filepath.Join(tmpDir, "bin", "ffprobe"),
	}

	baseParams, validation := commandguard.Validate(commandguard.Params{
		VideoEncoder: "libx264",
		AudioEncoder: "copy",
		SubtitleMode: "none",
		Quality:      20,
		Preset:       "medium",
	})
	require.True(t, validation.Valid, "encoding params: %v", validation.Errors)

	prober := probe.NewProber(binaries.FFprobePath)
	gpuDetector := probe.NewGPUDetector(binaries.FFmpegPath, "")

	workerCfg := worker.Config{
		WorkerID:      "test-worker",
		SourceRoot:    filepath.Join(tmpDir, "raw"),
		WorkRoot:      filepath.Join(tmpDir, "work"),
		CompletedRoot: filepath.Join(tmpDir, "completed"),
	}

	w, err := worker.New(workerCfg, jobRepo, prober, gpuDetector, binaries, *baseParams, "")
	require.NoError(t, err)
	w = w.WithLogger(logger)

	serverConfig := internalhttp.DefaultServerConfig()
	server := internalhttp.NewServer(serverConfig, logger, "test")

	keys := middleware.NewKeyStore("")

	healthHandler := handlers.NewHealthHandler(jobRepo, w)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobRepo, w, keys, false, 3)
	jobHandler.Register(server.API())

	admissionHandler := admission.NewHandler(jobRepo, "")
	admissionHandler.Register(server.API())

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, jobs: jobRepo, worker: w}
}

// testWriter adapts testing.T.Logf to an io.Writer for the server's logger,
// so failures print request handling context inline with the test output.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
