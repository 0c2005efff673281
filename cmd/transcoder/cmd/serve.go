package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/admission"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/config"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/database"
	internalhttp "github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/handlers"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/http/middleware"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/repository"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/stabilizer"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/version"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcoder job server",
	Long: `Start the transcoder's background worker and its control-plane HTTP API.

The server provides:
- POST /webhook/arm to admit completed rips as durable jobs
- A single background worker driving jobs through the full state machine
- Job inspection, retry, cancel, and delete endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = cfg.Paths.DBPath
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jobRepo := repository.NewJobRepository(db.DB)

	binaries, err := commandguard.ResolveBinaries()
	if err != nil {
		return fmt.Errorf("resolving encoder binaries: %w", err)
	}

	baseParams, validation := commandguard.Validate(commandguard.Params{
		VideoEncoder: cfg.Encoding.VideoEncoder,
		AudioEncoder: cfg.Encoding.AudioEncoder,
		SubtitleMode: cfg.Encoding.SubtitleMode,
		Quality:      cfg.Encoding.VideoQuality,
		Preset:       cfg.Encoding.HandbrakePreset,
	})
	if !validation.Valid {
		return fmt.Errorf("invalid encoding configuration: %v", validation.Errors)
	}

	if cfg.Runtime.MaxConcurrent > 1 {
		logger.Warn("max_concurrent > 1 is not yet supported, the worker claims one job at a time",
			slog.Int("configured", cfg.Runtime.MaxConcurrent))
	}

	prober := probe.NewProber(binaries.FFprobePath)
	gpuDetector := probe.NewGPUDetector(binaries.FFmpegPath, binaries.NVENCToolPath)

	workerCfg := worker.Config{
		WorkerID:      hostnameOrDefault(),
		SourceRoot:    cfg.Paths.RawPath,
		WorkRoot:      cfg.Paths.WorkPath,
		CompletedRoot: cfg.Paths.CompletedPath,
		VAAPIDevice:   cfg.Encoding.VAAPIDevice,

		MinimumFreeSpaceGB: cfg.Runtime.MinimumFreeSpaceGB,
		DeleteSource:       cfg.Runtime.DeleteSource,

		Stabilize: stabilizer.Config{
			StableFor: secondsToDuration(cfg.Runtime.StabilizeSeconds),
		},

		RetentionAge: cfg.Maintenance.CompletedJobRetention.Duration(),
		CleanupCron:  cfg.Maintenance.CleanupCron,
	}

	w, err := worker.New(workerCfg, jobRepo, prober, gpuDetector, binaries, *baseParams, cfg.Encoding.HandbrakePreset4K)
	if err != nil {
		return fmt.Errorf("constructing worker: %w", err)
	}
	w = w.WithLogger(logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	if err := w.Start(workerCtx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	docsHandler := handlers.NewDocsHandler("transcoder API", "/openapi.yaml", handlers.WithSystemTheme())
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	keys := middleware.NewKeyStore(cfg.Auth.APIKeys)

	healthHandler := handlers.NewHealthHandler(jobRepo, w)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobRepo, w, keys, cfg.Auth.RequireAPIAuth, cfg.Runtime.MaxRetryCount)
	jobHandler.Register(server.API())

	admissionHandler := admission.NewHandler(jobRepo, cfg.Auth.WebhookSecret)
	admissionHandler.Register(server.API())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(context.Background())
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		serverCancel()
	}()

	logger.Info("starting transcoder server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(serverCtx)

	logger.Info("stopping worker")
	stopWorker()
	w.Stop()

	return err
}

// hostnameOrDefault returns the local hostname for use as the worker's
// claim identity, falling back to a fixed name if it cannot be determined.
func hostnameOrDefault() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "transcoder-worker"
	}
	return name
}

// secondsToDuration converts a whole-second config value into a
// time.Duration; zero is left as-is since stabilizer.New replaces a
// non-positive StableFor with its own default.
func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
