package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/api"
	"github.com/mhdmirzan/pose-estimation/internal/config"
	"github.com/mhdmirzan/pose-estimation/internal/inference"
	"github.com/mhdmirzan/pose-estimation/internal/metrics"
	"github.com/mhdmirzan/pose-estimation/internal/samples"
	"github.com/mhdmirzan/pose-estimation/internal/store"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
	"github.com/mhdmirzan/pose-estimation/internal/worker"
	"github.com/spf13/cobra"
)

var serveOpts struct {
	Addr       string
	Engines    int
	SamplesDir string
	WorkerCmd  string
}

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the pose estimation HTTP API",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadServer()
		applyServeFlags(cmd, cfg)
		runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Addr, "addr", "a", "", "Listen address (env SERVER_ADDR, default :8000)")
	serveCmd.Flags().IntVarP(&serveOpts.Engines, "engines", "e", 0, "Number of parallel pose engine workers (env ENGINES)")
	serveCmd.Flags().StringVarP(&serveOpts.SamplesDir, "samples", "s", "", "Directory holding images/ and videos/ samples (env SAMPLES_DIR)")
	serveCmd.Flags().StringVar(&serveOpts.WorkerCmd, "worker-cmd", "", "Command that starts one pose worker (env WORKER_CMD)")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags lets explicitly set flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Server) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = serveOpts.Addr
	}
	if f.Changed("engines") {
		cfg.Engines = serveOpts.Engines
	}
	if f.Changed("samples") {
		cfg.SamplesDir = serveOpts.SamplesDir
	}
	if f.Changed("worker-cmd") {
		name, args, err := utils.ParseCommandLine(serveOpts.WorkerCmd)
		if err != nil {
			utils.Die("Invalid --worker-cmd", err, nil)
		}
		cfg.WorkerCommand = append([]string{name}, args...)
	}
	if cfg.Engines < 1 {
		utils.Die("Invalid engine count", fmt.Errorf("--engines must be at least 1, got %d", cfg.Engines), nil)
	}
}

func runServe(ctx context.Context, cfg *config.Server) {
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Pose Engines...\n", cfg.Engines)
	pool, err := worker.NewPool(ctx, cfg.Engines, worker.PythonSpawner(worker.Config{
		Command:     cfg.WorkerCommand,
		ReadTimeout: cfg.FrameTimeout,
	}), logger.With("component", "pool"))
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	defer pool.Close()

	engine := inference.NewEngine(pool, inference.Config{
		MaxDimension:    cfg.MaxImageDimension,
		ProcessingLimit: cfg.VideoProcessingLimit,
		Concurrency:     pool.Size(),
	}, logger)

	var runs store.Recorder = store.Nop{}
	if DB != nil {
		runs = DB
		fmt.Fprintln(os.Stderr, "🗄️  Recording runs to PostgreSQL")
	}

	handler := api.NewHandler(engine, samples.NewCatalog(cfg.SamplesDir), runs, metrics.New(), api.Config{
		UploadDir:     cfg.UploadDir,
		ResultsDir:    cfg.ResultsDir,
		MaxImageBytes: cfg.MaxImageBytes,
		MaxVideoBytes: cfg.MaxVideoBytes,
		ModelName:     cfg.ModelName,
	}, logger)
	e := api.NewServer(handler, max(cfg.MaxImageBytes, cfg.MaxVideoBytes), logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "model", cfg.ModelName)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		utils.Die("Server failed", err, nil)
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "\n🛑 Shutting down...")
	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		utils.ShowError("Forced shutdown", err, nil)
	}
}
