// Backlogd orchestrates a backlog of coding tasks against a worker
// agent, verifying each claimed result with quality gates and
// finalizing completed runs in version control.
//
// It runs in one of two modes:
//
//	# Job mode: the RUN_CONFIG environment variable carries the full
//	# run configuration as JSON; the process drives the loop to
//	# completion and exits 0 on success, 1 otherwise.
//	RUN_CONFIG='{"taskName":...,"prd":...}' backlogd
//
//	# Service mode (no RUN_CONFIG): an HTTP server performs one
//	# orchestration iteration per request.
//	SERVER_PORT=9090 WORKER_ENDPOINT=worker:8080 backlogd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/config"
	"github.com/fyrsmithlabs/backlogd/internal/dispatch"
	"github.com/fyrsmithlabs/backlogd/internal/finalize"
	"github.com/fyrsmithlabs/backlogd/internal/gates"
	"github.com/fyrsmithlabs/backlogd/internal/logging"
	"github.com/fyrsmithlabs/backlogd/internal/orchestrator"
	"github.com/fyrsmithlabs/backlogd/internal/server"
	"github.com/fyrsmithlabs/backlogd/internal/vcs"
)

// runConfigEnv carries the job mode run configuration.
const runConfigEnv = "RUN_CONFIG"

// resultMarker prefixes the final result line so the surrounding
// controller can extract it from the job logs.
const resultMarker = "ORCHESTRATOR_RESULT:"

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  backlogd           Start the orchestrator\n")
			fmt.Fprintf(os.Stderr, "  backlogd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if os.Getenv(runConfigEnv) != "" {
		os.Exit(runJob(ctx, *configPath))
	}

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("backlogd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runJob drives one full orchestration run from the RUN_CONFIG
// environment variable and returns the process exit code. The final
// result is always printed with the extraction marker, also on
// configuration errors.
func runJob(ctx context.Context, configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		printJobError(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		printJobError(fmt.Sprintf("failed to initialize logger: %v", err))
		return 1
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting backlogd in job mode",
		zap.String("version", version),
		zap.String("workspace", cfg.Workspace))

	var rc orchestrator.RunConfig
	if err := json.Unmarshal([]byte(os.Getenv(runConfigEnv)), &rc); err != nil {
		logger.Error("Failed to parse run configuration", zap.Error(err))
		printJobError(fmt.Sprintf("Invalid %s: %v", runConfigEnv, err))
		return 1
	}

	if err := applyRunDefaults(&rc, cfg); err != nil {
		logger.Error("Invalid run configuration", zap.Error(err))
		printJobError(err.Error())
		return 1
	}

	worker := dispatch.New(rc.WorkerEndpoint, rc.DispatchTimeout.Std(), logger)
	gateRunner := gates.NewRunner(cfg.Workspace, logger)

	var finalizer orchestrator.RunFinalizer
	if rc.Git != nil {
		client, err := vcs.NewGitClient(cfg.Workspace, vcs.Options{
			Remote:     rc.Git.Remote,
			Repository: rc.Git.Repository,
			Token:      rc.Git.Token,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("Version control unavailable, skipping finalization", zap.Error(err))
		} else {
			finalizer = finalize.New(client, *rc.Git, logger)
		}
	}

	loop := orchestrator.NewLoop(rc, worker, gateRunner, finalizer, logger)
	result := loop.Run(ctx)

	raw, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to encode final result", zap.Error(err))
		printJobError(fmt.Sprintf("failed to encode result: %v", err))
		return 1
	}
	fmt.Println(resultMarker + string(raw))

	if result.Passed {
		return 0
	}
	return 1
}

// applyRunDefaults fills run configuration gaps from the daemon
// configuration and validates what job mode cannot run without.
func applyRunDefaults(rc *orchestrator.RunConfig, cfg *config.Config) error {
	if rc.Backlog == nil {
		return fmt.Errorf("run configuration has no backlog")
	}
	if err := rc.Backlog.Validate(); err != nil {
		return fmt.Errorf("invalid backlog: %w", err)
	}
	for _, g := range rc.Gates {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("invalid quality gate: %w", err)
		}
	}

	if rc.WorkerEndpoint == "" {
		rc.WorkerEndpoint = cfg.Worker.Endpoint
	}
	if rc.DispatchTimeout == 0 {
		rc.DispatchTimeout = config.Duration(cfg.Worker.DispatchTimeout)
	}
	if rc.Limits.MaxIterations == 0 {
		rc.Limits.MaxIterations = cfg.Limits.MaxIterations
	}
	if rc.Limits.MaxConsecutiveFailures == 0 {
		rc.Limits.MaxConsecutiveFailures = cfg.Limits.MaxConsecutiveFailures
	}
	return nil
}

func printJobError(msg string) {
	out, _ := json.Marshal(map[string]any{"passed": false, "error": msg})
	fmt.Println(resultMarker + string(out))
}

// run starts the HTTP service mode and blocks until context
// cancellation. Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting backlogd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("worker_endpoint", cfg.Worker.Endpoint),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	worker := dispatch.New(cfg.Worker.Endpoint, cfg.Worker.DispatchTimeout, logger)

	srv, err := server.New(worker, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return http.ErrServerClosed
	}
}
