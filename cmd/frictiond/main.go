// Frictiond is a friction detection and elimination daemon for coding
// workspaces.
//
// This binary starts the frictiond HTTP server with full service
// initialization: workspace capture, friction detectors, the zero-friction
// orchestrator, escalation sinks, and the optional filesystem watcher.
//
// Configuration is loaded from ~/.config/frictiond/config.yaml and
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon against the current directory
//	frictiond
//
//	# Watch a specific workspace on a custom port
//	WORKSPACE_ROOT=/srv/project SERVER_HTTP_PORT=7070 frictiond
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/frictiond/internal/action"
	"github.com/fyrsmithlabs/frictiond/internal/config"
	"github.com/fyrsmithlabs/frictiond/internal/detector"
	"github.com/fyrsmithlabs/frictiond/internal/escalate"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
	"github.com/fyrsmithlabs/frictiond/internal/logging"
	"github.com/fyrsmithlabs/frictiond/internal/orchestrator"
	"github.com/fyrsmithlabs/frictiond/internal/pkgmgr"
	"github.com/fyrsmithlabs/frictiond/internal/registry"
	"github.com/fyrsmithlabs/frictiond/internal/server"
	"github.com/fyrsmithlabs/frictiond/internal/telemetry"
	"github.com/fyrsmithlabs/frictiond/internal/watch"
	"github.com/fyrsmithlabs/frictiond/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/frictiond/config.yaml)")
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
			fmt.Fprintf(os.Stderr, "  frictiond           Start the frictiond daemon\n")
			fmt.Fprintf(os.Stderr, "  frictiond version   Show version information\n")
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

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("frictiond by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Build logger and telemetry
//  3. Capture collaborators: workspace capturer, editor, package manager
//  4. Register detectors and validate the registry
//  5. Wire escalation sinks (log, optional NATS)
//  6. Start the orchestrator loop, watcher, and HTTP server
//  7. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := &logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: true,
		Fields: map[string]string{"service": cfg.Observability.ServiceName},
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting frictiond",
		zap.String("version", version),
		zap.String("workspace", cfg.Workspace.Root),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("interval", cfg.Orchestrator.Interval))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:               cfg.Observability.EnableTelemetry,
		Endpoint:              cfg.Observability.OTLPEndpoint,
		Protocol:              cfg.Observability.OTLPProtocol,
		ServiceName:           cfg.Observability.ServiceName,
		ServiceVersion:        version,
		Insecure:              cfg.Observability.OTLPInsecure,
		SamplingRate:          1.0,
		MetricsEnabled:        true,
		MetricsExportInterval: 15 * time.Second,
		ShutdownTimeout:       5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Once log export is up, mirror every record onto the OTLP pipeline.
	if lp := tel.LoggerProvider(); lp != nil {
		bridged, err := logging.NewLoggerWithOTEL(logCfg, lp)
		if err != nil {
			logger.Warn("otel log bridge unavailable", zap.Error(err))
		} else {
			logger = bridged
		}
	}

	// Workspace collaborators.
	wsCfg := workspace.DefaultConfig(cfg.Workspace.Root)
	if len(cfg.Workspace.Extensions) > 0 {
		wsCfg.Extensions = cfg.Workspace.Extensions
	}
	if len(cfg.Workspace.IgnoreDirs) > 0 {
		wsCfg.IgnoreDirs = cfg.Workspace.IgnoreDirs
	}
	wsCfg.MaxFiles = cfg.Workspace.MaxFiles
	wsCfg.MaxFileSize = cfg.Workspace.MaxFileSize

	capturer, err := workspace.NewCapturer(wsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create workspace capturer: %w", err)
	}
	editor := workspace.NewFSEditor(cfg.Workspace.Root)

	detCfg := &detector.Config{
		HistoryLimit:      cfg.Detector.HistoryLimit,
		StaleAfter:        cfg.Detector.StaleAfter,
		RollbackTimeout:   cfg.Detector.RollbackTimeout,
		AutoFixConfidence: cfg.Detector.AutoFixConfidence,
	}

	// Registry: syntax is always on; dependency needs a package manager,
	// which only exists in workspaces with a JavaScript manifest.
	reg := registry.New()
	required := []friction.Category{friction.CategorySyntax}

	syntaxDet, err := detector.NewSyntaxDetector(detector.NewBalanceAnalyzer(), editor, detCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create syntax detector: %w", err)
	}
	if err := reg.Register(syntaxDet); err != nil {
		return fmt.Errorf("failed to register syntax detector: %w", err)
	}

	var manager pkgmgr.Manager
	if m, err := pkgmgr.Detect(cfg.Workspace.Root, logger); err != nil {
		logger.Warn("no package manager detected, dependency detection disabled", zap.Error(err))
	} else {
		manager = m
		depDet, err := detector.NewDependencyDetector(manager, detCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create dependency detector: %w", err)
		}
		if err := reg.Register(depDet); err != nil {
			return fmt.Errorf("failed to register dependency detector: %w", err)
		}
		required = append(required, friction.CategoryDependency)
		logger.Info("package manager detected", zap.String("tool", manager.Name()))
	}

	if err := reg.Validate(required); err != nil {
		return fmt.Errorf("detector registry incomplete: %w", err)
	}

	// Escalation sinks: the log sink always runs, NATS when configured.
	sinks := []escalate.Sink{escalate.NewLogSink(logger)}
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			logger.Warn("NATS connection failed, escalations stay local", zap.Error(err))
		} else {
			sinks = append(sinks, escalate.NewNATSSink(natsConn, cfg.NATS.SubjectPrefix, logger))
			logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
		}
	}
	defer func() {
		if natsConn != nil {
			natsConn.Close()
		}
	}()

	orch, err := orchestrator.New(&orchestrator.Config{
		Interval:                  cfg.Orchestrator.Interval,
		MaxConcurrentEliminations: cfg.Orchestrator.MaxConcurrentEliminations,
		EscalationThreshold:       cfg.Orchestrator.EscalationThreshold,
		ScoreEscalationThreshold:  cfg.Orchestrator.ScoreEscalationThreshold,
		FlowHistoryLimit:          cfg.Orchestrator.FlowHistoryLimit,
	}, reg, capturer, sinks, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	actions, err := action.New(reg, orch, manager, detCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create action service: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer func() {
		if err := orch.Stop(); err != nil {
			logger.Warn("orchestrator stop failed", zap.Error(err))
		}
	}()

	if cfg.Watch.Enabled {
		watchCfg := watch.DefaultConfig(cfg.Workspace.Root)
		watchCfg.Extensions = wsCfg.Extensions
		watchCfg.IgnoreDirs = wsCfg.IgnoreDirs
		watchCfg.Debounce = cfg.Watch.Debounce

		watcher, err := watch.New(watchCfg, orch.Trigger, logger)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv, err := server.NewServer(orch, actions, logger, &server.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
