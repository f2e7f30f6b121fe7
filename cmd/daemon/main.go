// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onair-live/onair/internal/compositor"
	"github.com/onair-live/onair/internal/config"
	"github.com/onair-live/onair/internal/control"
	"github.com/onair-live/onair/internal/daemon"
	"github.com/onair-live/onair/internal/health"
	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/monitor"
	"github.com/onair-live/onair/internal/notify"
	"github.com/onair-live/onair/internal/queue"
	"github.com/onair-live/onair/internal/stream"
	"github.com/onair-live/onair/internal/users"
	"github.com/onair-live/onair/internal/worker"
)

var (
	version   = "v1.2.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until config is loaded.
	xlog.Configure(xlog.Config{
		Level:   config.ParseString("LOG_LEVEL", "info"),
		Service: config.ParseString("LOG_SERVICE", "onair"),
		Version: version,
	})
	logger := xlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise ${ONAIR_DATA_DIR}/config.yaml
	// if it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := config.ParseString("ONAIR_DATA_DIR", "/var/lib/onair")
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", effectivePath).Msg("failed to load configuration")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str(xlog.FieldPath, cfg.DataDir).Msg("failed to create data dir")
	}

	// Users database.
	store, err := users.OpenSQLite(cfg.UsersDBPath(), users.DefaultSQLiteConfig())
	if err != nil {
		logger.Fatal().Err(err).Str(xlog.FieldPath, cfg.UsersDBPath()).Msg("failed to open users database")
	}

	// Queue with persisted rotation order.
	q := queue.New(cfg.QueuePath(), store)
	if err := q.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("queue snapshot not restored, starting empty")
	}

	// Compositor client; connects lazily on the first RPC.
	client := compositor.New(compositor.Config{
		URL:      cfg.CompositorURL(),
		Password: cfg.CompositorPassword,
	})

	// Health monitoring.
	registry := monitor.NewRegistry(monitor.Config{
		Scene:        cfg.Scene,
		PollInterval: cfg.HealthPollInterval,
		DataDir:      cfg.DataDir,
	}, client)

	// Job worker: the single consumer of compositor mutations.
	jobs := worker.NewQueue()
	w := worker.New(jobs, worker.Config{
		JobDelay:      cfg.JobDelay,
		Scene:         cfg.Scene,
		StreamSource:  cfg.StreamSource,
		LoadingSource: cfg.LoadingSource,
		TimingCSVPath: filepath.Join(cfg.DataDir, "job-timing.csv"),
	}, worker.Deps{
		Compositor: client,
		Notifier:   notify.NewWebhookNotifier(cfg.WebhookURL),
		Recorder:   notify.NewHTTPRecorder(cfg.RecorderBaseURL),
		Kicker:     notify.NewHTTPKicker(cfg.IngestAPIURL),
		Health:     registry,
	})

	// Switch state machine.
	mgr := stream.NewManager(stream.Config{
		SwapInterval:    cfg.SwapInterval,
		PriorityTimeout: cfg.PriorityTimeout,
		TickInterval:    cfg.TickInterval,
		Scene:           cfg.Scene,
		StreamSource:    cfg.StreamSource,
		LoadingSource:   cfg.LoadingSource,
		IngestRTMPBase:  cfg.IngestRTMPBase(),
	}, q, jobs, registry)

	// Probes.
	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewCompositorChecker(client.Healthy))
	healthMgr.RegisterChecker(health.NewDataDirChecker(cfg.DataDir))

	// Control surface.
	srv := control.NewServer(control.Config{
		MotherstreamURL: cfg.MotherstreamURL,
		RecordURL:       cfg.RecordURL,
		AlsoRecord:      cfg.AlsoRecord,
	}, store, q, mgr, client, registry, healthMgr)

	dm := daemon.NewManager(daemon.ServerConfig{
		ListenAddr:  cfg.Listen,
		MetricsAddr: cfg.MetricsAddr,
	}, srv.Router(), promhttp.Handler())

	// LIFO: the job queue closes first, and the hook waits for the worker
	// to finish before the monitors and the compositor client go away.
	dm.RegisterShutdownHook("users_db", func(context.Context) error { return store.Close() })
	dm.RegisterShutdownHook("compositor", func(context.Context) error { client.Close(); return nil })
	dm.RegisterShutdownHook("monitors", func(context.Context) error { registry.Shutdown(); return nil })
	dm.RegisterShutdownHook("job_queue", func(ctx context.Context) error {
		jobs.Close()
		return w.WaitDrained(ctx)
	})

	logger.Info().
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("compositor", cfg.CompositorURL()).
		Str("data_dir", cfg.DataDir).
		Msg("onair starting")

	app := daemon.NewApp(dm, w, mgr)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("onair stopped")
}
