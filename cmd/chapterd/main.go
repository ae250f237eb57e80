// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chapterd/chapterd/internal/api"
	"github.com/chapterd/chapterd/internal/bus"
	"github.com/chapterd/chapterd/internal/captions"
	"github.com/chapterd/chapterd/internal/config"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/registry"
	"github.com/chapterd/chapterd/internal/store/sqlite"
	"github.com/chapterd/chapterd/internal/summarize"
	"github.com/chapterd/chapterd/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Bootstrap logging with defaults so config errors are structured too.
	log.Configure(log.Config{Version: version})
	logger := log.WithComponent("main")

	// Without -config, pick up <data_dir>/config.yaml if one exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := config.ParseString("CHAPTERD_DATA", config.Default().DataDir)
		candidate := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			effectivePath = candidate
			logger.Info().
				Str("event", "config.autoload").
				Str("path", candidate).
				Msg("using config file from data dir")
		}
	}

	holder, err := config.NewHolder(effectivePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("path", effectivePath).
			Msg("failed to load configuration")
	}
	cfg := holder.Current()

	if *dumpConfig {
		raw, err := config.DumpYAML(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to render configuration")
		}
		fmt.Print(string(raw))
		os.Exit(0)
	}

	// Re-configure with the resolved level.
	log.Configure(log.Config{Level: cfg.LogLevel, Version: version})
	logger = log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().
			Err(err).
			Str("dir", cfg.DataDir).
			Msg("failed to create data dir")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Listen).
		Msg("starting chapterd")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ OpenAI: %s (models: %s / %s)", cfg.OpenAI.BaseURL, cfg.OpenAI.ModelSmall, cfg.OpenAI.ModelLarge)
	if cfg.RedisAddr != "" {
		logger.Info().Msgf("→ Backends: redis (%s)", cfg.RedisAddr)
	} else {
		logger.Info().Msg("→ Backends: embedded (badger registry, in-process bus)")
	}
	if cfg.ExportDir != "" {
		logger.Info().Msgf("→ Export dir: %s", cfg.ExportDir)
	}

	// Hot reload: currently only the log level is applied live; everything
	// else needs a restart.
	if effectivePath != "" {
		holder.RegisterListener(func(old, new config.Config) {
			if old.LogLevel != new.LogLevel {
				log.Configure(log.Config{Level: new.LogLevel, Version: version})
			}
		})
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().
				Err(err).
				Str("path", effectivePath).
				Msg("config watcher unavailable, hot reload disabled")
		}
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "chapterd",
		ServiceVersion: version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "tracing.init.failed").
			Msg("failed to initialize tracing")
	}

	st, err := sqlite.New(filepath.Join(cfg.DataDir, "chapterd.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open.failed").
			Msg("failed to open chapter store")
	}
	defer func() { _ = st.Close() }()

	var (
		reg registry.Registry
		eb  bus.Bus
	)
	if cfg.RedisAddr != "" {
		reg, err = registry.NewRedis(registry.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "registry.connect.failed").
				Msg("failed to connect job registry to redis")
		}
		eb, err = bus.NewRedis(bus.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "bus.connect.failed").
				Msg("failed to connect event bus to redis")
		}
	} else {
		reg, err = registry.NewBadger(filepath.Join(cfg.DataDir, "registry"))
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "registry.open.failed").
				Msg("failed to open embedded job registry")
		}
		eb = bus.NewMemory()
	}
	defer func() { _ = reg.Close() }()
	defer func() { _ = eb.Close() }()

	source := captions.New("", cfg.Summary.Languages)
	chat := llm.NewOpenAI(llm.Config{
		BaseURL:       cfg.OpenAI.BaseURL,
		APIKey:        cfg.OpenAI.APIKey,
		RetryAttempts: cfg.OpenAI.RetryAttempts,
		RetryWait:     cfg.OpenAI.RetryWait,
		RPS:           cfg.OpenAI.RPS,
		Burst:         cfg.OpenAI.Burst,
	})

	orch := summarize.New(st, reg, eb, source, chat, summarize.Options{
		ModelSmall:        cfg.OpenAI.ModelSmall,
		ModelLarge:        cfg.OpenAI.ModelLarge,
		TopPDeterministic: cfg.Summary.TopPDeterministic,
		TopPFreeForm:      cfg.Summary.TopPFreeForm,
		SummarizeTimeout:  cfg.OpenAI.SummarizeTimeout,
		SummarizingTTL:    cfg.Summary.SummarizingTTL,
		NoTranscriptTTL:   cfg.Summary.NoTranscriptTTL,
		RefineConcurrency: cfg.RefineConcurrency,
		Workers:           cfg.Workers,
		ExportDir:         cfg.ExportDir,
	})
	orch.Start()

	readiness := []api.ReadyCheck{
		{Name: "store", Check: st.Ping},
		{Name: "registry", Check: func(ctx context.Context) error {
			_, err := reg.Exists(ctx, "readyz_probe")
			return err
		}},
	}

	tracingService := ""
	if cfg.Tracing.Enabled {
		tracingService = "chapterd"
	}
	srv := api.New(api.Config{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
		SSEIdleTimeout: cfg.Summary.SubscribeIdleTimeout,
		TracingService: tracingService,
	}, orch, st, readiness...)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().
			Str("event", "http.listen").
			Str("addr", cfg.Listen).
			Msg("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().
				Str("event", "metrics.listen").
				Str("addr", addr).
				Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().
			Str("event", "shutdown.signal").
			Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().
			Err(err).
			Str("event", "server.failed").
			Msg("server failed")
	}

	// Drain HTTP first so no new jobs arrive, then stop the workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	orch.Stop()
	holder.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}

	logger.Info().
		Str("event", "shutdown.complete").
		Msg("server exiting")
}
