// SPDX-License-Identifier: MIT

// loadgated is the resilient load orchestrator daemon. It supervises one
// page-loading session at a time and exposes session commands, a live state
// stream, health endpoints and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/loadgate/internal/api"
	"github.com/ManuGH/loadgate/internal/clock"
	"github.com/ManuGH/loadgate/internal/config"
	"github.com/ManuGH/loadgate/internal/health"
	xglog "github.com/ManuGH/loadgate/internal/log"
	"github.com/ManuGH/loadgate/internal/netcond"
	"github.com/ManuGH/loadgate/internal/orchestrator"
	"github.com/ManuGH/loadgate/internal/phase"
	"github.com/ManuGH/loadgate/internal/progress"
	"github.com/ManuGH/loadgate/internal/report"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// The log level must be known before the first log line; read it straight
	// from the environment, the config loader logs its own parsing.
	xglog.Configure(xglog.Config{
		Level:   os.Getenv("LOADGATE_LOG_LEVEL"),
		Service: "loadgate",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("invalid configuration")
	}

	logger.Info().
		Str("event", "config.loaded").
		Str("page", cfg.PageName).
		Str("listen", cfg.ListenAddr).
		Dur("timeout", cfg.Timeout).
		Int("max_retries", cfg.MaxRetries).
		Bool("retry_strategies", cfg.EnableRetryStrategies).
		Bool("advanced_monitoring", cfg.EnableAdvancedMonitoring).
		Msg("configuration loaded")

	phases := phase.Default()
	if cfg.PhaseTablePath != "" {
		loaded, err := phase.LoadFile(cfg.PhaseTablePath)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "phase.load_failed").
				Str("path", cfg.PhaseTablePath).
				Msg("failed to load phase table, using defaults")
		} else {
			phases = loaded
			logger.Info().
				Str("event", "phase.loaded").
				Str("path", cfg.PhaseTablePath).
				Int("phases", phases.Len()).
				Msg("phase table loaded")
		}
	}

	var prober health.Prober
	var netReader netcond.Reader
	if cfg.BackendHealthURL != "" {
		prober = health.NewHTTPProber(cfg.BackendHealthURL, cfg.ProbeTimeout, nil)
		netReader = netcond.NewRTTReader(cfg.BackendHealthURL, cfg.ProbeTimeout, nil)
	}

	var navigator orchestrator.Navigator
	if cfg.NavigateURL != "" {
		navigator = newWebhookNavigator(cfg.NavigateURL, 5*time.Second)
	}

	var reportObserver func(orchestrator.ViewState)
	if cfg.StatusFilePath != "" {
		reportObserver = report.NewWriter(cfg.StatusFilePath).Observer(clock.NewReal())
	}

	healthMgr := health.NewManager(version)
	if prober != nil {
		healthMgr.RegisterChecker(health.NewBackendChecker("backend", prober))
	}

	sessionCfg := orchestrator.Config{
		PageName: cfg.PageName,
		Timeout:  cfg.Timeout,
		Retry: orchestrator.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			RetryDelay:    cfg.RetryDelay,
			OnlyIfHealthy: cfg.RetryOnlyIfHealthy,
		},
		Phases:                   phases,
		ShowProgress:             cfg.ShowProgress,
		EnableAdvancedMonitoring: cfg.EnableAdvancedMonitoring,
		ShowNetworkDiagnostics:   cfg.ShowNetworkDiagnostics,
		EnableRetryStrategies:    cfg.EnableRetryStrategies,
		ProgressTick:             cfg.ProgressTick,
		PhaseTick:                cfg.PhaseTick,
		HealthPollInterval:       cfg.HealthPollInterval,
		ProbeTimeout:             cfg.ProbeTimeout,
	}

	factory := func(ov api.StartOverrides) *orchestrator.Orchestrator {
		runCfg := sessionCfg
		ov.Apply(&runCfg)
		o := orchestrator.New(runCfg, orchestrator.Deps{
			Prober:    prober,
			NetReader: netReader,
			Navigator: navigator,
		}, orchestrator.WithEstimator(progress.NewEstimator(
			progress.WithIncrementBand(cfg.ProgressBaseIncrement, cfg.ProgressJitterMax),
		)))
		if reportObserver != nil {
			o.Subscribe(reportObserver)
		}
		return o
	}

	apiServer := api.NewServer(api.Options{
		RateLimitEnabled: cfg.RateLimitEnabled,
		RateLimitPerMin:  cfg.RateLimitPerMin,
	}, factory, healthMgr)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("event", "server.listening").
			Str("addr", cfg.ListenAddr).
			Msg("control server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Str("event", "server.shutdown").Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "server.failed").
			Msg("server terminated with error")
	}
	logger.Info().Str("event", "server.stopped").Msg("shutdown complete")
}
