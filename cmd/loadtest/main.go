package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coderunner/loadtest/internal/config"
	"github.com/coderunner/loadtest/internal/corpus"
	"github.com/coderunner/loadtest/internal/dashboard"
	"github.com/coderunner/loadtest/internal/logging"
	"github.com/coderunner/loadtest/internal/metrics"
	"github.com/coderunner/loadtest/internal/monitor"
	"github.com/coderunner/loadtest/internal/orchestrator"
	"github.com/coderunner/loadtest/internal/output"
	"github.com/coderunner/loadtest/internal/preflight"
	"github.com/coderunner/loadtest/internal/report"
	"github.com/coderunner/loadtest/internal/threshold"
	"github.com/coderunner/loadtest/internal/tracing"
)

const (
	progressInterval = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env is not an error.
	_ = godotenv.Load()

	loaded, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	cfg := *loaded
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, !cfg.NoColor)

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mode := orchestrator.Mode(cfg.Mode)
	testID := orchestrator.TestID(mode, time.Now())

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		TestID: testID,
		Mode:   string(cfg.Mode),
		Target: cfg.TargetURL,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	headers := makeHeaders(cfg.Headers)
	interactive := !cfg.JSONOutput && !cfg.Dashboard
	var stdout io.Writer = os.Stdout
	if !interactive {
		stdout = io.Discard
	}
	console := output.NewConsole(stdout, !cfg.NoColor)

	output.PrintBanner(stdout, testID, cfg.TargetURL, cfg.Sessions,
		string(cfg.Mode), cfg.RampBatchSize, cfg.RampInterval.Seconds())

	if cfg.HealthCheck {
		console.Step(1, 4, "Checking server health at %s...", cfg.TargetURL)
		if err := preflight.New(cfg.HealthTimeout, headers).Check(ctx, cfg.TargetURL); err != nil {
			return err
		}
	}

	collector := metrics.NewCollector(cfg.Sessions)

	sampler, closeSampler, err := newSampler(cfg.StatsSource)
	if err != nil {
		return err
	}
	defer closeSampler()

	var resources orchestrator.ResourceMonitor
	if sampler != nil {
		resources = monitor.New(monitor.Options{
			Interval: cfg.MonitorInterval,
			Filter:   cfg.ContainerFilter,
			Sampler:  sampler,
			Logger:   logger,
			OnSnapshot: func(s monitor.Snapshot) {
				collector.RecordResources(s.ContainerCount, s.TotalMemoryMB, s.TotalCPUPercent)
			},
		})
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, dashboardConfig(cfg), stopRun)
		if err != nil {
			return err
		}
		dash.Start()
		defer func() {
			if dash != nil {
				dash.Stop()
			}
		}()
	}

	var progress *output.ProgressReporter
	if interactive {
		progress = output.NewProgressReporter(collector, progressInterval, os.Stdout)
		progress.Start()
		defer progress.Stop()
	}

	console.Step(2, 4, "Starting %d sessions (%s)...", cfg.Sessions, cfg.Mode)
	orch := orchestrator.New(orchestrator.Options{
		TestID:        testID,
		Target:        cfg.TargetURL,
		Sessions:      cfg.Sessions,
		Mode:          mode,
		RampInterval:  cfg.RampInterval,
		RampBatchSize: cfg.RampBatchSize,
		Timeout:       cfg.Timeout,
		ConnectRate:   cfg.ConnectRate,
		Registry:      registry,
		Dialer:        newDialer(cfg, headers, provider.ShouldPropagate()),
		Monitor:       resources,
		Collector:     collector,
		Logger:        logger,
		Tracer:        provider.Tracer(),
		OnResult:      console.Result,
	})

	outcome, err := orch.Run(runCtx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("load test interrupted")
		}
		return err
	}

	console.Step(3, 4, "Generating report...")
	rep := report.Build(report.Input{
		TestID:    outcome.TestID,
		StartTime: outcome.StartTime,
		EndTime:   outcome.EndTime,
		Config: report.Config{
			ServerURL:     cfg.TargetURL,
			NumSessions:   cfg.Sessions,
			Mode:          string(cfg.Mode),
			RampInterval:  cfg.RampInterval,
			RampBatchSize: cfg.RampBatchSize,
		},
		Results:   outcome.Results,
		Snapshots: outcome.Snapshots,
	})
	results := threshold.NewEvaluator(thresholds).Evaluate(rep)

	console.Step(4, 4, "Saving reports to %s...", cfg.OutputDir)
	paths, err := output.Save(cfg.OutputDir, rep, results)
	if err != nil {
		return err
	}

	if dash != nil {
		dash.Stop()
		dash = nil
	}

	if cfg.JSONOutput {
		if err := output.WriteJSON(os.Stdout, rep); err != nil {
			return err
		}
	} else {
		output.PrintReport(os.Stdout, rep)
		output.PrintThresholds(os.Stdout, results)
		output.NewConsole(os.Stdout, !cfg.NoColor).Saved(paths)
	}

	logger.Debug("run finished",
		slog.String("test_id", rep.TestID),
		slog.Int("executions", rep.TotalExecutions),
		slog.Int("connected", outcome.Connected),
		slog.Int("connect_failures", outcome.Failed),
	)

	if !threshold.AllPassed(results) {
		failed := 0
		for _, r := range results {
			if !r.Pass {
				failed++
			}
		}
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

func loadRegistry(cfg config.Config) (*corpus.Registry, error) {
	var (
		registry *corpus.Registry
		err      error
	)
	if cfg.ProgramsFile != "" {
		registry, err = corpus.Load(cfg.ProgramsFile)
	} else {
		registry, err = corpus.Builtin()
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.Languages) > 0 {
		return registry.Filter(cfg.Languages)
	}
	return registry, nil
}
