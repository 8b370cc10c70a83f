package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talgya/gentrify/internal/api"
	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/persistence"
	"github.com/talgya/gentrify/internal/report"
	"github.com/talgya/gentrify/internal/sweep"
)

type runOptions struct {
	configPath string
	dbPath     string
	tracePath  string
	chartPath  string
	serve      bool
	port       int
	seed       int64
	steps      int
}

type sweepOptions struct {
	configPath string
	dbPath     string
	csvPath    string
	workers    int
	iterations int
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	slog.Info("config loaded", "path", path)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSim(opts runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.seed >= 0 {
		cfg.Seed = opts.seed
	}
	if opts.steps >= 0 {
		cfg.Run.MaxSteps = opts.steps
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	warnConfig(cfg)

	sim, err := engine.NewSimulation(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	// Record the seed actually used so the run can be replayed.
	cfg.Seed = sim.Seed()
	eng := engine.NewEngine(sim)
	runID := persistence.NewRunID()

	ctx, stop := signalContext()
	defer stop()

	var db *persistence.DB
	if opts.dbPath != "" {
		db, err = persistence.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.CreateRun(runID, "run", cfg.Seed, cfg); err != nil {
			return err
		}
		slog.Info("database opened", "path", opts.dbPath, "run", runID)
	}

	if opts.tracePath != "" {
		tw, err := persistence.CreateTrace(opts.tracePath, persistence.TraceHeader{
			RunID:     runID,
			Seed:      cfg.Seed,
			StartedAt: time.Now().UTC().Format(time.RFC3339),
			Config:    cfg,
		})
		if err != nil {
			return fmt.Errorf("create trace: %w", err)
		}
		defer func() {
			if err := tw.Close(); err != nil {
				slog.Error("closing trace", "error", err)
			}
		}()
		eng.OnTick = func(st engine.Stats) {
			if err := tw.Write(st); err != nil {
				slog.Warn("trace write failed", "tick", st.Tick, "error", err)
			}
		}
	}

	if opts.serve {
		adminKey := os.Getenv("GENTRIFY_ADMIN_KEY")
		if adminKey == "" {
			slog.Warn("GENTRIFY_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		srv := &api.Server{
			Sim:       sim,
			Eng:       eng,
			DB:        db,
			RunID:     runID,
			Port:      opts.port,
			AdminKey:  adminKey,
			StreamKey: os.Getenv("GENTRIFY_STREAM_KEY"),
		}
		srv.Start(ctx)
	}

	slog.Info("run starting",
		"run", runID,
		"seed", cfg.Seed,
		"grid", fmt.Sprintf("%dx%d", cfg.Grid.Width, cfg.Grid.Height),
		"households", sim.Counts().Residents,
	)

	started := time.Now()
	reason, runErr := eng.Run(ctx)
	elapsed := time.Since(started)

	if db != nil {
		if err := db.SaveRunState(runID, sim, reason); err != nil {
			slog.Error("failed to save run", "error", err)
		}
	}

	printRunSummary(os.Stdout, runID, sim, reason, elapsed)

	if opts.chartPath != "" {
		if err := writeChart(opts.chartPath, sim.StatsHistory()); err != nil {
			slog.Error("chart failed", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if opts.serve && ctx.Err() == nil {
		slog.Info("run finished, still serving; interrupt to exit", "port", opts.port)
		<-ctx.Done()
	}
	return nil
}

func runSweep(opts sweepOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.iterations > 0 {
		cfg.Sweep.Iterations = opts.iterations
	}
	warnConfig(cfg)

	ctx, stop := signalContext()
	defer stop()

	var db *persistence.DB
	if opts.dbPath != "" {
		db, err = persistence.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	// Per-run engine chatter drowns out the sweep below debug level.
	runLogger := slog.New(slog.DiscardHandler)
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		runLogger = slog.Default().With("component", "sweep")
	}

	done := 0
	total := 0
	if points, err := sweep.Points(cfg); err == nil {
		total = len(points)
	}
	runner := &sweep.Runner{
		Base:    cfg,
		Workers: opts.workers,
		Logger:  runLogger,
		OnResult: func(r sweep.Result) error {
			done++
			if done%10 == 0 || done == total {
				slog.Info("sweep progress", "done", done, "total", total)
			}
			if r.Err != nil {
				slog.Warn("sweep run failed", "index", r.Index, "params", r.Params, "error", r.Err)
			}
			if db == nil {
				return nil
			}
			return sweep.Save(db, "sweep", r)
		},
	}

	slog.Info("sweep starting", "runs", total, "params", cfg.Sweep.Grid(), "iterations", cfg.Sweep.Iterations)
	started := time.Now()
	results, err := runner.Run(ctx)
	elapsed := time.Since(started)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			return err
		}
		if err := sweep.WriteCSV(f, results); err != nil {
			f.Close()
			return fmt.Errorf("write csv: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		slog.Info("csv written", "path", opts.csvPath)
	}

	printSweepSummary(os.Stdout, results, elapsed)
	return err
}

func runValidate(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		printValidationErrors(os.Stdout, err)
		return errors.New("config is invalid")
	}
	points, err := sweep.Points(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Result: VALID (%dx%d grid, density %.2f, preference %.2f, %d sweep runs)\n",
		cfg.Grid.Width, cfg.Grid.Height, cfg.Density, cfg.Preference, len(points))
	for _, w := range cfg.Warnings() {
		fmt.Printf("  Warning: %s\n", w)
	}
	return nil
}

func warnConfig(cfg config.Config) {
	for _, w := range cfg.Warnings() {
		slog.Warn("config may not run to completion", "detail", w)
	}
}

func runTrace(path, chartPath string) error {
	header, stats, err := persistence.ReadTrace(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	printTraceSummary(os.Stdout, header, stats, info.Size())
	if chartPath != "" {
		return writeChart(chartPath, stats)
	}
	return nil
}

func writeChart(path string, history []engine.Stats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.HistoryChart(f, history, report.Size{}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("chart written", "path", path, "samples", len(history))
	return nil
}

func runList(dbPath string) error {
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := db.ListRuns()
	if err != nil {
		return err
	}
	printRuns(os.Stdout, runs)
	return nil
}
