// Package sweep runs batches of independent simulations over a grid of
// parameter values and collects their sampled stats.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/entropy"
	"github.com/talgya/gentrify/internal/persistence"
)

// Point is one run of the batch: a parameter combination and iteration.
type Point struct {
	Index     int                `json:"index"`
	Iteration int                `json:"iteration"`
	Seed      int64              `json:"seed"`
	Params    map[string]float64 `json:"params"`
}

// Result is the outcome of one run.
type Result struct {
	Point
	RunID    string
	Reason   engine.StopReason
	Steps    uint64
	Final    engine.Stats
	History  []engine.Stats
	Duration time.Duration
	Err      error
}

// Points expands the sweep grid into runs. Parameter names are taken in
// sorted order and the last name varies fastest; iterations are innermost.
// Each run's seed is the base seed plus its index.
func Points(cfg config.Config) ([]Point, error) {
	grid := cfg.Sweep.Grid()
	names := make([]string, 0, len(grid))
	for name, values := range grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("sweep parameter %q has no values", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	iterations := cfg.Sweep.Iterations
	if iterations < 1 {
		iterations = 1
	}

	combos := []map[string]float64{{}}
	for _, name := range names {
		var next []map[string]float64
		for _, base := range combos {
			for _, v := range grid[name] {
				c := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					c[k] = bv
				}
				c[name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	points := make([]Point, 0, len(combos)*iterations)
	for _, combo := range combos {
		for it := 0; it < iterations; it++ {
			idx := len(points)
			points = append(points, Point{
				Index:     idx,
				Iteration: it,
				Seed:      cfg.Seed + int64(idx),
				Params:    combo,
			})
		}
	}
	return points, nil
}

// Runner executes a sweep with a bounded number of concurrent runs.
type Runner struct {
	Base    config.Config
	Workers int // 0 = Base.Sweep.Workers
	Logger  *slog.Logger

	// OnResult, if set, receives each result as it completes. Calls are
	// serialised on the goroutine that called Run.
	OnResult func(Result) error
}

// Run executes every point and returns the results ordered by index.
// Individual run failures are reported in Result.Err; Run only fails when
// the grid is invalid, OnResult fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := r.Base
	if base.Seed == 0 {
		base.Seed = entropy.NewStream(0).Seed()
	}

	points, err := Points(base)
	if err != nil {
		return nil, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = base.Sweep.Workers
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(points) {
		workers = len(points)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Point)
	out := make(chan Result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				out <- runPoint(ctx, base, p, logger)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range points {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	logger.Info("sweep started", "runs", len(points), "workers", workers, "base_seed", base.Seed)

	results := make([]Result, 0, len(points))
	var sinkErr error
	for res := range out {
		results = append(results, res)
		if res.Err != nil {
			logger.Warn("sweep run failed", "index", res.Index, "params", res.Params, "error", res.Err)
		} else {
			logger.Debug("sweep run done", "index", res.Index, "steps", res.Steps, "reason", res.Reason)
		}
		if r.OnResult != nil && sinkErr == nil {
			if err := r.OnResult(res); err != nil {
				sinkErr = fmt.Errorf("result %d: %w", res.Index, err)
				cancel()
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	if sinkErr != nil {
		return results, sinkErr
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// ConfigFor builds the configuration for one point of the sweep.
func ConfigFor(base config.Config, p Point) (config.Config, error) {
	cfg := base
	names := make([]string, 0, len(p.Params))
	for name := range p.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var err error
		if cfg, err = cfg.With(name, p.Params[name]); err != nil {
			return cfg, err
		}
	}
	cfg.Seed = p.Seed
	cfg.Run.MaxSteps = base.Sweep.MaxSteps
	cfg.Run.CollectEvery = base.Sweep.CollectEvery
	cfg.Run.IntervalMs = 0
	return cfg, cfg.Validate()
}

func runPoint(ctx context.Context, base config.Config, p Point, logger *slog.Logger) Result {
	res := Result{Point: p, RunID: persistence.NewRunID()}
	start := time.Now()

	cfg, err := ConfigFor(base, p)
	if err != nil {
		res.Err = err
		return res
	}

	sim, err := engine.NewSimulation(cfg, logger.With("run", p.Index))
	if err != nil {
		res.Err = err
		return res
	}
	reason, err := engine.NewEngine(sim).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		res.Err = err
	}

	res.Reason = reason
	res.Steps = sim.CurrentTick()
	res.Final = sim.CurrentStats()
	res.History = sim.StatsHistory()
	res.Duration = time.Since(start)
	return res
}
