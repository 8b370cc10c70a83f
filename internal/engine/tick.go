// Package engine provides the town model and the tick loop that drives it.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// reportEvery is how often (in ticks) the engine logs a progress report.
const reportEvery = 25

// StopReason explains why Run returned.
type StopReason string

const (
	StopMaxSteps  StopReason = "max_steps"
	StopConverged StopReason = "converged"
	StopRequested StopReason = "stopped"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

// Engine drives a Simulation forward.
type Engine struct {
	Sim           *Simulation
	MaxSteps      int           // 0 = unbounded
	StopWhenHappy bool          // Stop once every household is happy and nobody is due
	Interval      time.Duration // Base pacing per tick; 0 runs flat out

	// OnTick is called after every tick, outside the simulation lock.
	OnTick func(Stats)

	mu      sync.Mutex
	speed   float64 // 1.0 = Interval per tick, 0 = paused
	running bool
	reason  StopReason
}

// NewEngine creates an engine using the simulation's run settings.
func NewEngine(sim *Simulation) *Engine {
	run := sim.Config.Run
	return &Engine{
		Sim:           sim,
		MaxSteps:      run.MaxSteps,
		StopWhenHappy: run.StopWhenHappy,
		Interval:      time.Duration(run.IntervalMs) * time.Millisecond,
		speed:         1.0,
	}
}

// Run advances the simulation until a stop condition, Stop, ctx
// cancellation or a tick error. Ticks already applied are kept.
func (e *Engine) Run(ctx context.Context) (StopReason, error) {
	e.mu.Lock()
	e.running = true
	e.reason = ""
	e.mu.Unlock()

	log := e.Sim.Logger
	log.Info("simulation engine started", "tick", e.Sim.CurrentTick(), "max_steps", e.MaxSteps)

	reason, err := e.loop(ctx)

	e.mu.Lock()
	e.running = false
	e.reason = reason
	e.mu.Unlock()

	log.Info("simulation engine stopped", "tick", e.Sim.CurrentTick(), "reason", string(reason))
	return reason, err
}

func (e *Engine) loop(ctx context.Context) (StopReason, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return StopCancelled, err
		}
		if !e.Running() {
			return StopRequested, nil
		}
		if e.MaxSteps > 0 && steps >= e.MaxSteps {
			return StopMaxSteps, nil
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; sleep briefly and check again.
			if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
				return StopCancelled, err
			}
			continue
		}

		start := time.Now()
		stats, err := e.Sim.Advance()
		if err != nil {
			return StopError, err
		}
		steps++

		if e.OnTick != nil {
			e.OnTick(stats)
		}
		if stats.Tick%reportEvery == 0 {
			e.Sim.Logger.Info("tick report",
				"tick", stats.Tick,
				"residents", stats.Residents,
				"immigrants", stats.Immigrants,
				"slums", stats.Slums,
				"unhappy", stats.Unhappy,
				"moved", stats.Moved,
				"avg_income", humanize.Commaf(math.Round(stats.AvgIncome)),
				"segregation", fmt.Sprintf("%.3f", stats.Segregation),
			)
			e.Sim.Record("report", fmt.Sprintf("tick %d: %d residents, %d immigrants, %d slums, %d unhappy",
				stats.Tick, stats.Residents, stats.Immigrants, stats.Slums, stats.Unhappy))
		}

		if e.StopWhenHappy && e.Sim.Converged() {
			return StopConverged, nil
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				if err := sleepCtx(ctx, target-elapsed); err != nil {
					return StopCancelled, err
				}
			}
		}
	}
}

// Stop asks a running loop to return after the current tick.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Speed returns the pacing multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the pacing multiplier; 0 pauses. Negative values pause.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = v
}

// LastStop returns why the most recent Run returned.
func (e *Engine) LastStop() StopReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
