package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/talgya/gentrify/internal/config"
)

func TestEngineMaxSteps(t *testing.T) {
	cfg := testConfig(5, 5)
	cfg.Density = 0.5
	cfg.Run.MaxSteps = 5
	cfg.Run.StopWhenHappy = false
	s := newTestSim(t, cfg)

	ticks := 0
	e := NewEngine(s)
	e.OnTick = func(Stats) { ticks++ }
	reason, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if reason != StopMaxSteps || s.CurrentTick() != 5 || ticks != 5 {
		t.Errorf("reason = %s, tick = %d, callbacks = %d", reason, s.CurrentTick(), ticks)
	}
	if e.Running() {
		t.Error("engine still running after Run returned")
	}
}

func TestEngineConverges(t *testing.T) {
	cfg := testConfig(4, 4)
	cfg.Run.MaxSteps = 50
	s := newTestSim(t, cfg)

	reason, err := NewEngine(s).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if reason != StopConverged || s.CurrentTick() != 1 {
		t.Errorf("reason = %s at tick %d, want converged at 1", reason, s.CurrentTick())
	}
}

func TestEngineWaitsForPendingImmigrants(t *testing.T) {
	cfg := testConfig(6, 6)
	cfg.Run.MaxSteps = 50
	cfg.Immigration = config.ImmigrationConfig{Start: 3, Count: 1}
	s := newTestSim(t, cfg)

	if _, err := NewEngine(s).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.CurrentTick() < 3 {
		t.Errorf("stopped at tick %d before immigrants arrived", s.CurrentTick())
	}
}

func TestEngineCancelled(t *testing.T) {
	s := newTestSim(t, testConfig(3, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reason, err := NewEngine(s).Run(ctx)
	if !errors.Is(err, context.Canceled) || reason != StopCancelled {
		t.Errorf("reason = %s, err = %v", reason, err)
	}
}

func TestEngineTickError(t *testing.T) {
	cfg := testConfig(1, 1)
	cfg.Density = 1
	cfg.Run.MaxSteps = 10
	cfg.Immigration = config.ImmigrationConfig{Start: 2, Count: 1}
	s := newTestSim(t, cfg)

	reason, err := NewEngine(s).Run(context.Background())
	if !errors.Is(err, ErrNoVacancy) || reason != StopError {
		t.Errorf("reason = %s, err = %v", reason, err)
	}
}

func TestSetSpeedClamps(t *testing.T) {
	e := NewEngine(newTestSim(t, testConfig(2, 2)))
	e.SetSpeed(-3)
	if e.Speed() != 0 {
		t.Errorf("speed = %v, want 0", e.Speed())
	}
}

func TestEngineReportEvent(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Run.MaxSteps = 25
	cfg.Run.StopWhenHappy = false
	s := newTestSim(t, cfg)

	if _, err := NewEngine(s).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	var reports []Event
	for _, e := range s.RecentEvents(100) {
		if e.Category == "report" {
			reports = append(reports, e)
		}
	}
	if len(reports) != 1 || reports[0].Tick != 25 {
		t.Errorf("report events = %+v, want one at tick 25", reports)
	}
}
