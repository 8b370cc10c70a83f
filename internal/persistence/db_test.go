package persistence

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/engine"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func smallSim(t *testing.T, steps int) *engine.Simulation {
	t.Helper()
	cfg := config.Default()
	cfg.Grid = config.GridConfig{Width: 6, Height: 6}
	cfg.Immigration = config.ImmigrationConfig{Start: 2, Count: 4}
	cfg.Run.MaxSteps = steps
	cfg.Run.StopWhenHappy = false
	sim, err := engine.NewSimulation(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.NewEngine(sim).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	return sim
}

func TestRunRoundTrip(t *testing.T) {
	db := openTestDB(t)
	sim := smallSim(t, 5)
	id := NewRunID()

	if err := db.CreateRun(id, "test", sim.Seed(), map[string]float64{"preference": 0.5}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := db.SaveRunState(id, sim, engine.StopMaxSteps); err != nil {
		t.Fatalf("SaveRunState failed: %v", err)
	}

	runs, err := db.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Steps != 5 || runs[0].StopReason != "max_steps" {
		t.Errorf("runs = %+v", runs)
	}
	if runs[0].ParamsJSON != `{"preference":0.5}` {
		t.Errorf("params = %s", runs[0].ParamsJSON)
	}

	history, err := db.LoadStatsHistory(id, 0, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	want := sim.StatsHistory()
	if len(history) != len(want) {
		t.Fatalf("history rows = %d, want %d", len(history), len(want))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, history[i], want[i])
		}
	}

	cells, err := db.LoadCells(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 36 {
		t.Fatalf("cells = %d, want 36", len(cells))
	}
	live := sim.Cells()
	for i := range live {
		if cells[i] != live[i] {
			t.Errorf("cell %d = %+v, want %+v", i, cells[i], live[i])
		}
	}

	last, err := db.GetMeta("last_run")
	if err != nil || last != id {
		t.Errorf("last_run = %q, %v", last, err)
	}
}

func TestLoadStatsHistoryRange(t *testing.T) {
	db := openTestDB(t)
	rows := []engine.Stats{{Tick: 1}, {Tick: 2}, {Tick: 3}, {Tick: 4}}
	if err := db.SaveStats("r", rows); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadStatsHistory("r", 2, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Tick != 2 || got[1].Tick != 3 {
		t.Errorf("rows = %+v", got)
	}
}

func TestGetMetaMissing(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetMeta("nope"); err == nil {
		t.Error("expected error for missing key")
	}
}
