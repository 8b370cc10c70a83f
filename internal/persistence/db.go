// Package persistence provides SQLite storage for run results and a
// compressed per-tick trace format.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/gentrify/internal/engine"
)

// DB wraps a SQLite connection for run results.
type DB struct {
	conn *sqlx.DB
}

// Run is one recorded simulation run.
type Run struct {
	ID         string `db:"id" json:"id"`
	Label      string `db:"label" json:"label"`
	StartedAt  string `db:"started_at" json:"started_at"`
	Seed       int64  `db:"seed" json:"seed"`
	ParamsJSON string `db:"params_json" json:"params"`
	Steps      uint64 `db:"steps" json:"steps"`
	StopReason string `db:"stop_reason" json:"stop_reason"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; sweeps funnel their results through a single goroutine anyway.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		residents INTEGER NOT NULL,
		immigrants INTEGER NOT NULL,
		slums INTEGER NOT NULL,
		vacant INTEGER NOT NULL,
		happy INTEGER NOT NULL,
		unhappy INTEGER NOT NULL,
		moved INTEGER NOT NULL,
		failed_moves INTEGER NOT NULL,
		slum_conversions INTEGER NOT NULL,
		arrivals INTEGER NOT NULL,
		avg_income REAL NOT NULL,
		avg_resident_income REAL NOT NULL,
		avg_immigrant_income REAL NOT NULL,
		avg_quality REAL NOT NULL,
		max_quality REAL NOT NULL,
		avg_utility REAL NOT NULL,
		segregation REAL NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS cells (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		row INTEGER NOT NULL,
		col INTEGER NOT NULL,
		kind TEXT NOT NULL,
		quality REAL NOT NULL,
		household_id INTEGER NOT NULL,
		class TEXT NOT NULL,
		income REAL NOT NULL,
		last_utility REAL NOT NULL,
		threshold REAL NOT NULL,
		unhappy INTEGER NOT NULL,
		moved INTEGER NOT NULL,
		PRIMARY KEY (run_id, row, col)
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun records the start of a run. params is stored as JSON.
func (db *DB) CreateRun(id, label string, seed int64, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT INTO runs (id, label, started_at, seed, params_json) VALUES (?, ?, ?, ?, ?)",
		id, label, time.Now().UTC().Format(time.RFC3339), seed, string(paramsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}
	return nil
}

// FinishRun records how far a run got and why it stopped.
func (db *DB) FinishRun(id string, steps uint64, reason string) error {
	_, err := db.conn.Exec("UPDATE runs SET steps = ?, stop_reason = ? WHERE id = ?", steps, reason, id)
	return err
}

// SaveStats writes stats rows for a run, replacing any existing ticks.
func (db *DB) SaveStats(runID string, stats []engine.Stats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO tick_stats
		(run_id, tick, residents, immigrants, slums, vacant, happy, unhappy,
		 moved, failed_moves, slum_conversions, arrivals,
		 avg_income, avg_resident_income, avg_immigrant_income,
		 avg_quality, max_quality, avg_utility, segregation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range stats {
		_, err := stmt.Exec(
			runID, s.Tick, s.Residents, s.Immigrants, s.Slums, s.Vacant, s.Happy, s.Unhappy,
			s.Moved, s.FailedMoves, s.SlumConversions, s.Arrivals,
			s.AvgIncome, s.AvgResidentIncome, s.AvgImmigrantIncome,
			s.AvgQuality, s.MaxQuality, s.AvgUtility, s.Segregation,
		)
		if err != nil {
			return fmt.Errorf("insert stats tick %d: %w", s.Tick, err)
		}
	}

	return tx.Commit()
}

// SaveCells stores a full grid snapshot for a run (full replace).
func (db *DB) SaveCells(runID string, tick uint64, cells []engine.CellView) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cells WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO cells
		(run_id, tick, row, col, kind, quality, household_id, class,
		 income, last_utility, threshold, unhappy, moved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cells {
		_, err := stmt.Exec(
			runID, tick, c.Row, c.Col, c.Kind, c.Quality, c.HouseholdID, c.Class,
			c.Income, c.LastUtility, c.Threshold, c.Unhappy, c.Moved,
		)
		if err != nil {
			return fmt.Errorf("insert cell (%d,%d): %w", c.Row, c.Col, err)
		}
	}

	return tx.Commit()
}

// SaveRunState performs a full save of a run's sampled history and final grid.
func (db *DB) SaveRunState(runID string, sim *engine.Simulation, reason engine.StopReason) error {
	history := sim.StatsHistory()
	tick := sim.CurrentTick()
	slog.Info("saving run state", "run", runID, "tick", tick, "samples", len(history))

	if err := db.SaveStats(runID, history); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	if err := db.SaveCells(runID, tick, sim.Cells()); err != nil {
		return fmt.Errorf("save cells: %w", err)
	}
	if err := db.FinishRun(runID, tick, string(reason)); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := db.SaveMeta("last_run", runID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// ListRuns returns recorded runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs,
		"SELECT id, label, started_at, seed, params_json, steps, stop_reason FROM runs ORDER BY started_at DESC, id")
	return runs, err
}

// LoadStatsHistory returns up to limit stats rows for a run with ticks in
// [from, to], in tick order.
func (db *DB) LoadStatsHistory(runID string, from, to uint64, limit int) ([]engine.Stats, error) {
	var rows []engine.Stats
	err := db.conn.Select(&rows, `SELECT tick, residents, immigrants, slums, vacant, happy, unhappy,
		moved, failed_moves, slum_conversions, arrivals,
		avg_income, avg_resident_income, avg_immigrant_income,
		avg_quality, max_quality, avg_utility, segregation
		FROM tick_stats WHERE run_id = ? AND tick >= ? AND tick <= ?
		ORDER BY tick LIMIT ?`, runID, from, to, limit)
	return rows, err
}

// LoadCells returns a run's saved grid snapshot in row-major order.
func (db *DB) LoadCells(runID string) ([]engine.CellView, error) {
	var cells []engine.CellView
	err := db.conn.Select(&cells, `SELECT row, col, kind, quality, household_id, class,
		income, last_utility, threshold, unhappy, moved
		FROM cells WHERE run_id = ? ORDER BY row, col`, runID)
	return cells, err
}
