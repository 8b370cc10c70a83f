package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/report"
	"github.com/talgya/gentrify/internal/world"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.Sim.Config
	status := map[string]any{
		"name":               "gentrify",
		"run_id":             s.RunID,
		"seed":               s.Sim.Seed(),
		"tick":               s.Sim.CurrentTick(),
		"width":              cfg.Grid.Width,
		"height":             cfg.Grid.Height,
		"preference":         cfg.Preference,
		"population":         s.Sim.Counts(),
		"pending_immigrants": s.Sim.PendingImmigrants(),
		"converged":          s.Sim.Converged(),
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
		status["last_stop"] = s.Eng.LastStop()
	}
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.CurrentStats())
}

// handleStatsHistory serves sampled stats, from the database when the run
// is being persisted and from memory otherwise.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	fromTick := uint64(0)
	toTick := uint64(1<<63 - 1) // Max int64; SQLite rejects uint64 values with the high bit set.
	limit := 100

	q := r.URL.Query()
	if f := q.Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := q.Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil && v < toTick {
			toTick = v
		}
	}
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 5000 {
			limit = v
		}
	}

	if s.DB != nil && s.RunID != "" {
		rows, err := s.DB.LoadStatsHistory(s.RunID, fromTick, toTick, limit)
		if err != nil {
			slog.Error("stats history query failed", "error", err)
			writeJSON(w, []engine.Stats{})
			return
		}
		if rows == nil {
			rows = []engine.Stats{}
		}
		writeJSON(w, rows)
		return
	}

	rows := []engine.Stats{}
	for _, st := range s.Sim.StatsHistory() {
		if st.Tick < fromTick || st.Tick > toTick {
			continue
		}
		rows = append(rows, st)
		if len(rows) == limit {
			break
		}
	}
	writeJSON(w, rows)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	cfg := s.Sim.Config
	writeJSON(w, map[string]any{
		"tick":   s.Sim.CurrentTick(),
		"width":  cfg.Grid.Width,
		"height": cfg.Grid.Height,
		"cells":  s.Sim.Cells(),
	})
}

// handleChart renders the in-memory history as PNG. Optional width/height.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	size := report.DefaultSize
	if v, err := strconv.Atoi(r.URL.Query().Get("width")); err == nil && v >= 200 && v <= 4000 {
		size.Width = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("height")); err == nil && v >= 100 && v <= 4000 {
		size.Height = v
	}

	var buf bytes.Buffer
	if err := report.HistoryChart(&buf, s.Sim.StatsHistory(), size); err != nil {
		if errors.Is(err, report.ErrTooFewPoints) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("chart render failed", "error", err)
		http.Error(w, "chart render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// handleCell returns one cell: GET /api/v1/cell?row=R&col=C.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	row, errR := strconv.Atoi(r.URL.Query().Get("row"))
	col, errC := strconv.Atoi(r.URL.Query().Get("col"))
	if errR != nil || errC != nil {
		http.Error(w, "row and col are required integers", http.StatusBadRequest)
		return
	}
	p := world.Pos{Row: row, Col: col}
	quality, ok := s.Sim.QualityAt(p)
	if !ok {
		http.Error(w, "cell not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{
		"position": p,
		"quality":  quality,
	}
	if h, ok := s.Sim.HouseholdAt(p); ok {
		resp["household"] = h
	}
	writeJSON(w, resp)
}

// handleHouseholds lists households. Filters: class=resident|immigrant,
// unhappy=true|false, limit (default 500).
func (s *Server) handleHouseholds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 500
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	classFilter := q.Get("class")
	var unhappyFilter *bool
	if u := q.Get("unhappy"); u != "" {
		v, err := strconv.ParseBool(u)
		if err != nil {
			http.Error(w, "unhappy must be a boolean", http.StatusBadRequest)
			return
		}
		unhappyFilter = &v
	}

	out := []agents.Household{}
	for _, h := range s.Sim.HouseholdsSnapshot() {
		if classFilter != "" && h.Class.String() != classFilter {
			continue
		}
		if unhappyFilter != nil && h.IsUnhappy() != *unhappyFilter {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSON(w, s.Sim.RecentEvents(limit))
		return
	}

	filtered := []engine.Event{}
	for _, e := range s.Sim.RecentEvents(0) {
		if e.Category == category {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	writeJSON(w, filtered)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.ListRuns()
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine attached", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// handleImmigrants seeds extra immigrants outside the arrival timeline.
// POST {"count": N, "income_mean": M}; income_mean defaults to the run's.
func (s *Server) handleImmigrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Count      int     `json:"count"`
		IncomeMean float64 `json:"income_mean"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Count < 1 || req.Count > 10000 {
		http.Error(w, "count must be 1-10000", http.StatusBadRequest)
		return
	}
	if req.IncomeMean < 0 {
		http.Error(w, "income_mean must be non-negative", http.StatusBadRequest)
		return
	}
	mean := req.IncomeMean
	if mean == 0 {
		mean = s.Sim.Config.Income.ImmigrantMean
	}
	thr := s.Sim.Config.Thresholds()

	placed := []agents.HouseholdID{}
	var placeErr error
	for i := 0; i < req.Count; i++ {
		h, err := s.Sim.SeedImmigrant(mean, thr)
		if err != nil {
			placeErr = err
			break
		}
		placed = append(placed, h.ID)
	}
	slog.Info("immigrants seeded via API", "requested", req.Count, "placed", len(placed))

	resp := map[string]any{
		"requested": req.Count,
		"placed":    placed,
	}
	if placeErr != nil {
		resp["error"] = placeErr.Error()
		if errors.Is(placeErr, engine.ErrNoVacancy) && len(placed) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
		}
	}
	writeJSON(w, resp)
}
