package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/persistence"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Grid = config.GridConfig{Width: 8, Height: 8}
	cfg.Density = 0.5
	cfg.Immigration = config.ImmigrationConfig{Start: 1, Count: 6}
	sim, err := engine.NewSimulation(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := sim.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	s := &Server{Sim: sim, Eng: engine.NewEngine(sim), AdminKey: "secret"}
	return s, s.Handler()
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec
}

func post(h http.Handler, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	var status map[string]any
	rec := get(t, h, "/api/v1/status", &status)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if status["tick"] != float64(3) {
		t.Errorf("tick = %v, want 3", status["tick"])
	}
	if status["pending_immigrants"] != float64(0) {
		t.Errorf("pending = %v, want 0", status["pending_immigrants"])
	}
	if status["speed"] != float64(1) {
		t.Errorf("speed = %v, want 1", status["speed"])
	}
}

func TestStatsAndHistoryFromMemory(t *testing.T) {
	s, h := newTestServer(t)
	var st engine.Stats
	get(t, h, "/api/v1/stats", &st)
	if st != s.Sim.CurrentStats() {
		t.Errorf("stats = %+v, want %+v", st, s.Sim.CurrentStats())
	}

	var rows []engine.Stats
	get(t, h, "/api/v1/stats/history?from=2&limit=5", &rows)
	if len(rows) != 2 || rows[0].Tick != 2 || rows[1].Tick != 3 {
		t.Errorf("history = %+v", rows)
	}
}

func TestHistoryFromDatabase(t *testing.T) {
	s, _ := newTestServer(t)
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.DB, s.RunID = db, persistence.NewRunID()
	if err := db.CreateRun(s.RunID, "api", s.Sim.Seed(), nil); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveStats(s.RunID, s.Sim.StatsHistory()); err != nil {
		t.Fatal(err)
	}
	h := s.Handler()

	var rows []engine.Stats
	get(t, h, "/api/v1/stats/history?from=1&to=1", &rows)
	if len(rows) != 1 || rows[0].Tick != 1 {
		t.Errorf("history = %+v", rows)
	}

	var runs []persistence.Run
	get(t, h, "/api/v1/runs", &runs)
	if len(runs) != 1 || runs[0].ID != s.RunID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestGridAndCell(t *testing.T) {
	_, h := newTestServer(t)
	var grid struct {
		Width  int               `json:"width"`
		Height int               `json:"height"`
		Cells  []engine.CellView `json:"cells"`
	}
	get(t, h, "/api/v1/grid", &grid)
	if grid.Width != 8 || len(grid.Cells) != 64 {
		t.Fatalf("grid = %dx%d with %d cells", grid.Width, grid.Height, len(grid.Cells))
	}

	var occupied *engine.CellView
	for i := range grid.Cells {
		if grid.Cells[i].HouseholdID != 0 {
			occupied = &grid.Cells[i]
			break
		}
	}
	if occupied == nil {
		t.Fatal("no occupied cell")
	}
	var cell struct {
		Household agents.Household `json:"household"`
	}
	path := "/api/v1/cell?row=" + itoa(occupied.Row) + "&col=" + itoa(occupied.Col)
	get(t, h, path, &cell)
	if uint64(cell.Household.ID) != occupied.HouseholdID {
		t.Errorf("cell household = %d, want %d", cell.Household.ID, occupied.HouseholdID)
	}

	if rec := get(t, h, "/api/v1/cell?row=99&col=0", nil); rec.Code != http.StatusNotFound {
		t.Errorf("out of bounds cell = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/api/v1/cell?row=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad cell query = %d, want 400", rec.Code)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestGridRateLimited(t *testing.T) {
	s, _ := newTestServer(t)
	s.GridLimit = 2
	h := s.Handler()
	for i := 0; i < 2; i++ {
		if rec := get(t, h, "/api/v1/grid", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := get(t, h, "/api/v1/grid", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestChart(t *testing.T) {
	_, h := newTestServer(t)
	rec := get(t, h, "/api/v1/chart.png?width=300&height=150", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func TestHouseholdsFilter(t *testing.T) {
	s, h := newTestServer(t)
	var all, imm []agents.Household
	get(t, h, "/api/v1/households", &all)
	get(t, h, "/api/v1/households?class=immigrant", &imm)
	if len(all) != len(s.Sim.HouseholdsSnapshot()) {
		t.Errorf("all = %d, want %d", len(all), len(s.Sim.HouseholdsSnapshot()))
	}
	if len(imm) != s.Sim.Counts().Immigrants {
		t.Errorf("immigrants = %d, want %d", len(imm), s.Sim.Counts().Immigrants)
	}
	for _, hh := range imm {
		if hh.Class != agents.ClassImmigrant {
			t.Errorf("household %d has class %v", hh.ID, hh.Class)
		}
	}
	if rec := get(t, h, "/api/v1/households?unhappy=maybe", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter = %d, want 400", rec.Code)
	}
}

func TestEventsCategory(t *testing.T) {
	_, h := newTestServer(t)
	var events []engine.Event
	get(t, h, "/api/v1/events?category=immigration", &events)
	if len(events) == 0 {
		t.Fatal("expected an immigration event")
	}
	for _, e := range events {
		if e.Category != "immigration" {
			t.Errorf("event category = %q", e.Category)
		}
	}
}

func TestSpeedAuth(t *testing.T) {
	s, h := newTestServer(t)
	if rec := post(h, "/api/v1/speed", "", `{"speed":5}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := post(h, "/api/v1/speed", "wrong", `{"speed":5}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}
	if rec := post(h, "/api/v1/speed", "secret", `{"speed":5000}`); rec.Code != http.StatusBadRequest {
		t.Errorf("out of range = %d, want 400", rec.Code)
	}
	if rec := post(h, "/api/v1/speed", "secret", `{"speed":5}`); rec.Code != http.StatusOK {
		t.Fatalf("valid = %d", rec.Code)
	}
	if s.Eng.Speed() != 5 {
		t.Errorf("speed = %v, want 5", s.Eng.Speed())
	}

	s.AdminKey = ""
	if rec := post(s.Handler(), "/api/v1/speed", "secret", `{"speed":5}`); rec.Code != http.StatusForbidden {
		t.Errorf("disabled admin = %d, want 403", rec.Code)
	}
}

func TestSeedImmigrants(t *testing.T) {
	s, h := newTestServer(t)
	before := s.Sim.Counts().Immigrants
	rec := post(h, "/api/v1/immigrants", "secret", `{"count":3,"income_mean":2000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Placed []agents.HouseholdID `json:"placed"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Placed) != 3 || s.Sim.Counts().Immigrants != before+3 {
		t.Errorf("placed %v, immigrants %d -> %d", resp.Placed, before, s.Sim.Counts().Immigrants)
	}

	// Fill the town, then ask for more.
	post(h, "/api/v1/immigrants", "secret", `{"count":100}`)
	rec = post(h, "/api/v1/immigrants", "secret", `{"count":1}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("full town = %d, want 409", rec.Code)
	}

	if rec := post(h, "/api/v1/immigrants", "secret", `{"count":0}`); rec.Code != http.StatusBadRequest {
		t.Errorf("zero count = %d, want 400", rec.Code)
	}
}

func TestSSECatchUp(t *testing.T) {
	_, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "event: ") {
		t.Errorf("first line = %q", line)
	}
}

func TestStreamKey(t *testing.T) {
	s, _ := newTestServer(t)
	s.StreamKey = "relay"
	rec := get(t, s.Handler(), "/api/v1/stream", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing stream key = %d, want 401", rec.Code)
	}
}

func TestWebsocketStats(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() wsFrame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		return f
	}

	first := read()
	if first.Type != "stats" || first.Stats.Tick != 3 {
		t.Fatalf("first frame = %+v", first)
	}

	if _, err := s.Sim.Advance(); err != nil {
		t.Fatal(err)
	}
	next := read()
	if next.Stats.Tick != 4 {
		t.Errorf("next tick = %d, want 4", next.Stats.Tick)
	}
}
