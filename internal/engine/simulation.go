// Simulation ties the town grid, the household population and the immigrant
// timeline together and advances them one tick at a time.

package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/config"
	"github.com/talgya/gentrify/internal/entropy"
	"github.com/talgya/gentrify/internal/world"
)

// maxEvents bounds the in-memory event ring.
const maxEvents = 1000

// Simulation holds the complete model state. A tick is applied by a single
// writer; observers read through the accessor methods, which take the read
// lock.
type Simulation struct {
	Config     config.Config
	Grid       *world.Grid[*agents.Cell]
	Households []*agents.Household // Live population, in arrival order
	Slums      []*agents.Slum
	Spawner    *agents.Spawner
	Rng        *entropy.Stream
	Logger     *slog.Logger

	LastTick uint64  // Most recent tick processed
	Events   []Event // Recent events, oldest first
	Stats    Stats   // Metrics of the most recent tick
	History  []Stats // Stats sampled every Config.Run.CollectEvery ticks

	// LastActivation is the order households were activated in the most
	// recent tick.
	LastActivation []agents.HouseholdID

	immigrantsArrived int
	seededArrivals    int // Seeded between ticks, counted in the next tick's stats
	counters          tickCounters

	mu       sync.RWMutex
	eventHub hub[Event]
	statsHub hub[Stats]
}

// Event is a notable occurrence in the town.
type Event struct {
	Tick        uint64 `json:"tick"`
	Description string `json:"description"`
	Category    string `json:"category"` // "move", "slum", "immigration", "report"
}

// tickCounters accumulate per-tick outcomes for Stats.
type tickCounters struct {
	moves    int
	failures int
	slums    int
	arrivals int
}

// NewSimulation builds the town: one house per cell with simplex-noise
// starting quality, and a resident on each cell with probability
// cfg.Density. A nil logger uses slog.Default().
func NewSimulation(cfg config.Config, logger *slog.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	rng := entropy.NewStream(cfg.Seed)
	s := &Simulation{
		Config:  cfg,
		Grid:    world.NewGrid[*agents.Cell](cfg.Grid.Width, cfg.Grid.Height),
		Spawner: agents.NewSpawner(rng),
		Rng:     rng,
		Logger:  logger,
	}

	field := world.QualityField(cfg.Grid.Width, cfg.Grid.Height, rng.Seed(), cfg.FieldConfig(), cfg.Income.ResidentMean)
	for _, p := range s.Grid.Positions() {
		cell := &agents.Cell{House: &agents.House{Position: p, Quality: field.Get(p)}}
		s.Grid.Set(p, cell)
		if rng.Bernoulli(cfg.Density) {
			h := s.Spawner.Spawn(agents.ClassResident, p, cfg.ResidentIncome(), cfg.Thresholds(), 0)
			s.place(h)
		}
	}

	s.updateStats(agents.TickContext{MaxQuality: s.maxQuality()})
	s.History = append(s.History, s.Stats)

	logger.Info("town built",
		"width", cfg.Grid.Width,
		"height", cfg.Grid.Height,
		"residents", len(s.Households),
		"seed", rng.Seed(),
	)
	return s, nil
}

// Advance runs one tick: immigrant injection, housing updates, priority
// ordered household activation, then metrics. It returns the tick's stats.
// ErrNoVacancy is returned when arriving immigrants cannot be housed; the
// model is left untouched and the tick is not consumed.
func (s *Simulation) Advance() (Stats, error) {
	s.mu.Lock()

	tick := s.LastTick + 1
	if due, vacant := s.arrivalsDue(tick), len(s.vacancies()); due > vacant {
		s.mu.Unlock()
		s.Logger.Error("immigration halted", "tick", tick, "due", due, "vacant", vacant)
		return Stats{}, fmt.Errorf("tick %d: placing %d immigrants in %d vacant houses: %w", tick, due, vacant, ErrNoVacancy)
	}

	s.LastTick = tick
	s.counters = tickCounters{arrivals: s.seededArrivals}
	s.seededArrivals = 0
	for _, h := range s.Households {
		h.MovedThisStep = false
	}

	if err := s.injectImmigrants(tick); err != nil {
		s.mu.Unlock()
		return Stats{}, fmt.Errorf("tick %d: %w", tick, err)
	}

	ctx := s.runScheduler(tick)
	s.updateStats(ctx)
	if tick%uint64(s.collectEvery()) == 0 {
		s.History = append(s.History, s.Stats)
	}
	stats := s.Stats
	s.mu.Unlock()

	s.statsHub.publish(stats)
	return stats, nil
}

// Converged reports whether every household is happy and no immigrants are
// still due.
func (s *Simulation) Converged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats.Unhappy == 0 && s.pendingImmigrants() == 0
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// Seed returns the seed of the run's random stream.
func (s *Simulation) Seed() int64 {
	return s.Rng.Seed()
}

func (s *Simulation) collectEvery() int {
	if s.Config.Run.CollectEvery < 1 {
		return 1
	}
	return s.Config.Run.CollectEvery
}

// place puts h on its position's cell and adds it to the population.
func (s *Simulation) place(h *agents.Household) {
	s.Grid.Get(h.Position).Household = h
	s.Households = append(s.Households, h)
}

// neighborHouseholds returns households in the Moore neighbourhood of p at
// radius 1, excluding p itself.
func (s *Simulation) neighborHouseholds(p world.Pos) []*agents.Household {
	var out []*agents.Household
	for _, q := range s.Grid.Neighborhood(p, 1, false) {
		if cell := s.Grid.Get(q); cell != nil && cell.Household != nil {
			out = append(out, cell.Household)
		}
	}
	return out
}

// maxQuality returns the highest house quality on the grid, or 0.
func (s *Simulation) maxQuality() float64 {
	maxQ := 0.0
	for _, p := range s.Grid.Positions() {
		if cell := s.Grid.Get(p); cell != nil && cell.House != nil && cell.House.Quality > maxQ {
			maxQ = cell.House.Quality
		}
	}
	return maxQ
}

func (s *Simulation) addEvent(e Event) {
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	s.eventHub.publish(e)
}

// Record appends an event from outside the tick.
func (s *Simulation) Record(category, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEvent(Event{Tick: s.LastTick, Description: description, Category: category})
}

// Subscribe registers for events as they happen. Slow subscribers miss
// events rather than blocking the tick.
func (s *Simulation) Subscribe() (int, <-chan Event) {
	return s.eventHub.subscribe()
}

// Unsubscribe closes an event subscription.
func (s *Simulation) Unsubscribe(id int) {
	s.eventHub.unsubscribe(id)
}

// SubscribeStats registers for per-tick stats.
func (s *Simulation) SubscribeStats() (int, <-chan Stats) {
	return s.statsHub.subscribe()
}

// UnsubscribeStats closes a stats subscription.
func (s *Simulation) UnsubscribeStats(id int) {
	s.statsHub.unsubscribe(id)
}
