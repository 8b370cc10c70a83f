// Immigration: the arrival timeline and immigrant placement.

package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/world"
)

// ErrNoVacancy means there is no vacant house to place a new household in.
var ErrNoVacancy = errors.New("no vacant housing")

// SeedImmigrant places one immigrant with the given income mean (the run's
// variance and floor apply) on a vacant house chosen uniformly at random.
// The arrival is counted in the next tick's Stats.Arrivals.
func (s *Simulation) SeedImmigrant(incomeMean float64, thr agents.ThresholdParams) (*agents.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.seedImmigrant(incomeMean, thr, s.LastTick)
	if err != nil {
		return nil, err
	}
	s.seededArrivals++
	return h, nil
}

// PendingImmigrants returns how many scheduled immigrants have not arrived.
func (s *Simulation) PendingImmigrants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingImmigrants()
}

func (s *Simulation) pendingImmigrants() int {
	n := s.Config.Immigration.Count - s.immigrantsArrived
	if n < 0 {
		return 0
	}
	return n
}

func (s *Simulation) seedImmigrant(incomeMean float64, thr agents.ThresholdParams, tick uint64) (*agents.Household, error) {
	vacant := s.vacancies()
	if len(vacant) == 0 {
		return nil, fmt.Errorf("placing immigrant: %w", ErrNoVacancy)
	}
	pos := vacant[s.Rng.Intn(len(vacant))]

	income := s.Config.ImmigrantIncome()
	income.Mean = incomeMean
	h := s.Spawner.Spawn(agents.ClassImmigrant, pos, income, thr, tick)
	s.place(h)
	return h, nil
}

// arrivalsDue returns how many immigrants the timeline schedules for tick.
func (s *Simulation) arrivalsDue(tick uint64) int {
	im := s.Config.Immigration
	pending := s.pendingImmigrants()
	if pending == 0 || tick < im.Start {
		return 0
	}
	if im.PerTick <= 0 || im.PerTick > pending {
		return pending
	}
	return im.PerTick
}

func (s *Simulation) injectImmigrants(tick uint64) error {
	due := s.arrivalsDue(tick)
	if due == 0 {
		return nil
	}
	for i := 0; i < due; i++ {
		if _, err := s.seedImmigrant(s.Config.Income.ImmigrantMean, s.Config.Thresholds(), tick); err != nil {
			s.Logger.Error("immigration halted", "tick", tick, "placed", i, "due", due, "error", err)
			return err
		}
		s.immigrantsArrived++
		s.counters.arrivals++
	}
	s.addEvent(Event{
		Tick:        tick,
		Description: fmt.Sprintf("%d immigrants arrived (%d still expected)", due, s.pendingImmigrants()),
		Category:    "immigration",
	})
	s.Logger.Info("immigrants arrived", "tick", tick, "count", due, "pending", s.pendingImmigrants())
	return nil
}

// vacancies lists vacant housing cells in row-major order.
func (s *Simulation) vacancies() []world.Pos {
	var out []world.Pos
	for _, p := range s.Grid.Positions() {
		if s.Grid.Get(p).Vacant() {
			out = append(out, p)
		}
	}
	return out
}
