// Metrics collection and read-only views for observers.

package engine

import (
	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/world"
)

// Stats is the aggregate state of the town after one tick.
type Stats struct {
	Tick uint64 `json:"tick" db:"tick"`

	Residents  int `json:"residents" db:"residents"`
	Immigrants int `json:"immigrants" db:"immigrants"`
	Slums      int `json:"slums" db:"slums"`
	Vacant     int `json:"vacant" db:"vacant"`

	Happy   int `json:"happy" db:"happy"`
	Unhappy int `json:"unhappy" db:"unhappy"`

	Moved           int `json:"moved" db:"moved"`
	FailedMoves     int `json:"failed_moves" db:"failed_moves"`
	SlumConversions int `json:"slum_conversions" db:"slum_conversions"`
	Arrivals        int `json:"arrivals" db:"arrivals"`

	AvgIncome          float64 `json:"avg_income" db:"avg_income"`
	AvgResidentIncome  float64 `json:"avg_resident_income" db:"avg_resident_income"`
	AvgImmigrantIncome float64 `json:"avg_immigrant_income" db:"avg_immigrant_income"`
	AvgQuality         float64 `json:"avg_quality" db:"avg_quality"`
	MaxQuality         float64 `json:"max_quality" db:"max_quality"`
	AvgUtility         float64 `json:"avg_utility" db:"avg_utility"`
	Segregation        float64 `json:"segregation" db:"segregation"` // Mean in-group fraction
}

// Counts is the population by class.
type Counts struct {
	Residents  int `json:"residents"`
	Immigrants int `json:"immigrants"`
	Slums      int `json:"slums"`
}

// CellView is a flat, copyable snapshot of one grid cell.
type CellView struct {
	Row         int     `json:"row" db:"row"`
	Col         int     `json:"col" db:"col"`
	Kind        string  `json:"kind" db:"kind"` // "house" or "slum"
	Quality     float64 `json:"quality" db:"quality"`
	HouseholdID uint64  `json:"household_id,omitempty" db:"household_id"` // 0 when vacant
	Class       string  `json:"class,omitempty" db:"class"`
	Income      float64 `json:"income,omitempty" db:"income"`
	LastUtility float64 `json:"last_utility,omitempty" db:"last_utility"`
	Threshold   float64 `json:"threshold,omitempty" db:"threshold"`
	Unhappy     bool    `json:"unhappy,omitempty" db:"unhappy"`
	Moved       bool    `json:"moved,omitempty" db:"moved"`
}

func (s *Simulation) updateStats(ctx agents.TickContext) {
	st := Stats{
		Tick:            s.LastTick,
		Slums:           len(s.Slums),
		Moved:           s.counters.moves,
		FailedMoves:     s.counters.failures,
		SlumConversions: s.counters.slums,
		Arrivals:        s.counters.arrivals,
		MaxQuality:      ctx.MaxQuality,
	}

	var totalIncome, resIncome, immIncome, totalUtility, segregation float64
	withNeighbors := 0
	for _, h := range s.Households {
		totalIncome += h.Income
		totalUtility += h.LastUtility
		switch h.Class {
		case agents.ClassImmigrant:
			st.Immigrants++
			immIncome += h.Income
		default:
			st.Residents++
			resIncome += h.Income
		}
		if h.IsUnhappy() {
			st.Unhappy++
		} else {
			st.Happy++
		}
		if neighbors := s.neighborHouseholds(h.Position); len(neighbors) > 0 {
			segregation += h.InGroupFraction(neighbors)
			withNeighbors++
		}
	}

	if n := len(s.Households); n > 0 {
		st.AvgIncome = totalIncome / float64(n)
		st.AvgUtility = totalUtility / float64(n)
	}
	if st.Residents > 0 {
		st.AvgResidentIncome = resIncome / float64(st.Residents)
	}
	if st.Immigrants > 0 {
		st.AvgImmigrantIncome = immIncome / float64(st.Immigrants)
	}
	if withNeighbors > 0 {
		st.Segregation = segregation / float64(withNeighbors)
	}

	houses := 0
	totalQuality := 0.0
	for _, p := range s.Grid.Positions() {
		cell := s.Grid.Get(p)
		if cell == nil || cell.House == nil {
			continue
		}
		houses++
		totalQuality += cell.House.Quality
		if cell.Household == nil {
			st.Vacant++
		}
	}
	if houses > 0 {
		st.AvgQuality = totalQuality / float64(houses)
	}

	s.Stats = st
}

// CurrentStats returns the most recent tick's stats.
func (s *Simulation) CurrentStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// StatsHistory returns a copy of the sampled stats.
func (s *Simulation) StatsHistory() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stats, len(s.History))
	copy(out, s.History)
	return out
}

// RecentEvents returns up to n of the newest events, oldest first. n <= 0
// returns all of them.
func (s *Simulation) RecentEvents(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.Events) - n
	if start < 0 || n <= 0 {
		start = 0
	}
	out := make([]Event, len(s.Events)-start)
	copy(out, s.Events[start:])
	return out
}

// Counts returns the population by class.
func (s *Simulation) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{Slums: len(s.Slums)}
	for _, h := range s.Households {
		if h.Class == agents.ClassImmigrant {
			c.Immigrants++
		} else {
			c.Residents++
		}
	}
	return c
}

// QualityAt returns the locational quality at p. Slums report 0; ok is
// false outside the grid.
func (s *Simulation) QualityAt(p world.Pos) (quality float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.Grid.Get(p)
	switch {
	case cell == nil:
		return 0, false
	case cell.Slum != nil:
		return cell.Slum.Quality(), true
	case cell.House != nil:
		return cell.House.Quality, true
	}
	return 0, false
}

// HouseholdAt returns a copy of the household at p.
func (s *Simulation) HouseholdAt(p world.Pos) (agents.Household, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell := s.Grid.Get(p)
	if cell == nil || cell.Household == nil {
		return agents.Household{}, false
	}
	return *cell.Household, true
}

// HouseholdsSnapshot returns copies of every live household.
func (s *Simulation) HouseholdsSnapshot() []agents.Household {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agents.Household, len(s.Households))
	for i, h := range s.Households {
		out[i] = *h
	}
	return out
}

// Cells returns a row-major snapshot of the grid.
func (s *Simulation) Cells() []CellView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CellView, 0, s.Grid.Size())
	for _, p := range s.Grid.Positions() {
		cell := s.Grid.Get(p)
		v := CellView{Row: p.Row, Col: p.Col}
		switch {
		case cell == nil:
			continue
		case cell.Slum != nil:
			v.Kind = "slum"
		case cell.House != nil:
			v.Kind = "house"
			v.Quality = cell.House.Quality
		}
		if h := cell.Household; h != nil {
			v.HouseholdID = uint64(h.ID)
			v.Class = h.Class.String()
			v.Income = h.Income
			v.LastUtility = h.LastUtility
			v.Threshold = h.HappinessThreshold
			v.Unhappy = h.IsUnhappy()
			v.Moved = h.MovedThisStep
		}
		out = append(out, v)
	}
	return out
}
