// Household spawning: initial residents and arriving immigrants.

package agents

import (
	"github.com/talgya/gentrify/internal/entropy"
	"github.com/talgya/gentrify/internal/world"
)

// Spawner creates households, drawing from the run's shared stream.
type Spawner struct {
	rng    *entropy.Stream
	nextID HouseholdID
}

// NewSpawner creates a household spawner on the given stream.
func NewSpawner(rng *entropy.Stream) *Spawner {
	return &Spawner{
		rng:    rng,
		nextID: 1,
	}
}

// SetNextID sets the next household ID to be issued.
func (s *Spawner) SetNextID(id HouseholdID) {
	s.nextID = id
}

// NextID returns the ID the next spawned household will get.
func (s *Spawner) NextID() HouseholdID {
	return s.nextID
}

// Spawn creates one household of the given class at pos.
func (s *Spawner) Spawn(class Class, pos world.Pos, income IncomeParams, thr ThresholdParams, tick uint64) *Household {
	id := s.nextID
	s.nextID++

	initial := clamp(thr.Initial, thr.Min, thr.Max)
	h := &Household{
		ID:                 id,
		Class:              class,
		Position:           pos,
		Income:             s.SampleIncome(income),
		HappinessThreshold: initial,
		ThresholdMin:       thr.Min,
		ThresholdMax:       thr.Max,
		ArrivedTick:        tick,
	}
	h.Unhappy = h.IsUnhappy()
	return h
}

// SampleIncome draws from Normal(mean, variance*mean), raised to the floor.
// The result is always positive.
func (s *Spawner) SampleIncome(p IncomeParams) float64 {
	income := s.rng.Normal(p.Mean, p.Variance*p.Mean)
	floor := p.Floor
	if floor <= 0 {
		floor = 1
	}
	if income < floor {
		income = floor
	}
	return income
}
