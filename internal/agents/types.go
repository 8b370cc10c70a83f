// Package agents provides the household and housing data model and the
// per-agent rules: quality updates, utility, happiness smoothing and the
// relocation trigger. Agents hold only a grid position; neighbours are
// looked up by the caller on every use and never cached.
package agents

import (
	"github.com/talgya/gentrify/internal/world"
)

// HouseholdID is a unique identifier for a household.
type HouseholdID uint64

// Class distinguishes the household variants.
type Class uint8

const (
	ClassResident  Class = 0
	ClassImmigrant Class = 1
)

// String returns the lower-case class name.
func (c Class) String() string {
	switch c {
	case ClassResident:
		return "resident"
	case ClassImmigrant:
		return "immigrant"
	default:
		return "unknown"
	}
}

// Household is a resident or immigrant family occupying one grid cell.
type Household struct {
	ID       HouseholdID `json:"id"`
	Class    Class       `json:"class"`
	Position world.Pos   `json:"position"`
	Income   float64     `json:"income"` // > 0

	// Happiness is exponentially smoothed, clamped to [ThresholdMin, ThresholdMax].
	HappinessThreshold float64 `json:"happiness_threshold"`
	ThresholdMin       float64 `json:"threshold_min"`
	ThresholdMax       float64 `json:"threshold_max"`
	LastUtility        float64 `json:"last_utility"`
	Unhappy            bool    `json:"unhappy"`

	// Relocation bookkeeping.
	FailedAttempts int  `json:"failed_attempts"` // Consecutive failed searches
	MovedThisStep  bool `json:"moved_this_step"`

	ArrivedTick uint64 `json:"arrived_tick"`
}

// House is the housing unit on a cell.
type House struct {
	Position world.Pos `json:"position"`
	Quality  float64   `json:"quality"` // Locational quality, >= 0
}

// Slum replaces both the household and the house on a cell. Terminal.
type Slum struct {
	Position     world.Pos `json:"position"`
	ConvertedAt  uint64    `json:"converted_at"`
	FormerIncome float64   `json:"former_income"`
}

// Quality is always zero for a slum.
func (s *Slum) Quality() float64 {
	return 0
}

// Cell is everything that can sit on one grid position. House and Slum are
// mutually exclusive; Household is nil on vacant cells and slums.
type Cell struct {
	House     *House
	Slum      *Slum
	Household *Household
}

// Vacant returns true if the cell has a house and nobody living in it.
func (c *Cell) Vacant() bool {
	return c != nil && c.House != nil && c.Household == nil
}

// TickContext is the read-only model state an agent sees during one tick.
type TickContext struct {
	Tick       uint64
	Preference float64 // Weight of quality vs. in-group affinity, [0, 1]
	MaxQuality float64 // Highest locational quality across all houses this tick
	Alpha      float64 // Happiness smoothing constant
}

// ThresholdParams configures a new household's happiness threshold.
type ThresholdParams struct {
	Initial float64
	Min     float64
	Max     float64
}

// DefaultThresholdParams matches the model's usual setup.
func DefaultThresholdParams() ThresholdParams {
	return ThresholdParams{Initial: 0.5, Min: 0, Max: 1}
}

// IncomeParams configures income sampling.
type IncomeParams struct {
	Mean     float64
	Variance float64 // Standard deviation as a fraction of Mean
	Floor    float64 // Sampled incomes below this are raised to it
}
