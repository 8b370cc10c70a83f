// Priority scheduler: housing updates, then unhappy households activated
// wealthiest first.

package engine

import (
	"sort"

	"github.com/talgya/gentrify/internal/agents"
)

// ActivationOrder selects the unhappy households and sorts them by income,
// descending. Equal incomes are ordered by ascending ID so runs are
// reproducible.
func ActivationOrder(households []*agents.Household) []*agents.Household {
	var order []*agents.Household
	for _, h := range households {
		if h.IsUnhappy() {
			order = append(order, h)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Income != order[j].Income {
			return order[i].Income > order[j].Income
		}
		return order[i].ID < order[j].ID
	})
	return order
}

// runScheduler performs the housing and household phases of a tick and
// returns the context the households saw.
func (s *Simulation) runScheduler(tick uint64) agents.TickContext {
	s.updateHousing()

	ctx := agents.TickContext{
		Tick:       tick,
		Preference: s.Config.Preference,
		MaxQuality: s.maxQuality(),
		Alpha:      s.Config.Happiness.Alpha,
	}

	order := ActivationOrder(s.Households)
	s.LastActivation = s.LastActivation[:0]
	for _, h := range order {
		s.LastActivation = append(s.LastActivation, h.ID)
		s.activate(h, ctx)
	}
	return ctx
}

// updateHousing recomputes every house's quality from its neighbours'
// incomes. Each house reads only households, so order is irrelevant.
// Slums keep their fixed zero quality.
func (s *Simulation) updateHousing() {
	for _, p := range s.Grid.Positions() {
		cell := s.Grid.Get(p)
		if cell == nil || cell.House == nil {
			continue
		}
		cell.House.UpdateQuality(s.neighborHouseholds(p))
	}
}

// activate is one household's step: utility, happiness, then the move
// decision. Earlier activations in the same tick are visible here.
func (s *Simulation) activate(h *agents.Household, ctx agents.TickContext) {
	cell := s.Grid.Get(h.Position)
	if cell == nil || cell.House == nil || cell.Household != h {
		return
	}
	quality := cell.House.Quality
	utility := h.ComputeUtility(ctx, quality, s.neighborHouseholds(h.Position))
	h.UpdateHappiness(utility, ctx.Alpha)
	s.decideToMove(h, ctx, quality)
}
