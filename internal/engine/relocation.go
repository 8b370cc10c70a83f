// Relocation: the "find a better house" search and the move/slum outcomes.

package engine

import (
	"fmt"
	"math"

	"github.com/talgya/gentrify/internal/agents"
	"github.com/talgya/gentrify/internal/entropy"
	"github.com/talgya/gentrify/internal/world"
)

// SearchParams tunes the relocation search.
type SearchParams struct {
	Jitter        float64 // Perturbation drawn from [-Jitter, Jitter) times income
	FallbackRatio float64 // Fallback cells need quality >= FallbackRatio*income
}

// FindBetterHouse scans every vacant housing cell in row-major order.
// Each candidate's quality is perturbed by uniform jitter scaled by income;
// among candidates whose perturbed quality is still below income, the one
// with the highest unperturbed quality wins (first found on ties). If none
// is affordable, a cell is drawn uniformly from those with quality of at
// least FallbackRatio*income. ok is false when both sets are empty.
//
// One jitter value is drawn per candidate, in scan order, from rng.
func FindBetterHouse(g *world.Grid[*agents.Cell], income float64, p SearchParams, rng *entropy.Stream) (target world.Pos, ok bool) {
	var best world.Pos
	bestQuality := math.Inf(-1)
	found := false
	var fallback []world.Pos

	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			pos := world.Pos{Row: r, Col: c}
			cell := g.Get(pos)
			if !cell.Vacant() {
				continue
			}

			q := cell.House.Quality
			perturbed := q + rng.Uniform(-p.Jitter, p.Jitter)*income
			if perturbed < income && q > bestQuality {
				best, bestQuality, found = pos, q, true
			}
			if q >= p.FallbackRatio*income {
				fallback = append(fallback, pos)
			}
		}
	}

	if found {
		return best, true
	}
	if len(fallback) > 0 {
		return fallback[rng.Intn(len(fallback))], true
	}
	return world.Pos{}, false
}

func (s *Simulation) searchParams() SearchParams {
	return SearchParams{
		Jitter:        s.Config.Relocation.Jitter,
		FallbackRatio: s.Config.Relocation.FallbackRatio,
	}
}

// decideToMove applies the relocation trigger for h at its current home.
func (s *Simulation) decideToMove(h *agents.Household, ctx agents.TickContext, quality float64) {
	if !h.WantsToMove(quality) {
		return
	}

	target, ok := FindBetterHouse(s.Grid, h.Income, s.searchParams(), s.Rng)
	if ok {
		from := h.Position
		s.moveHousehold(h, target)
		h.RecordMove()
		s.counters.moves++
		s.addEvent(Event{
			Tick:        ctx.Tick,
			Description: fmt.Sprintf("%s %d moved %s -> %s", h.Class, h.ID, from, target),
			Category:    "move",
		})
		s.Logger.Debug("household moved",
			"tick", ctx.Tick, "household", h.ID, "class", h.Class.String(),
			"from", from.String(), "to", target.String())
		return
	}

	s.counters.failures++
	s.Logger.Debug("relocation failed",
		"tick", ctx.Tick, "household", h.ID, "attempts", h.FailedAttempts+1)
	if h.RecordFailure(s.Config.Relocation.MaxFailures) {
		s.convertToSlum(h, ctx.Tick)
	}
}

// moveHousehold relocates h to the vacant cell at to.
func (s *Simulation) moveHousehold(h *agents.Household, to world.Pos) {
	if old := s.Grid.Get(h.Position); old != nil && old.Household == h {
		old.Household = nil
	}
	s.Grid.Get(to).Household = h
	h.Position = to
}

// convertToSlum removes h and its house and leaves a slum in their place.
func (s *Simulation) convertToSlum(h *agents.Household, tick uint64) {
	pos := h.Position
	cell := s.Grid.Get(pos)
	cell.Household = nil
	cell.House = nil
	slum := &agents.Slum{Position: pos, ConvertedAt: tick, FormerIncome: h.Income}
	cell.Slum = slum
	s.Slums = append(s.Slums, slum)

	for i, other := range s.Households {
		if other == h {
			s.Households = append(s.Households[:i], s.Households[i+1:]...)
			break
		}
	}

	s.counters.slums++
	s.addEvent(Event{
		Tick:        tick,
		Description: fmt.Sprintf("immigrant %d gave up after %d failed moves; %s became a slum", h.ID, h.FailedAttempts, pos),
		Category:    "slum",
	})
	s.Logger.Info("slum formed", "tick", tick, "household", h.ID, "pos", pos.String())
}
