// Household rules: utility, happiness smoothing and the move trigger.

package agents

// DefaultAlpha is the happiness smoothing constant.
const DefaultAlpha = 0.15

// MaxFailedAttempts is the number of consecutive failed relocations after
// which an immigrant's cell becomes a slum.
const MaxFailedAttempts = 4

// NormalizedQuality scales quality against the tick's maximum. A zero
// maximum yields 0.
func NormalizedQuality(quality, maxQuality float64) float64 {
	if maxQuality <= 0 {
		return 0
	}
	return quality / maxQuality
}

// InGroupFraction returns the share of neighbours with the same class,
// or 0 when there are no neighbours.
func (h *Household) InGroupFraction(neighbors []*Household) float64 {
	if len(neighbors) == 0 {
		return 0
	}
	same := 0
	for _, n := range neighbors {
		if n.Class == h.Class {
			same++
		}
	}
	return float64(same) / float64(len(neighbors))
}

// ComputeUtility evaluates the household's utility at its current home.
// Residents value quality only; immigrants blend quality with in-group
// affinity using the model preference weight.
func (h *Household) ComputeUtility(ctx TickContext, quality float64, neighbors []*Household) float64 {
	nq := NormalizedQuality(quality, ctx.MaxQuality)
	switch h.Class {
	case ClassImmigrant:
		return ctx.Preference*nq + (1-ctx.Preference)*h.InGroupFraction(neighbors)
	default:
		return nq
	}
}

// UpdateHappiness moves the threshold up after an improvement and down after
// a decline, by alpha*(1-threshold), then clamps it to the household's bounds.
// An unchanged utility leaves the threshold alone.
func (h *Household) UpdateHappiness(utility, alpha float64) {
	step := alpha * (1 - h.HappinessThreshold)
	switch {
	case utility > h.LastUtility:
		h.HappinessThreshold += step
	case utility < h.LastUtility:
		h.HappinessThreshold -= step
	}
	h.HappinessThreshold = clamp(h.HappinessThreshold, h.ThresholdMin, h.ThresholdMax)
	h.LastUtility = utility
	h.Unhappy = h.LastUtility < h.HappinessThreshold
}

// IsUnhappy reports the scheduler's selection condition.
func (h *Household) IsUnhappy() bool {
	return h.LastUtility < h.HappinessThreshold
}

// WantsToMove is the relocation trigger: the home's quality is below the
// household's income.
func (h *Household) WantsToMove(quality float64) bool {
	return quality < h.Income
}

// RecordMove applies a successful relocation.
func (h *Household) RecordMove() {
	h.FailedAttempts = 0
	h.MovedThisStep = true
}

// RecordFailure counts a failed search and reports whether the household
// must now be replaced by a slum. Only immigrants degrade their cell.
func (h *Household) RecordFailure(limit int) bool {
	h.FailedAttempts++
	return h.Class == ClassImmigrant && h.FailedAttempts >= limit
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
