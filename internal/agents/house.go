package agents

// UpdateQuality sets the house's locational quality to the mean income of
// the given neighbouring households. With no neighbours the quality is left
// unchanged.
func (h *House) UpdateQuality(neighbors []*Household) {
	if len(neighbors) == 0 {
		return
	}
	total := 0.0
	for _, n := range neighbors {
		total += n.Income
	}
	h.Quality = total / float64(len(neighbors))
}
