// Initial locational-quality field using layered simplex noise.
// Neighbouring cells start with similar quality so the town has districts
// before any household has moved.

package world

import (
	opensimplex "github.com/ojrac/opensimplex-go"
)

// FieldConfig controls the initial quality landscape.
type FieldConfig struct {
	Frequency float64 // Base noise frequency per cell
	Octaves   int     // Noise layers summed
	Spread    float64 // Relative deviation from the base value (0 = flat)
}

// DefaultFieldConfig returns a gently varied landscape.
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{
		Frequency: 0.12,
		Octaves:   3,
		Spread:    0.5,
	}
}

// QualityField returns a width×height grid of starting qualities around base.
// Each value is base*(1 + spread*(2n-1)) for normalized noise n, clamped at 0.
func QualityField(width, height int, seed int64, cfg FieldConfig, base float64) *Grid[float64] {
	field := NewGrid[float64](width, height)
	noise := opensimplex.NewNormalized(seed)

	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}

	for _, p := range field.Positions() {
		n := octaveNoise(noise, float64(p.Col), float64(p.Row), octaves, cfg.Frequency, 0.5)
		q := base * (1 + cfg.Spread*(2*n-1))
		if q < 0 {
			q = 0
		}
		field.Set(p, q)
	}
	return field
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
