// Package world provides the rectangular town grid and its spatial queries.
// Cells are addressed by (row, col); the grid does not wrap at the edges.
package world

import "fmt"

// Pos addresses a single grid cell.
type Pos struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Grid holds one value of T per cell, stored row-major.
type Grid[T any] struct {
	Width  int
	Height int
	cells  []T
}

// NewGrid creates a width×height grid of zero values.
func NewGrid[T any](width, height int) *Grid[T] {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid[T]{
		Width:  width,
		Height: height,
		cells:  make([]T, width*height),
	}
}

// InBounds returns true if p lies on the grid.
func (g *Grid[T]) InBounds(p Pos) bool {
	return p.Row >= 0 && p.Row < g.Height && p.Col >= 0 && p.Col < g.Width
}

// Get returns the value at p, or the zero value when p is out of bounds.
func (g *Grid[T]) Get(p Pos) T {
	if !g.InBounds(p) {
		var zero T
		return zero
	}
	return g.cells[p.Row*g.Width+p.Col]
}

// Set stores v at p. Out-of-bounds writes are ignored.
func (g *Grid[T]) Set(p Pos, v T) {
	if !g.InBounds(p) {
		return
	}
	g.cells[p.Row*g.Width+p.Col] = v
}

// Size returns the number of cells.
func (g *Grid[T]) Size() int {
	return len(g.cells)
}

// Positions returns every cell position in row-major order.
func (g *Grid[T]) Positions() []Pos {
	out := make([]Pos, 0, len(g.cells))
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			out = append(out, Pos{Row: r, Col: c})
		}
	}
	return out
}

// Neighborhood returns the in-bounds Moore neighborhood of p at the given
// radius, in row-major order. The center is included only when asked.
func (g *Grid[T]) Neighborhood(p Pos, radius int, includeCenter bool) []Pos {
	if radius < 0 {
		radius = 0
	}
	out := make([]Pos, 0, (2*radius+1)*(2*radius+1))
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dr == 0 && dc == 0 && !includeCenter {
				continue
			}
			q := Pos{Row: p.Row + dr, Col: p.Col + dc}
			if g.InBounds(q) {
				out = append(out, q)
			}
		}
	}
	return out
}

// String returns a summary of the grid.
func (g *Grid[T]) String() string {
	return fmt.Sprintf("Grid(%dx%d)", g.Width, g.Height)
}
