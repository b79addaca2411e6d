package gridpath

import (
	"fmt"
	"math"
)

const (
	// ObstacleThreshold marks impassable cells: any cell value at or
	// above it is treated as a wall. Walls are never entered and never
	// contribute to the unreached sentinel.
	ObstacleThreshold uint32 = 1 << 30

	// PredNone is the predecessor value of nodes no relaxation has
	// reached, and of the start node.
	PredNone uint32 = 0xFFFFFFFF
)

// Node is a grid coordinate. X grows rightward, Y grows downward.
type Node struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Path is an ordered route from start to goal, inclusive.
type Path []Node

// Grid is a dense row-major field of non-negative cell costs. Entering
// a cell costs its value; the start cell costs nothing.
type Grid struct {
	Width  int
	Height int
	Cells  []uint32
}

// NewGrid validates dimensions against the cell slice and returns the
// grid. Dimensions are bounded to 32 bits so the cell-count product
// cannot wrap. The slice is referenced, not copied.
func NewGrid(width, height int, cells []uint32) (*Grid, error) {
	if width < 1 || height < 1 || width > math.MaxInt32 || height > math.MaxInt32 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, width, height)
	}
	if n := int64(width) * int64(height); int64(len(cells)) != n {
		return nil, fmt.Errorf("%w: %d cells for %dx%d grid (want %d)",
			ErrInvalidGrid, len(cells), width, height, n)
	}
	return &Grid{Width: width, Height: height, Cells: cells}, nil
}

// Len returns the node count.
func (g *Grid) Len() int { return g.Width * g.Height }

// Index converts a coordinate to its row-major index.
func (g *Grid) Index(x, y int) int { return y*g.Width + x }

// Coord converts a row-major index back to a coordinate.
func (g *Grid) Coord(i int) Node { return Node{X: i % g.Width, Y: i / g.Width} }

// At returns the cost of the cell at (x, y).
func (g *Grid) At(x, y int) uint32 { return g.Cells[g.Index(x, y)] }

// Passable reports whether the node at index i can be entered.
func (g *Grid) Passable(i int) bool { return g.Cells[i] < ObstacleThreshold }

// Start returns the fixed start node index.
func (g *Grid) Start() int { return 0 }

// Goal returns the index of the minimum-valued cell, first occurrence
// in row-major order. Walls only win when every cell is a wall.
func (g *Grid) Goal() int {
	goal := 0
	for i, c := range g.Cells {
		if c < g.Cells[goal] {
			goal = i
		}
	}
	return goal
}

// Sentinel computes the unreached-distance marker: a value provably
// larger than any finite path cost, width*height*maxCell + 1 over the
// passable cells. Computed in uint64; if it does not fit uint32 the
// grid is rejected, otherwise accumulated distances could wrap and
// fake convergence.
func (g *Grid) Sentinel() (uint32, error) {
	var maxCell uint32
	for i, c := range g.Cells {
		if g.Passable(i) && c > maxCell {
			maxCell = c
		}
	}
	inf := uint64(g.Width)*uint64(g.Height)*uint64(maxCell) + 1
	if inf > math.MaxUint32 {
		return 0, fmt.Errorf("%w: unreached sentinel %d exceeds uint32 for %dx%d grid",
			ErrInvalidGrid, inf, g.Width, g.Height)
	}
	return uint32(inf), nil
}
