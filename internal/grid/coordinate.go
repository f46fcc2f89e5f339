package grid

import (
	"fmt"
	"math"
)

// EntityID identifies one tracked entity. Zero is a sentinel and is never a
// valid id.
type EntityID uint64

// Coordinate addresses a single cell on the x,z ground plane.
type Coordinate struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

// ManhattanDistance returns the axis-aligned step count between coordinates.
func (c Coordinate) ManhattanDistance(other Coordinate) int {
	dx := c.CX - other.CX
	if dx < 0 {
		dx = -dx
	}
	dz := c.CZ - other.CZ
	if dz < 0 {
		dz = -dz
	}
	return dx + dz
}

// EuclideanDistance returns the straight-line distance in cell units. It is
// used for neighbour-range reasoning, not for filtering correctness.
func (c Coordinate) EuclideanDistance(other Coordinate) float64 {
	dx := float64(c.CX - other.CX)
	dz := float64(c.CZ - other.CZ)
	return math.Sqrt(dx*dx + dz*dz)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.CX, c.CZ)
}
