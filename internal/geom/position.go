package geom

import "math"

// Position is an immutable point in world space. The simulation treats the
// x,z plane as the ground plane; y is elevation and only participates in the
// 3D distance.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance2D returns the ground-plane distance between two positions.
func (p Position) Distance2D(other Position) float64 {
	return math.Hypot(p.X-other.X, p.Z-other.Z)
}

// Distance3D returns the full euclidean distance between two positions.
func (p Position) Distance3D(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// WithinRange reports whether other lies within radius on the ground plane.
func (p Position) WithinRange(other Position, radius float64) bool {
	if radius < 0 {
		return false
	}
	return p.Distance2D(other) <= radius
}
