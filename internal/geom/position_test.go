package geom

import (
	"math"
	"testing"
)

func TestDistance2DIgnoresElevation(t *testing.T) {
	a := Position{X: 0, Y: 100, Z: 0}
	b := Position{X: 3, Y: -50, Z: 4}
	if got := a.Distance2D(b); math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected ground distance 5, got %v", got)
	}
}

func TestDistance3DIncludesElevation(t *testing.T) {
	a := Position{X: 0, Y: 0, Z: 0}
	b := Position{X: 2, Y: 3, Z: 6}
	if got := a.Distance3D(b); math.Abs(got-7) > 1e-9 {
		t.Fatalf("expected distance 7, got %v", got)
	}
}

func TestWithinRange(t *testing.T) {
	center := Position{X: 10, Z: 10}
	if !center.WithinRange(Position{X: 13, Z: 14}, 5) {
		t.Fatalf("expected point on the boundary to count as in range")
	}
	if center.WithinRange(Position{X: 13, Z: 14.01}, 5) {
		t.Fatalf("expected point past the boundary to be out of range")
	}
	if center.WithinRange(center, -1) {
		t.Fatalf("negative radius must never match")
	}
}
