package grid

import (
	"testing"

	"emberhold/server/internal/geom"
)

func newTestGrid(t *testing.T) *Grid {
	t.Helper()
	return New(Config{
		CellSize:  10,
		MinBounds: geom.Position{X: 0, Z: 0},
		MaxBounds: geom.Position{X: 100, Z: 100},
	})
}

func TestNewDerivesDimensions(t *testing.T) {
	g := newTestGrid(t)
	width, height := g.Dimensions()
	if width != 10 || height != 10 {
		t.Fatalf("expected 10x10 grid, got %dx%d", width, height)
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero cell size")
		}
	}()
	New(Config{CellSize: 0, MaxBounds: geom.Position{X: 100, Z: 100}})
}

func TestWorldToGridClamps(t *testing.T) {
	g := newTestGrid(t)
	cases := []struct {
		pos  geom.Position
		want Coordinate
	}{
		{geom.Position{X: 5, Z: 5}, Coordinate{0, 0}},
		{geom.Position{X: -500, Z: -500}, Coordinate{0, 0}},
		{geom.Position{X: 1e6, Z: 1e6}, Coordinate{9, 9}},
		{geom.Position{X: 99.9, Z: 0}, Coordinate{9, 0}},
		{geom.Position{X: 100, Z: 100}, Coordinate{9, 9}},
	}
	for _, tc := range cases {
		if got := g.WorldToGrid(tc.pos); got != tc.want {
			t.Fatalf("WorldToGrid(%+v) = %v, want %v", tc.pos, got, tc.want)
		}
	}
}

func TestAddEntityIsIdempotent(t *testing.T) {
	g := newTestGrid(t)
	if !g.AddEntity(1, geom.Position{X: 5, Z: 5}) {
		t.Fatalf("first add should succeed")
	}
	if g.AddEntity(1, geom.Position{X: 5, Z: 5}) {
		t.Fatalf("second add of the same entity should be a no-op")
	}
	if got := len(g.EntitiesInCell(Coordinate{0, 0})); got != 1 {
		t.Fatalf("expected exactly one tracked entity, got %d", got)
	}
}

func TestAddEntityRejectsZeroID(t *testing.T) {
	g := newTestGrid(t)
	if g.AddEntity(0, geom.Position{X: 5, Z: 5}) {
		t.Fatalf("zero id must be rejected")
	}
	if g.Statistics().TrackedEntities != 0 {
		t.Fatalf("rejected add must leave the index untouched")
	}
}

func TestNineGridScenario(t *testing.T) {
	// cell_size=10 over (0,0)-(100,100): entity at (5,5) lands in cell (0,0).
	g := newTestGrid(t)
	if !g.AddEntity(1, geom.Position{X: 5, Z: 5}) {
		t.Fatalf("add failed")
	}
	got := g.EntitiesInRange(Coordinate{0, 0}, 0)
	if len(got) != 1 {
		t.Fatalf("expected {1} in cell (0,0), got %v", got)
	}
	if _, ok := got[1]; !ok {
		t.Fatalf("expected entity 1 in cell (0,0), got %v", got)
	}
}

func TestUpdateEntityMovesBetweenCells(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	if !g.UpdateEntity(1, geom.Position{X: 15, Z: 5}) {
		t.Fatalf("update failed")
	}
	if set := g.EntitiesInRange(Coordinate{0, 0}, 0); len(set) != 0 {
		t.Fatalf("old cell still holds %v after move", set)
	}
	set := g.EntitiesInRange(Coordinate{1, 0}, 0)
	if len(set) != 1 {
		t.Fatalf("expected entity in (1,0) exactly once, got %v", set)
	}
	if _, ok := set[1]; !ok {
		t.Fatalf("expected entity 1 in (1,0), got %v", set)
	}
	coord, ok := g.EntityCoordinate(1)
	if !ok || coord != (Coordinate{1, 0}) {
		t.Fatalf("reverse index disagrees: %v %v", coord, ok)
	}
}

func TestUpdateEntitySameCellFastPath(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	before := g.Statistics().TotalUpdates
	if !g.UpdateEntity(1, geom.Position{X: 6, Z: 7}) {
		t.Fatalf("same-cell update should report success")
	}
	if after := g.Statistics().TotalUpdates; after != before {
		t.Fatalf("same-cell update must not count as a structural change: %d -> %d", before, after)
	}
}

func TestRemoveUnknownIsNoOp(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	statsBefore := g.Statistics()
	if g.RemoveEntity(99) {
		t.Fatalf("remove of untracked id must fail")
	}
	statsAfter := g.Statistics()
	if statsBefore.TrackedEntities != statsAfter.TrackedEntities || statsBefore.ActiveCells != statsAfter.ActiveCells {
		t.Fatalf("failed remove must leave the maps unchanged: %+v -> %+v", statsBefore, statsAfter)
	}
}

func TestRemoveRetainsEmptyCell(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	if !g.RemoveEntity(1) {
		t.Fatalf("remove failed")
	}
	// The vacated cell stays until the maintenance sweep reclaims it.
	if reclaimed := g.CleanEmptyCells(); reclaimed != 1 {
		t.Fatalf("expected one vacant cell to be reclaimed, got %d", reclaimed)
	}
	if reclaimed := g.CleanEmptyCells(); reclaimed != 0 {
		t.Fatalf("second sweep should find nothing, got %d", reclaimed)
	}
}

func TestRangeMonotonicity(t *testing.T) {
	g := newTestGrid(t)
	positions := []geom.Position{
		{X: 5, Z: 5}, {X: 15, Z: 15}, {X: 25, Z: 5}, {X: 45, Z: 45},
		{X: 95, Z: 95}, {X: 55, Z: 5}, {X: 5, Z: 55},
	}
	for i, pos := range positions {
		g.AddEntity(EntityID(i+1), pos)
	}
	center := Coordinate{2, 2}
	for r1 := 0; r1 < 5; r1++ {
		inner := g.EntitiesInRange(center, r1)
		outer := g.EntitiesInRange(center, r1+1)
		for id := range inner {
			if _, ok := outer[id]; !ok {
				t.Fatalf("range %d result %v not a subset of range %d result %v", r1, inner, r1+1, outer)
			}
		}
	}
}

func TestRangeZeroEqualsCellQuery(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	g.AddEntity(2, geom.Position{X: 7, Z: 3})
	g.AddEntity(3, geom.Position{X: 15, Z: 5})
	coord := Coordinate{0, 0}
	byRange := g.EntitiesInRange(coord, 0)
	byCell := g.EntitiesInCell(coord)
	if len(byRange) != len(byCell) {
		t.Fatalf("range 0 and cell query disagree: %v vs %v", byRange, byCell)
	}
	for id := range byCell {
		if _, ok := byRange[id]; !ok {
			t.Fatalf("range 0 missing %d", id)
		}
	}
}

func TestNegativeRangeYieldsEmptySet(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	if got := g.EntitiesInRange(Coordinate{0, 0}, -1); len(got) != 0 {
		t.Fatalf("negative range must return an empty set, got %v", got)
	}
}

func TestEntitiesInCircleReturnsSuperset(t *testing.T) {
	g := newTestGrid(t)
	center := geom.Position{X: 50, Z: 50}
	inside := geom.Position{X: 55, Z: 50}
	corner := geom.Position{X: 75, Z: 75} // inside the candidate square, outside the circle
	far := geom.Position{X: 5, Z: 5}
	g.AddEntity(1, inside)
	g.AddEntity(2, corner)
	g.AddEntity(3, far)

	candidates := g.EntitiesInCircle(center, 12)
	if _, ok := candidates[1]; !ok {
		t.Fatalf("entity inside the circle missing from candidates")
	}
	// The square candidate set deliberately over-approximates; exact distance
	// filtering is the caller's job.
	if _, ok := candidates[2]; !ok {
		t.Fatalf("square superset should include the near corner entity")
	}
	if _, ok := candidates[3]; ok {
		t.Fatalf("entity far outside the candidate square must be excluded")
	}
}

func TestEntitiesInCellSnapshotSemantics(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	snapshot := g.EntitiesInCell(Coordinate{0, 0})
	g.AddEntity(2, geom.Position{X: 6, Z: 6})
	if len(snapshot) != 1 {
		t.Fatalf("snapshot must not observe later mutations, got %v", snapshot)
	}
}

func TestBatchOperations(t *testing.T) {
	g := newTestGrid(t)
	added := g.AddEntitiesBatch(map[EntityID]geom.Position{
		1: {X: 5, Z: 5},
		2: {X: 15, Z: 15},
		3: {X: 25, Z: 25},
		0: {X: 35, Z: 35}, // sentinel id, skipped
	})
	if added != 3 {
		t.Fatalf("expected 3 additions, got %d", added)
	}
	if removed := g.RemoveEntitiesBatch([]EntityID{1, 2, 99}); removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if got := g.Statistics().TrackedEntities; got != 1 {
		t.Fatalf("expected 1 remaining entity, got %d", got)
	}
	if g.AddEntitiesBatch(nil) != 0 || g.RemoveEntitiesBatch(nil) != 0 {
		t.Fatalf("empty batches must report zero")
	}
}

func TestStatistics(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	g.AddEntity(2, geom.Position{X: 6, Z: 6})
	g.AddEntity(3, geom.Position{X: 55, Z: 55})
	stats := g.Statistics()
	if stats.TotalCells != 100 {
		t.Fatalf("expected 100 total cells, got %d", stats.TotalCells)
	}
	if stats.ActiveCells != 2 {
		t.Fatalf("expected 2 active cells, got %d", stats.ActiveCells)
	}
	if stats.TrackedEntities != 3 {
		t.Fatalf("expected 3 tracked entities, got %d", stats.TrackedEntities)
	}
	if stats.MaxEntitiesInCell != 2 {
		t.Fatalf("expected max occupancy 2, got %d", stats.MaxEntitiesInCell)
	}
	if stats.AvgEntitiesPerCell != 1.5 {
		t.Fatalf("expected average occupancy 1.5, got %v", stats.AvgEntitiesPerCell)
	}
}

func TestGridToWorldReturnsCellCentre(t *testing.T) {
	g := newTestGrid(t)
	pos := g.GridToWorld(Coordinate{1, 0})
	if pos.X != 15 || pos.Z != 5 {
		t.Fatalf("expected centre (15,5), got %+v", pos)
	}
}

func TestClearDropsEverything(t *testing.T) {
	g := newTestGrid(t)
	g.AddEntity(1, geom.Position{X: 5, Z: 5})
	g.Clear()
	if stats := g.Statistics(); stats.TrackedEntities != 0 || stats.ActiveCells != 0 {
		t.Fatalf("clear left residue: %+v", stats)
	}
}

func TestCoordinateDistances(t *testing.T) {
	a := Coordinate{0, 0}
	b := Coordinate{3, 4}
	if got := a.ManhattanDistance(b); got != 7 {
		t.Fatalf("expected manhattan distance 7, got %d", got)
	}
	if got := a.EuclideanDistance(b); got != 5 {
		t.Fatalf("expected euclidean distance 5, got %v", got)
	}
}
