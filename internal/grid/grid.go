// Package grid implements the per-scene AOI index: a sparse, fixed-cell-size
// partition of the ground plane answering cell, neighbourhood, and circle
// candidate queries over entity ids.
package grid

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/locks"
	"emberhold/server/logging"
)

// cell holds the entities currently mapped to one coordinate. An empty cell is
// logically vacant; it stays in the table until CleanEmptyCells runs.
type cell struct {
	entities  map[EntityID]struct{}
	createdAt time.Time
	updatedAt time.Time
}

func newCell(now time.Time) *cell {
	return &cell{
		entities:  make(map[EntityID]struct{}),
		createdAt: now,
		updatedAt: now,
	}
}

// Config fixes the grid geometry for the lifetime of a scene.
type Config struct {
	CellSize  float64
	MinBounds geom.Position
	MaxBounds geom.Position
	Clock     logging.Clock
}

// Grid is the spatial index for one scene. All mutating operations take the
// exclusive side of a single read-write lock covering both maps together, so
// adds, removes, and moves serialize against each other and against range
// queries; concurrent range queries share the read side. Monitoring readers
// outside the owning runtime rely on this.
type Grid struct {
	cellSize  float64
	minBounds geom.Position
	maxBounds geom.Position
	width     int
	height    int
	clock     logging.Clock

	mu    locks.RWMutex
	cells map[Coordinate]*cell
	index map[EntityID]Coordinate

	// Counters are atomic so read-locked queries can bump them without
	// promoting to the write lock.
	totalUpdates atomic.Uint64
	totalQueries atomic.Uint64
}

// New constructs a grid for the given geometry. A non-positive cell size or an
// inverted bounds rectangle is a programmer error and fails fast.
func New(cfg Config) *Grid {
	if cfg.CellSize <= 0 {
		panic(fmt.Sprintf("grid: non-positive cell size %v", cfg.CellSize))
	}
	if cfg.MaxBounds.X <= cfg.MinBounds.X || cfg.MaxBounds.Z <= cfg.MinBounds.Z {
		panic(fmt.Sprintf("grid: inverted bounds min=%+v max=%+v", cfg.MinBounds, cfg.MaxBounds))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Grid{
		cellSize:  cfg.CellSize,
		minBounds: cfg.MinBounds,
		maxBounds: cfg.MaxBounds,
		width:     int(math.Ceil((cfg.MaxBounds.X - cfg.MinBounds.X) / cfg.CellSize)),
		height:    int(math.Ceil((cfg.MaxBounds.Z - cfg.MinBounds.Z) / cfg.CellSize)),
		clock:     clock,
		cells:     make(map[Coordinate]*cell),
		index:     make(map[EntityID]Coordinate),
	}
}

// CellSize reports the fixed cell edge length in world units.
func (g *Grid) CellSize() float64 {
	if g == nil {
		return 0
	}
	return g.cellSize
}

// Dimensions reports the derived cell-grid width and height.
func (g *Grid) Dimensions() (int, int) {
	if g == nil {
		return 0, 0
	}
	return g.width, g.height
}

// WorldToGrid maps a world position to its cell coordinate, clamped into
// [0,width-1]x[0,height-1]. Out-of-bounds positions land on the nearest edge
// cell; they are never rejected. Pure function, no lock.
func (g *Grid) WorldToGrid(pos geom.Position) Coordinate {
	if g == nil {
		return Coordinate{}
	}
	cx := int(math.Floor((pos.X - g.minBounds.X) / g.cellSize))
	cz := int(math.Floor((pos.Z - g.minBounds.Z) / g.cellSize))
	return Coordinate{CX: clampAxis(cx, g.width), CZ: clampAxis(cz, g.height)}
}

// GridToWorld returns the world-space centre of a cell.
func (g *Grid) GridToWorld(coord Coordinate) geom.Position {
	if g == nil {
		return geom.Position{}
	}
	return geom.Position{
		X: g.minBounds.X + (float64(coord.CX)+0.5)*g.cellSize,
		Z: g.minBounds.Z + (float64(coord.CZ)+0.5)*g.cellSize,
	}
}

func clampAxis(v, extent int) int {
	if v < 0 {
		return 0
	}
	if v >= extent {
		return extent - 1
	}
	return v
}

func (g *Grid) validCoordinate(coord Coordinate) bool {
	return coord.CX >= 0 && coord.CX < g.width && coord.CZ >= 0 && coord.CZ < g.height
}

// AddEntity registers an entity at the cell covering pos. Re-adding an entity
// already present in that cell is an idempotent no-op returning false. The
// zero id is rejected without locking.
func (g *Grid) AddEntity(id EntityID, pos geom.Position) bool {
	if g == nil || id == 0 {
		return false
	}
	coord := g.WorldToGrid(pos)

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(id, coord)
}

func (g *Grid) addLocked(id EntityID, coord Coordinate) bool {
	c, ok := g.cells[coord]
	if !ok {
		c = newCell(g.clock.Now())
		g.cells[coord] = c
	}
	if _, present := c.entities[id]; present {
		return false
	}
	c.entities[id] = struct{}{}
	c.updatedAt = g.clock.Now()
	g.index[id] = coord
	g.totalUpdates.Add(1)
	return true
}

// RemoveEntity drops an entity from its cell and the reverse index. Unknown
// ids return false with no structural change. The emptied cell is retained;
// CleanEmptyCells reclaims it later.
func (g *Grid) RemoveEntity(id EntityID) bool {
	if g == nil || id == 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id)
}

func (g *Grid) removeLocked(id EntityID) bool {
	coord, ok := g.index[id]
	if !ok {
		return false
	}
	delete(g.index, id)
	if c, ok := g.cells[coord]; ok {
		delete(c.entities, id)
		c.updatedAt = g.clock.Now()
	}
	g.totalUpdates.Add(1)
	return true
}

// UpdateEntity moves an entity to the cell covering newPos. When the cell does
// not change the call returns true without touching either map; this is the
// hot path for small movements within a cell.
func (g *Grid) UpdateEntity(id EntityID, newPos geom.Position) bool {
	if g == nil || id == 0 {
		return false
	}
	newCoord := g.WorldToGrid(newPos)

	g.mu.Lock()
	defer g.mu.Unlock()

	oldCoord, tracked := g.index[id]
	if tracked && oldCoord == newCoord {
		return true
	}

	if tracked {
		if old, ok := g.cells[oldCoord]; ok {
			delete(old.entities, id)
			old.updatedAt = g.clock.Now()
		}
	}

	c, ok := g.cells[newCoord]
	if !ok {
		c = newCell(g.clock.Now())
		g.cells[newCoord] = c
	}
	c.entities[id] = struct{}{}
	c.updatedAt = g.clock.Now()
	g.index[id] = newCoord
	g.totalUpdates.Add(1)
	return true
}

// EntityCoordinate reports the cell currently holding an entity.
func (g *Grid) EntityCoordinate(id EntityID) (Coordinate, bool) {
	if g == nil {
		return Coordinate{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	coord, ok := g.index[id]
	return coord, ok
}

// EntitiesInCell returns a point-in-time copy of one cell's entity set. Later
// mutations are invisible to the returned set. An absent cell reads as empty.
func (g *Grid) EntitiesInCell(coord Coordinate) map[EntityID]struct{} {
	if g == nil {
		return map[EntityID]struct{}{}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.totalQueries.Add(1)
	out := make(map[EntityID]struct{})
	if c, ok := g.cells[coord]; ok {
		for id := range c.entities {
			out[id] = struct{}{}
		}
	}
	return out
}

// EntitiesInRange unions the entity sets of the (2*rng+1)^2 cells in the
// axis-aligned square neighbourhood around center, skipping coordinates that
// fall outside the grid. rng=1 is the classic nine-grid AOI query; rng=0 is
// equivalent to EntitiesInCell. A negative rng yields an empty set.
func (g *Grid) EntitiesInRange(center Coordinate, rng int) map[EntityID]struct{} {
	out := make(map[EntityID]struct{})
	if g == nil || rng < 0 {
		return out
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.totalQueries.Add(1)
	for dx := -rng; dx <= rng; dx++ {
		for dz := -rng; dz <= rng; dz++ {
			coord := Coordinate{CX: center.CX + dx, CZ: center.CZ + dz}
			if !g.validCoordinate(coord) {
				continue
			}
			c, ok := g.cells[coord]
			if !ok {
				continue
			}
			for id := range c.entities {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

// EntitiesNearPosition composes WorldToGrid with EntitiesInRange.
func (g *Grid) EntitiesNearPosition(pos geom.Position, rng int) map[EntityID]struct{} {
	if g == nil {
		return map[EntityID]struct{}{}
	}
	return g.EntitiesInRange(g.WorldToGrid(pos), rng)
}

// EntitiesInCircle returns the candidate set for a circular query: the square
// neighbourhood of ceil(radius/cellSize)+1 cells around center. The result is
// a superset of the true circle. The grid only knows positions at cell
// granularity, so exact distance refinement is the caller's contract, not this
// method's.
func (g *Grid) EntitiesInCircle(center geom.Position, radius float64) map[EntityID]struct{} {
	if g == nil || radius <= 0 {
		return map[EntityID]struct{}{}
	}
	gridRange := int(math.Ceil(radius/g.cellSize)) + 1
	return g.EntitiesInRange(g.WorldToGrid(center), gridRange)
}

// AddEntitiesBatch registers every entry under one lock acquisition and
// reports how many were newly added.
func (g *Grid) AddEntitiesBatch(entities map[EntityID]geom.Position) int {
	if g == nil || len(entities) == 0 {
		return 0
	}
	coords := make(map[EntityID]Coordinate, len(entities))
	for id, pos := range entities {
		if id == 0 {
			continue
		}
		coords[id] = g.WorldToGrid(pos)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	added := 0
	for id, coord := range coords {
		if g.addLocked(id, coord) {
			added++
		}
	}
	return added
}

// RemoveEntitiesBatch drops every listed entity under one lock acquisition and
// reports how many were actually tracked.
func (g *Grid) RemoveEntitiesBatch(ids []EntityID) int {
	if g == nil || len(ids) == 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if g.removeLocked(id) {
			removed++
		}
	}
	return removed
}

// CleanEmptyCells reclaims vacant cells left behind by RemoveEntity and
// returns the count removed. Intended as a periodic maintenance call.
func (g *Grid) CleanEmptyCells() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for coord, c := range g.cells {
		if len(c.entities) == 0 {
			delete(g.cells, coord)
			removed++
		}
	}
	return removed
}

// Clear drops every cell and index entry. Called on scene destruction.
func (g *Grid) Clear() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells = make(map[Coordinate]*cell)
	g.index = make(map[EntityID]Coordinate)
}
