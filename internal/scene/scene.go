// Package scene owns one scene's live entity state and the actor runtime that
// serializes every mutation through a mailbox.
package scene

import (
	"context"
	"time"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/grid"
	"emberhold/server/logging"
	logscene "emberhold/server/logging/scene"
)

// Deliverer hands an encoded payload to one entity's session. Implementations
// must not block; a slow subscriber is the delivery layer's problem, not the
// scene's.
type Deliverer interface {
	Deliver(id EntityID, payload []byte) bool
}

// DelivererFunc adapts a function into a Deliverer.
type DelivererFunc func(id EntityID, payload []byte) bool

func (f DelivererFunc) Deliver(id EntityID, payload []byte) bool {
	if f == nil {
		return false
	}
	return f(id, payload)
}

// EntityRecord is one roster entry. Records are owned by the runtime
// goroutine; only the grid is shared with outside readers.
type EntityRecord struct {
	ID        EntityID
	Kind      string
	Name      string
	Position  geom.Position
	EnteredAt time.Time
}

// Config fixes a scene's geometry and wiring.
type Config struct {
	SceneID   uint64
	Name      string
	CellSize  float64
	MinBounds geom.Position
	MaxBounds geom.Position
	// AOIRange is the neighbourhood radius, in cells, for movement fan-out.
	AOIRange  int
	Clock     logging.Clock
	Publisher logging.Publisher
	Deliverer Deliverer
	// OnTick runs one tick of opaque domain logic (AI refresh, respawns,
	// state checks) from the scene_update timer.
	OnTick func(now time.Time)
}

// DefaultConfig returns a playable scene geometry.
func DefaultConfig(sceneID uint64) Config {
	return Config{
		SceneID:   sceneID,
		CellSize:  10,
		MinBounds: geom.Position{X: 0, Z: 0},
		MaxBounds: geom.Position{X: 1000, Z: 1000},
		AOIRange:  1,
	}
}

// Scene is the domain object behind a runtime: the entity roster plus the
// spatial index. All methods except grid reads must be called from the owning
// runtime goroutine.
type Scene struct {
	id        uint64
	name      string
	entities  map[EntityID]*EntityRecord
	grid      *grid.Grid
	aoiRange  int
	clock     logging.Clock
	publisher logging.Publisher
	deliverer Deliverer
	onTick    func(now time.Time)
}

// Statistics is the domain half of a QueryInfo snapshot.
type Statistics struct {
	SceneID     uint64          `json:"sceneId"`
	Name        string          `json:"name,omitempty"`
	EntityCount int             `json:"entityCount"`
	ByKind      map[string]int  `json:"byKind,omitempty"`
	Grid        grid.Statistics `json:"grid"`
}

// New constructs the scene and its grid. Grid geometry faults fail fast, same
// as grid.New.
func New(cfg Config) *Scene {
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	aoiRange := cfg.AOIRange
	if aoiRange < 0 {
		aoiRange = 0
	}
	return &Scene{
		id:       cfg.SceneID,
		name:     cfg.Name,
		entities: make(map[EntityID]*EntityRecord),
		grid: grid.New(grid.Config{
			CellSize:  cfg.CellSize,
			MinBounds: cfg.MinBounds,
			MaxBounds: cfg.MaxBounds,
			Clock:     clock,
		}),
		aoiRange:  aoiRange,
		clock:     clock,
		publisher: publisher,
		deliverer: cfg.Deliverer,
		onTick:    cfg.OnTick,
	}
}

// ID reports the scene identifier.
func (s *Scene) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Grid exposes the spatial index. The grid carries its own lock, so
// monitoring readers may query it concurrently with live traffic.
func (s *Scene) Grid() *grid.Grid {
	if s == nil {
		return nil
	}
	return s.grid
}

// AOIRange reports the configured movement fan-out radius in cells.
func (s *Scene) AOIRange() int {
	if s == nil {
		return 0
	}
	return s.aoiRange
}

// EntityEnter admits an entity at pos. Admitting an id already in the roster
// fails.
func (s *Scene) EntityEnter(desc EntityDescriptor, pos geom.Position) bool {
	if s == nil || desc.ID == 0 {
		return false
	}
	if _, exists := s.entities[desc.ID]; exists {
		return false
	}
	if !s.grid.AddEntity(desc.ID, pos) {
		return false
	}
	s.entities[desc.ID] = &EntityRecord{
		ID:        desc.ID,
		Kind:      desc.Kind,
		Name:      desc.Name,
		Position:  pos,
		EnteredAt: s.clock.Now(),
	}
	logscene.EntityEnter(context.Background(), s.publisher, s.id, uint64(desc.ID), logscene.EntityEnterPayload{
		Kind: desc.Kind,
		X:    pos.X,
		Z:    pos.Z,
	})
	return true
}

// EntityLeave releases an entity. Unknown ids fail.
func (s *Scene) EntityLeave(id EntityID, reason string) bool {
	if s == nil || id == 0 {
		return false
	}
	if _, exists := s.entities[id]; !exists {
		return false
	}
	delete(s.entities, id)
	s.grid.RemoveEntity(id)
	logscene.EntityLeave(context.Background(), s.publisher, s.id, uint64(id), logscene.EntityLeavePayload{Reason: reason})
	return true
}

// UpdatePosition moves a roster entity and keeps the grid in step.
func (s *Scene) UpdatePosition(id EntityID, pos geom.Position) bool {
	if s == nil {
		return false
	}
	record, exists := s.entities[id]
	if !exists {
		return false
	}
	record.Position = pos
	return s.grid.UpdateEntity(id, pos)
}

// Entity looks up one roster record.
func (s *Scene) Entity(id EntityID) (*EntityRecord, bool) {
	if s == nil {
		return nil, false
	}
	record, ok := s.entities[id]
	return record, ok
}

// SnapshotEntities copies the roster into a flat slice. The copies are safe
// to hand to other goroutines.
func (s *Scene) SnapshotEntities() []EntityRecord {
	if s == nil {
		return nil
	}
	out := make([]EntityRecord, 0, len(s.entities))
	for _, record := range s.entities {
		out = append(out, *record)
	}
	return out
}

// EntityCount reports the roster size.
func (s *Scene) EntityCount() int {
	if s == nil {
		return 0
	}
	return len(s.entities)
}

// Broadcast delivers payload to every entity passing filter (nil filter means
// all). The payload bytes are shared across recipients; callers encode once.
func (s *Scene) Broadcast(payload []byte, filter func(*EntityRecord) bool) int {
	if s == nil || s.deliverer == nil {
		return 0
	}
	delivered := 0
	for _, record := range s.entities {
		if filter != nil && !filter(record) {
			continue
		}
		if s.deliverer.Deliver(record.ID, payload) {
			delivered++
		}
	}
	return delivered
}

// BroadcastNear delivers payload to the entities whose cells lie within the
// configured AOI range of center, excluding one id (the mover never hears its
// own movement).
func (s *Scene) BroadcastNear(center geom.Position, exclude EntityID, payload []byte) int {
	if s == nil || s.deliverer == nil {
		return 0
	}
	delivered := 0
	for id := range s.grid.EntitiesNearPosition(center, s.aoiRange) {
		if id == exclude {
			continue
		}
		if _, exists := s.entities[id]; !exists {
			continue
		}
		if s.deliverer.Deliver(id, payload) {
			delivered++
		}
	}
	return delivered
}

// BroadcastInRange delivers payload to the grid's circle candidate set around
// center. The candidates are a square superset of the true circle; recipients
// needing exact distance semantics filter on their own position.
func (s *Scene) BroadcastInRange(center geom.Position, radius float64, payload []byte) int {
	if s == nil || s.deliverer == nil {
		return 0
	}
	delivered := 0
	for id := range s.grid.EntitiesInCircle(center, radius) {
		if _, exists := s.entities[id]; !exists {
			continue
		}
		if s.deliverer.Deliver(id, payload) {
			delivered++
		}
	}
	return delivered
}

// Tick runs one slice of domain logic from the scene_update timer.
func (s *Scene) Tick(now time.Time) {
	if s == nil || s.onTick == nil {
		return
	}
	s.onTick(now)
}

// Statistics snapshots roster and grid occupancy.
func (s *Scene) Statistics() Statistics {
	if s == nil {
		return Statistics{}
	}
	stats := Statistics{
		SceneID:     s.id,
		Name:        s.name,
		EntityCount: len(s.entities),
		Grid:        s.grid.Statistics(),
	}
	if len(s.entities) > 0 {
		stats.ByKind = make(map[string]int)
		for _, record := range s.entities {
			kind := record.Kind
			if kind == "" {
				kind = "unknown"
			}
			stats.ByKind[kind]++
		}
	}
	return stats
}

// Clear wipes the roster and the grid. Called on scene destruction.
func (s *Scene) Clear() {
	if s == nil {
		return
	}
	s.entities = make(map[EntityID]*EntityRecord)
	s.grid.Clear()
}
