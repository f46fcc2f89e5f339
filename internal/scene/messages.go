package scene

import (
	"time"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/grid"
)

// EntityID aliases the grid's identifier type; zero is never valid.
type EntityID = grid.EntityID

// Kind tags a mailbox message for dispatch and per-type counters.
type Kind string

const (
	KindEntityEnter      Kind = "entity_enter"
	KindEntityLeave      Kind = "entity_leave"
	KindEntityMove       Kind = "entity_move"
	KindBroadcast        Kind = "broadcast"
	KindBroadcastInRange Kind = "broadcast_in_range"
	KindTimerFired       Kind = "timer_fired"
	KindQueryInfo        Kind = "query_info"
	KindQuerySnapshot    Kind = "query_snapshot"
	KindCreateEntity     Kind = "create_entity"
	KindDestroyEntity    Kind = "destroy_entity"
	// KindUnknown counts messages the dispatcher does not recognise. Unknown
	// messages are not errors.
	KindUnknown Kind = "unknown"
)

// Message is the mailbox sum type: one concrete struct per kind, plus
// Unrecognized for forward-compatible wire-level unknowns.
type Message interface {
	MessageKind() Kind
}

// EntityDescriptor carries the identity of an entity crossing a scene
// boundary. The scene does not interpret Kind or Name.
type EntityDescriptor struct {
	ID   EntityID `json:"id"`
	Kind string   `json:"kind,omitempty"`
	Name string   `json:"name,omitempty"`
}

// Reply is the response payload for request/response message kinds.
type Reply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// CreateReply answers CreateEntity with the synthesised id.
type CreateReply struct {
	OK       bool     `json:"ok"`
	EntityID EntityID `json:"entityId,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// InfoReply answers QueryInfo.
type InfoReply struct {
	OK   bool `json:"ok"`
	Info Info `json:"info"`
}

// Info is the QueryInfo snapshot: domain statistics plus runtime counters.
type Info struct {
	ActorID    string          `json:"actorId"`
	SceneID    uint64          `json:"sceneId"`
	Counters   map[Kind]uint64 `json:"counters"`
	LastActive time.Time       `json:"lastActive"`
	Domain     Statistics      `json:"domain"`
	Perf       PerfSnapshot    `json:"perf"`
}

// PerfSnapshot is refreshed by the performance_monitor timer.
type PerfSnapshot struct {
	MessagesProcessed uint64    `json:"messagesProcessed"`
	EntityCount       int       `json:"entityCount"`
	TrackedInGrid     int       `json:"trackedInGrid"`
	Timestamp         time.Time `json:"timestamp"`
}

// EntityEnter asks the scene to admit an entity at a position. Replies, and on
// success notifies every other entity in the scene.
type EntityEnter struct {
	Entity   EntityDescriptor
	Position geom.Position
	Reply    chan<- Reply
}

func (EntityEnter) MessageKind() Kind { return KindEntityEnter }

// EntityLeave asks the scene to release an entity. Replies, and on success
// notifies all remaining entities.
type EntityLeave struct {
	Entity EntityID
	Reason string
	Reply  chan<- Reply
}

func (EntityLeave) MessageKind() Kind { return KindEntityLeave }

// EntityMove updates an entity's position. Fire-and-forget; the position
// notification fans out only to entities within AOI range of the new position.
type EntityMove struct {
	Entity   EntityID
	Position geom.Position
}

func (EntityMove) MessageKind() Kind { return KindEntityMove }

// Broadcast forwards an opaque payload to every entity satisfying Filter
// (nil Filter means everyone). Fire-and-forget.
type Broadcast struct {
	Payload []byte
	Filter  func(*EntityRecord) bool
}

func (Broadcast) MessageKind() Kind { return KindBroadcast }

// BroadcastInRange forwards a payload to the grid's circle candidate set
// around Center. Fire-and-forget.
type BroadcastInRange struct {
	Center  geom.Position
	Radius  float64
	Payload []byte
}

func (BroadcastInRange) MessageKind() Kind { return KindBroadcastInRange }

// TimerFired is the internal self-rescheduling timer event.
type TimerFired struct {
	Timer string
}

func (TimerFired) MessageKind() Kind { return KindTimerFired }

// QueryInfo requests a read-only runtime snapshot. Never mutates state.
type QueryInfo struct {
	Reply chan<- InfoReply
}

func (QueryInfo) MessageKind() Kind { return KindQueryInfo }

// SnapshotReply answers QuerySnapshot with a copy of the roster.
type SnapshotReply struct {
	OK       bool
	Entities []EntityRecord
}

// QuerySnapshot requests a copy of the entity roster, typically for building
// a periodic state frame. Never mutates state.
type QuerySnapshot struct {
	Reply chan<- SnapshotReply
}

func (QuerySnapshot) MessageKind() Kind { return KindQuerySnapshot }

// CreateEntity synthesises a new entity id and admits it at Position.
type CreateEntity struct {
	Kind     string
	Position geom.Position
	Props    map[string]any
	Reply    chan<- CreateReply
}

func (CreateEntity) MessageKind() Kind { return KindCreateEntity }

// DestroyEntity releases a synthetic entity.
type DestroyEntity struct {
	Entity EntityID
	Reply  chan<- Reply
}

func (DestroyEntity) MessageKind() Kind { return KindDestroyEntity }

// Unrecognized carries a wire-level message kind this build does not know.
// It is counted and debug-logged, never failed.
type Unrecognized struct {
	Label string
}

func (Unrecognized) MessageKind() Kind { return KindUnknown }

// Envelope wraps a message with its intake trace id. Mailbox order is the
// only timestamp the runtime relies on.
type Envelope struct {
	TraceID string
	Msg     Message
}

// failureReplier lets the dispatch loop convert a recovered handler panic
// into a failure reply for request/response kinds.
type failureReplier interface {
	replyFailure(reason string)
}

func (m EntityEnter) replyFailure(reason string) { trySendReply(m.Reply, Reply{Message: reason}) }

func (m EntityLeave) replyFailure(reason string) { trySendReply(m.Reply, Reply{Message: reason}) }

func (m DestroyEntity) replyFailure(reason string) { trySendReply(m.Reply, Reply{Message: reason}) }

func (m CreateEntity) replyFailure(reason string) {
	if m.Reply == nil {
		return
	}
	select {
	case m.Reply <- CreateReply{Message: reason}:
	default:
	}
}

func (m QueryInfo) replyFailure(reason string) {
	if m.Reply == nil {
		return
	}
	select {
	case m.Reply <- InfoReply{}:
	default:
	}
}

func (m QuerySnapshot) replyFailure(reason string) {
	if m.Reply == nil {
		return
	}
	select {
	case m.Reply <- SnapshotReply{}:
	default:
	}
}

// trySendReply never blocks: reply channels are buffered by the caller, and a
// caller that abandoned its reply must not stall the mailbox.
func trySendReply(ch chan<- Reply, reply Reply) {
	if ch == nil {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}
