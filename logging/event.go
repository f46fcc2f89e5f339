// Package logging routes structured gameplay and infrastructure events to a
// configurable set of sinks without blocking the simulation path.
package logging

import "time"

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

type EntityKind string

const (
	EntityKindUnknown EntityKind = "unknown"
	EntityKindPlayer  EntityKind = "player"
	EntityKindNPC     EntityKind = "npc"
	EntityKindScene   EntityKind = "scene"
	EntityKindWorld   EntityKind = "world"
)

// EntityRef names the entity an event is about. ID zero means "no specific
// entity".
type EntityRef struct {
	ID   uint64     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Event is the unit written to sinks. SceneID ties the event to the runtime
// that produced it; TraceID carries the intake-assigned message trace when the
// event was caused by a client message.
type Event struct {
	Type     EventType      `json:"type"`
	SceneID  uint64         `json:"sceneId,omitempty"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	TraceID  string         `json:"traceId,omitempty"`
}

const (
	CategoryScene     = "scene"
	CategoryNetwork   = "network"
	CategoryLifecycle = "lifecycle"
	CategorySystem    = "system"
)

// WithExtra returns the event with one extra field set, allocating the map
// lazily.
func (e Event) WithExtra(key string, value any) Event {
	if e.Extra == nil {
		e.Extra = make(map[string]any, 1)
	}
	e.Extra[key] = value
	return e
}

func cloneEvent(event Event) Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
