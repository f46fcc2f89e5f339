// Package scene defines the event catalog for scene runtime activity.
package scene

import (
	"context"

	"emberhold/server/logging"
)

const (
	// EventEntityEnter is emitted when an entity joins a scene.
	EventEntityEnter logging.EventType = "scene.entity_enter"
	// EventEntityLeave is emitted when an entity leaves a scene.
	EventEntityLeave logging.EventType = "scene.entity_leave"
	// EventHandlerFailure is emitted when a message handler panics and is
	// recovered at the mailbox boundary.
	EventHandlerFailure logging.EventType = "scene.handler_failure"
	// EventUnknownMessage is emitted when the mailbox receives a message kind
	// the dispatcher does not recognise.
	EventUnknownMessage logging.EventType = "scene.unknown_message"
	// EventTimerRearmFailed is emitted when a self-rescheduling timer cannot
	// arm its next occurrence.
	EventTimerRearmFailed logging.EventType = "scene.timer_rearm_failed"
	// EventGridMaintenance is emitted after a vacant-cell sweep.
	EventGridMaintenance logging.EventType = "scene.grid_maintenance"
)

// EntityEnterPayload captures where an entity entered.
type EntityEnterPayload struct {
	Kind string  `json:"kind,omitempty"`
	X    float64 `json:"x"`
	Z    float64 `json:"z"`
}

// EntityEnter publishes an entity arrival.
func EntityEnter(ctx context.Context, pub logging.Publisher, sceneID, entityID uint64, payload EntityEnterPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityEnter,
		SceneID:  sceneID,
		Actor:    logging.EntityRef{ID: entityID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryScene,
		Payload:  payload,
	})
}

// EntityLeavePayload captures why an entity left.
type EntityLeavePayload struct {
	Reason string `json:"reason,omitempty"`
}

// EntityLeave publishes an entity departure.
func EntityLeave(ctx context.Context, pub logging.Publisher, sceneID, entityID uint64, payload EntityLeavePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityLeave,
		SceneID:  sceneID,
		Actor:    logging.EntityRef{ID: entityID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryScene,
		Payload:  payload,
	})
}

// HandlerFailurePayload captures a recovered handler panic.
type HandlerFailurePayload struct {
	MessageKind string `json:"messageKind"`
	Cause       string `json:"cause"`
	TraceID     string `json:"traceId,omitempty"`
}

// HandlerFailure publishes a recovered handler panic. The failure is local to
// the message that caused it; the runtime keeps processing.
func HandlerFailure(ctx context.Context, pub logging.Publisher, sceneID uint64, payload HandlerFailurePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHandlerFailure,
		SceneID:  sceneID,
		Severity: logging.SeverityError,
		Category: logging.CategoryScene,
		Payload:  payload,
		TraceID:  payload.TraceID,
	})
}

// UnknownMessage publishes an unrecognised message kind at debug severity.
// Unknown messages are counted, not failed.
func UnknownMessage(ctx context.Context, pub logging.Publisher, sceneID uint64, kind string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUnknownMessage,
		SceneID:  sceneID,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryScene,
		Payload:  map[string]any{"messageKind": kind},
	})
}

// TimerRearmFailed publishes a rescheduling failure. The timer stays dark
// until a restart re-arms it.
func TimerRearmFailed(ctx context.Context, pub logging.Publisher, sceneID uint64, timer string, cause string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTimerRearmFailed,
		SceneID:  sceneID,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryScene,
		Payload:  map[string]any{"timer": timer, "cause": cause},
	})
}

// GridMaintenance publishes the outcome of a vacant-cell sweep.
func GridMaintenance(ctx context.Context, pub logging.Publisher, sceneID uint64, reclaimed int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGridMaintenance,
		SceneID:  sceneID,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryScene,
		Payload:  map[string]any{"cellsReclaimed": reclaimed},
	})
}
