// Package lifecycle defines the event catalog for runtime start, stop, and
// restart transitions.
package lifecycle

import (
	"context"

	"emberhold/server/logging"
)

const (
	// EventRuntimeStarted is emitted when a scene runtime begins processing
	// its mailbox.
	EventRuntimeStarted logging.EventType = "lifecycle.runtime_started"
	// EventRuntimeStopped is emitted when a scene runtime has cancelled its
	// timers and stopped.
	EventRuntimeStopped logging.EventType = "lifecycle.runtime_stopped"
	// EventRuntimeRestarted is emitted after a runtime-level failure forces a
	// restart and the timers are re-armed.
	EventRuntimeRestarted logging.EventType = "lifecycle.runtime_restarted"
)

// RuntimePayload identifies the runtime instance involved in a transition.
type RuntimePayload struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason,omitempty"`
}

// RuntimeStarted publishes a runtime start.
func RuntimeStarted(ctx context.Context, pub logging.Publisher, sceneID uint64, payload RuntimePayload) {
	publish(ctx, pub, EventRuntimeStarted, sceneID, logging.SeverityInfo, payload)
}

// RuntimeStopped publishes a runtime stop.
func RuntimeStopped(ctx context.Context, pub logging.Publisher, sceneID uint64, payload RuntimePayload) {
	publish(ctx, pub, EventRuntimeStopped, sceneID, logging.SeverityInfo, payload)
}

// RuntimeRestarted publishes a runtime restart, including the triggering
// failure in the payload reason.
func RuntimeRestarted(ctx context.Context, pub logging.Publisher, sceneID uint64, payload RuntimePayload) {
	publish(ctx, pub, EventRuntimeRestarted, sceneID, logging.SeverityWarn, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, sceneID uint64, severity logging.Severity, payload RuntimePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		SceneID:  sceneID,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
