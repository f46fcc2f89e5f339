// Package network defines the event catalog for gateway session activity.
package network

import (
	"context"

	"emberhold/server/logging"
)

const (
	// EventSessionOpened is emitted when a websocket subscriber attaches.
	EventSessionOpened logging.EventType = "network.session_opened"
	// EventSessionClosed is emitted when a subscriber detaches or times out.
	EventSessionClosed logging.EventType = "network.session_closed"
	// EventWriteFailed is emitted when a broadcast write to a subscriber
	// fails and the subscriber is dropped.
	EventWriteFailed logging.EventType = "network.write_failed"
)

// SessionPayload describes one subscriber session.
type SessionPayload struct {
	SessionToken string `json:"sessionToken,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// SessionOpened publishes a subscriber attach.
func SessionOpened(ctx context.Context, pub logging.Publisher, entityID uint64, payload SessionPayload) {
	publish(ctx, pub, EventSessionOpened, entityID, logging.SeverityInfo, payload)
}

// SessionClosed publishes a subscriber detach.
func SessionClosed(ctx context.Context, pub logging.Publisher, entityID uint64, payload SessionPayload) {
	publish(ctx, pub, EventSessionClosed, entityID, logging.SeverityInfo, payload)
}

// WriteFailed publishes a dropped subscriber after a failed broadcast write.
func WriteFailed(ctx context.Context, pub logging.Publisher, entityID uint64, payload SessionPayload) {
	publish(ctx, pub, EventWriteFailed, entityID, logging.SeverityWarn, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, entityID uint64, severity logging.Severity, payload SessionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    logging.EntityRef{ID: entityID, Kind: logging.EntityKindPlayer},
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
