package server

import "time"

const (
	ProtocolVersion   = 1
	writeWait         = 10 * time.Second
	broadcastRate     = 5 // state frames per second
	joinReplyWait     = 2 * time.Second
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
	defaultSceneID    = 1
	defaultEntityKind = "player"
)

// Reject reasons surfaced to clients when a websocket message is refused.
const (
	RejectUnknownType    = "unknown_type"
	RejectUnknownEntity  = "unknown_entity"
	RejectInvalidPayload = "invalid_payload"
	RejectQueueFull      = "queue_full"
)

// DefaultSceneID is the scene new clients land in when the join request does
// not name one.
func DefaultSceneID() uint64 {
	return defaultSceneID
}

// BroadcastRate reports the state-frame cadence in frames per second.
func BroadcastRate() int {
	return broadcastRate
}

// HeartbeatInterval reports the expected client heartbeat cadence.
func HeartbeatInterval() time.Duration {
	return heartbeatInterval
}
