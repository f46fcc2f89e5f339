package proto

import (
	"encoding/json"
	"fmt"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/grid"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for websocket payloads.
	typeReject       = "reject"
	typeHeartbeat    = "heartbeat"
	typeState        = "state"
	typeSceneInfo    = "sceneInfo"
	typeCreateResult = "createResult"
)

// Client message type identifiers.
const (
	TypeMove      = "move"
	TypeChat      = "chat"
	TypeShout     = "shout"
	TypeHeartbeat = "heartbeat"
	TypeSceneInfo = "sceneInfo"
	TypeSpawn     = "spawn"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeState        = typeState
	TypeReject       = typeReject
	TypeCreateResult = typeCreateResult
)

// ClientMessage captures an inbound websocket message from the client. One
// flat struct covers every client type; which fields matter depends on Type.
type ClientMessage struct {
	Ver    int     `json:"ver,omitempty" msgpack:"ver,omitempty"`
	Type   string  `json:"type" msgpack:"type"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Z      float64 `json:"z" msgpack:"z"`
	Text   string  `json:"text,omitempty" msgpack:"text,omitempty"`
	Radius float64 `json:"radius,omitempty" msgpack:"radius,omitempty"`
	Kind   string  `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Name   string  `json:"name,omitempty" msgpack:"name,omitempty"`
	SentAt int64   `json:"sentAt,omitempty" msgpack:"sentAt,omitempty"`
}

// Position returns the world position carried by the message.
func (m ClientMessage) Position() geom.Position {
	return geom.Position{X: m.X, Y: m.Y, Z: m.Z}
}

// DecodeClientMessage converts a raw websocket payload into a structured
// message using the session's negotiated codec.
func DecodeClientMessage(codec Codec, payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := codec.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// EntityStateV1 is one entity's row in a state frame.
type EntityStateV1 struct {
	ID   grid.EntityID `json:"id" msgpack:"id"`
	Kind string        `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Name string        `json:"name,omitempty" msgpack:"name,omitempty"`
	X    float64       `json:"x" msgpack:"x"`
	Y    float64       `json:"y" msgpack:"y"`
	Z    float64       `json:"z" msgpack:"z"`
}

// StateFrameV1 captures the version 1 periodic scene snapshot layout.
type StateFrameV1 struct {
	Ver        int             `json:"ver" msgpack:"ver"`
	Type       string          `json:"type" msgpack:"type"`
	SceneID    uint64          `json:"sceneId" msgpack:"sceneId"`
	Entities   []EntityStateV1 `json:"entities" msgpack:"entities"`
	ServerTime int64           `json:"serverTime" msgpack:"serverTime"`
}

// ProtoStateFrame tags the struct as a websocket state payload.
func (StateFrameV1) ProtoStateFrame() {}

type stateFrame interface {
	ProtoStateFrame()
}

// EncodeStateFrame renders a state frame with the given codec.
func EncodeStateFrame(codec Codec, msg stateFrame) ([]byte, error) {
	switch payload := msg.(type) {
	case StateFrameV1:
		return encodeStateFrameV1(codec, payload)
	case *StateFrameV1:
		if payload == nil {
			return codec.Marshal(payload)
		}
		return encodeStateFrameV1(codec, *payload)
	default:
		return codec.Marshal(msg)
	}
}

func encodeStateFrameV1(codec Codec, msg StateFrameV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeState
	}
	msg.Ver = Version
	return codec.Marshal(msg)
}

// JoinResponseV1 captures the version 1 join response layout. Join happens
// over plain HTTP before any codec negotiation, so it is always JSON.
type JoinResponseV1 struct {
	Ver      int             `json:"ver"`
	Token    string          `json:"token"`
	EntityID grid.EntityID   `json:"entityId"`
	SceneID  uint64          `json:"sceneId"`
	Position geom.Position   `json:"position"`
	Entities []EntityStateV1 `json:"entities"`
}

// ProtoJoinResponse tags the struct as a join response payload.
func (JoinResponseV1) ProtoJoinResponse() {}

type joinResponse interface {
	ProtoJoinResponse()
}

// EncodeJoinResponse renders a join response payload.
func EncodeJoinResponse(msg joinResponse) ([]byte, error) {
	switch payload := msg.(type) {
	case JoinResponseV1:
		payload.Ver = Version
		return json.Marshal(payload)
	case *JoinResponseV1:
		if payload == nil {
			return json.Marshal(payload)
		}
		frame := *payload
		frame.Ver = Version
		return json.Marshal(frame)
	default:
		return json.Marshal(msg)
	}
}

// Reject notifies the client that a message was refused.
type Reject struct {
	Type   string
	Reason string
}

// EncodeReject renders a rejection response with the given codec.
func EncodeReject(codec Codec, msg Reject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver" msgpack:"ver"`
		Type   string `json:"type" msgpack:"type"`
		Of     string `json:"of,omitempty" msgpack:"of,omitempty"`
		Reason string `json:"reason" msgpack:"reason"`
	}{
		Ver:    Version,
		Type:   typeReject,
		Of:     msg.Type,
		Reason: msg.Reason,
	}
	return codec.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(codec Codec, msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver" msgpack:"ver"`
		Type       string `json:"type" msgpack:"type"`
		ServerTime int64  `json:"serverTime" msgpack:"serverTime"`
		ClientTime int64  `json:"clientTime" msgpack:"clientTime"`
		RTTMillis  int64  `json:"rtt" msgpack:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return codec.Marshal(frame)
}

// SceneInfo reports runtime counters back to a curious client.
type SceneInfo struct {
	SceneID     uint64            `json:"sceneId" msgpack:"sceneId"`
	ActorID     string            `json:"actorId" msgpack:"actorId"`
	EntityCount int               `json:"entityCount" msgpack:"entityCount"`
	Counters    map[string]uint64 `json:"counters" msgpack:"counters"`
}

// EncodeSceneInfo renders a scene info response payload.
func EncodeSceneInfo(codec Codec, msg SceneInfo) ([]byte, error) {
	frame := struct {
		Ver  int       `json:"ver" msgpack:"ver"`
		Type string    `json:"type" msgpack:"type"`
		Info SceneInfo `json:"info" msgpack:"info"`
	}{
		Ver:  Version,
		Type: typeSceneInfo,
		Info: msg,
	}
	return codec.Marshal(frame)
}

// CreateResult reports the outcome of a spawn request.
type CreateResult struct {
	EntityID grid.EntityID
	OK       bool
	Reason   string
}

// EncodeCreateResult renders a spawn outcome payload.
func EncodeCreateResult(codec Codec, msg CreateResult) ([]byte, error) {
	frame := struct {
		Ver      int           `json:"ver" msgpack:"ver"`
		Type     string        `json:"type" msgpack:"type"`
		EntityID grid.EntityID `json:"entityId,omitempty" msgpack:"entityId,omitempty"`
		OK       bool          `json:"ok" msgpack:"ok"`
		Reason   string        `json:"reason,omitempty" msgpack:"reason,omitempty"`
	}{
		Ver:      Version,
		Type:     typeCreateResult,
		EntityID: msg.EntityID,
		OK:       msg.OK,
		Reason:   msg.Reason,
	}
	return codec.Marshal(frame)
}
