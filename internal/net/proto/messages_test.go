package proto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestDecodeClientMessageDefaultsVersion(t *testing.T) {
	msg, err := DecodeClientMessage(JSONCodec(), []byte(`{"type":"move","x":4,"z":9}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Ver != Version {
		t.Fatalf("expected version %d, got %d", Version, msg.Ver)
	}
	pos := msg.Position()
	if pos.X != 4 || pos.Z != 9 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestDecodeClientMessageRejectsFutureVersion(t *testing.T) {
	if _, err := DecodeClientMessage(JSONCodec(), []byte(`{"ver":99,"type":"move"}`)); err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestDecodeClientMessageMalformedPayload(t *testing.T) {
	if _, err := DecodeClientMessage(JSONCodec(), []byte(`{"type":`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeStateFrameStampsTypeAndVersion(t *testing.T) {
	frame := StateFrameV1{
		SceneID: 3,
		Entities: []EntityStateV1{
			{ID: 42, Kind: "player", X: 5, Z: 5},
		},
		ServerTime: 1700000000000,
	}
	data, err := EncodeStateFrame(JSONCodec(), frame)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded["type"] != TypeState {
		t.Fatalf("expected type %q, got %v", TypeState, decoded["type"])
	}
	if decoded["ver"] != float64(Version) {
		t.Fatalf("expected ver %d, got %v", Version, decoded["ver"])
	}
}

func TestStateFrameMsgpackRoundTrip(t *testing.T) {
	frame := StateFrameV1{
		SceneID:    9,
		Entities:   []EntityStateV1{{ID: 7, X: 1.5, Z: -2.5}},
		ServerTime: 12345,
	}
	data, err := EncodeStateFrame(MsgpackCodec(), frame)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded StateFrameV1
	if err := MsgpackCodec().Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.SceneID != 9 || len(decoded.Entities) != 1 || decoded.Entities[0].ID != 7 {
		t.Fatalf("round trip diverged: %+v", decoded)
	}
	if decoded.Type != TypeState || decoded.Ver != Version {
		t.Fatalf("frame not stamped: %+v", decoded)
	}
}

func TestEncodeJoinResponseIsAlwaysJSON(t *testing.T) {
	data, err := EncodeJoinResponse(JoinResponseV1{Token: "abc", EntityID: 4, SceneID: 1})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("join response is not valid JSON: %q", data)
	}
	if !strings.Contains(string(data), `"token":"abc"`) {
		t.Fatalf("token missing from payload: %s", data)
	}
}

func TestEncodeRejectCarriesOffendingType(t *testing.T) {
	data, err := EncodeReject(JSONCodec(), Reject{Type: TypeMove, Reason: "unknown entity"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded struct {
		Type   string `json:"type"`
		Of     string `json:"of"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if decoded.Type != TypeReject || decoded.Of != TypeMove || decoded.Reason != "unknown entity" {
		t.Fatalf("unexpected reject frame: %+v", decoded)
	}
}

func TestCodecForName(t *testing.T) {
	if got := CodecForName(EncodingMsgpack); got.Name() != EncodingMsgpack || got.FrameType() != websocket.BinaryMessage {
		t.Fatalf("msgpack codec wrong: %s/%d", got.Name(), got.FrameType())
	}
	if got := CodecForName(""); got.Name() != EncodingJSON || got.FrameType() != websocket.TextMessage {
		t.Fatalf("fallback codec wrong: %s/%d", got.Name(), got.FrameType())
	}
	if got := CodecForName("protobuf"); got.Name() != EncodingJSON {
		t.Fatalf("unknown encoding should fall back to json, got %s", got.Name())
	}
}
