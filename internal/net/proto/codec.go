package proto

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encoding names accepted at session negotiation.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Codec renders wire payloads for one negotiated session encoding. JSON
// travels as websocket text frames, msgpack as binary frames.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// FrameType is the websocket message type payloads are written with.
	FrameType() int
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return EncodingJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) FrameType() int                     { return websocket.TextMessage }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return EncodingMsgpack }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) FrameType() int                     { return websocket.BinaryMessage }

// JSONCodec returns the default text-frame codec.
func JSONCodec() Codec { return jsonCodec{} }

// MsgpackCodec returns the binary-frame codec.
func MsgpackCodec() Codec { return msgpackCodec{} }

// CodecForName resolves a negotiated encoding name. Unknown or empty names
// fall back to JSON so older clients keep working.
func CodecForName(name string) Codec {
	if name == EncodingMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}
