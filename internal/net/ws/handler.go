// Package ws runs the websocket session loop: decode inbound frames with the
// session's negotiated codec, stage commands through intake, and pump reply
// frames back out.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	server "emberhold/server"
	"emberhold/server/internal/net/intake"
	"emberhold/server/internal/net/proto"
	"emberhold/server/internal/scene"
	"emberhold/server/internal/telemetry"
)

const queryReplyWait = 2 * time.Second

// Handler coordinates websocket sessions for the hub.
type Handler struct {
	hub    *server.Hub
	logger telemetry.Logger
}

// NewHandler constructs a websocket session handler for the given hub.
func NewHandler(hub *server.Hub, logger telemetry.Logger) *Handler {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &Handler{hub: hub, logger: logger}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handle upgrades an HTTP request and runs the session loop. The session
// token and optional encoding are query parameters.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	encoding := r.URL.Query().Get("encoding")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for session %s: %v", token, err)
		return
	}
	h.Serve(token, conn, encoding)
}

// Serve orchestrates one websocket session. It blocks until the connection
// drops or the session is torn down.
func (h *Handler) Serve(token string, conn *websocket.Conn, encoding string) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	sess, runtime, ok := h.hub.Subscribe(token, conn, encoding)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	codec := sess.Codec()

	if frame, found := h.hub.StateFrame(sess.SceneID()); found {
		data, err := proto.EncodeStateFrame(codec, frame)
		if err != nil {
			h.logger.Printf("failed to encode initial frame for session %s: %v", token, err)
			h.hub.Disconnect(token, "encode failed")
			return
		}
		if err := sess.WriteFrame(codec.FrameType(), data); err != nil {
			h.hub.Disconnect(token, "write failed")
			return
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(token, "read failed")
			return
		}

		msg, err := proto.DecodeClientMessage(codec, payload)
		if err != nil {
			h.logger.Printf("discarding malformed message on session %s: %v", token, err)
			if !h.writeReject(sess, codec, "", server.RejectInvalidPayload) {
				return
			}
			continue
		}

		switch msg.Type {
		case proto.TypeHeartbeat:
			if !h.handleHeartbeat(token, sess, codec, msg) {
				return
			}
		case proto.TypeSceneInfo:
			if !h.handleSceneInfo(sess, runtime, codec) {
				return
			}
		case proto.TypeSpawn:
			if !h.handleSpawn(sess, runtime, codec, msg) {
				return
			}
		default:
			ctx := intake.Context{Runtime: runtime, EntityID: sess.EntityID()}
			if _, staged, reason := intake.StageClientMessage(ctx, msg); !staged {
				if !h.writeReject(sess, codec, msg.Type, reason) {
					return
				}
			}
		}
	}
}

// writeReject reports false when the session died mid-write.
func (h *Handler) writeReject(sess sessionWriter, codec proto.Codec, msgType, reason string) bool {
	data, err := proto.EncodeReject(codec, proto.Reject{Type: msgType, Reason: reason})
	if err != nil {
		h.logger.Printf("failed to encode reject: %v", err)
		return true
	}
	return sess.WriteFrame(codec.FrameType(), data) == nil
}

func (h *Handler) handleHeartbeat(token string, sess sessionWriter, codec proto.Codec, msg proto.ClientMessage) bool {
	now := time.Now()
	rtt, ok := h.hub.UpdateHeartbeat(token, now, msg.SentAt)
	if !ok {
		return false
	}
	data, err := proto.EncodeHeartbeat(codec, proto.Heartbeat{
		ServerTime: now.UnixMilli(),
		ClientTime: msg.SentAt,
		RTTMillis:  rtt.Milliseconds(),
	})
	if err != nil {
		h.logger.Printf("failed to encode heartbeat ack: %v", err)
		return true
	}
	return sess.WriteFrame(codec.FrameType(), data) == nil
}

func (h *Handler) handleSceneInfo(sess sessionWriter, runtime *scene.Runtime, codec proto.Codec) bool {
	reply := make(chan scene.InfoReply, 1)
	if !runtime.Post(scene.QueryInfo{Reply: reply}) {
		return h.writeReject(sess, codec, proto.TypeSceneInfo, server.RejectQueueFull)
	}
	var info scene.Info
	select {
	case answer := <-reply:
		if !answer.OK {
			return h.writeReject(sess, codec, proto.TypeSceneInfo, server.RejectQueueFull)
		}
		info = answer.Info
	case <-time.After(queryReplyWait):
		return h.writeReject(sess, codec, proto.TypeSceneInfo, server.RejectQueueFull)
	}

	counters := make(map[string]uint64, len(info.Counters))
	for kind, count := range info.Counters {
		counters[string(kind)] = count
	}
	data, err := proto.EncodeSceneInfo(codec, proto.SceneInfo{
		SceneID:     info.SceneID,
		ActorID:     info.ActorID,
		EntityCount: info.Domain.EntityCount,
		Counters:    counters,
	})
	if err != nil {
		h.logger.Printf("failed to encode scene info: %v", err)
		return true
	}
	return sess.WriteFrame(codec.FrameType(), data) == nil
}

func (h *Handler) handleSpawn(sess sessionWriter, runtime *scene.Runtime, codec proto.Codec, msg proto.ClientMessage) bool {
	reply := make(chan scene.CreateReply, 1)
	create := scene.CreateEntity{
		Kind:     msg.Kind,
		Position: msg.Position(),
		Reply:    reply,
	}
	if msg.Name != "" {
		create.Props = map[string]any{"name": msg.Name}
	}
	if !runtime.Post(create) {
		return h.writeReject(sess, codec, proto.TypeSpawn, server.RejectQueueFull)
	}

	result := proto.CreateResult{}
	select {
	case answer := <-reply:
		result.OK = answer.OK
		result.EntityID = answer.EntityID
		if !answer.OK {
			result.Reason = answer.Message
		}
	case <-time.After(queryReplyWait):
		result.Reason = server.RejectQueueFull
	}

	data, err := proto.EncodeCreateResult(codec, result)
	if err != nil {
		h.logger.Printf("failed to encode spawn result: %v", err)
		return true
	}
	return sess.WriteFrame(codec.FrameType(), data) == nil
}

// sessionWriter is the slice of the hub session the handler writes through.
type sessionWriter interface {
	WriteFrame(frameType int, data []byte) error
	EntityID() scene.EntityID
	SceneID() uint64
}
