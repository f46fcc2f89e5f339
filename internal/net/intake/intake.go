// Package intake translates decoded client messages into scene mailbox
// envelopes. Every accepted message is stamped with a ULID trace id so the
// logging router can correlate handler failures back to the wire.
package intake

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	server "emberhold/server"
	"emberhold/server/internal/grid"
	"emberhold/server/internal/net/proto"
	"emberhold/server/internal/scene"
)

// Poster is the slice of the scene runtime intake needs.
type Poster interface {
	PostTraced(traceID string, msg scene.Message) bool
}

// Context carries the session-scoped wiring for staging one client message.
type Context struct {
	Runtime  Poster
	EntityID grid.EntityID
	Now      func() time.Time
}

// chatNotice is the payload fanned out for chat and shout messages. It rides
// the scene's opaque broadcast path, so intake owns its encoding.
type chatNotice struct {
	Type     string        `json:"type"`
	EntityID grid.EntityID `json:"entityId"`
	Text     string        `json:"text"`
}

const noticeChat = "chat"

// StageClientMessage validates one client message and posts it to the scene
// runtime. The returned reason is one of the server reject constants and is
// empty on success.
func StageClientMessage(ctx Context, msg proto.ClientMessage) (string, bool, string) {
	if ctx.Runtime == nil || ctx.EntityID == 0 {
		return "", false, server.RejectUnknownEntity
	}

	var staged scene.Message
	switch msg.Type {
	case proto.TypeMove:
		staged = scene.EntityMove{Entity: ctx.EntityID, Position: msg.Position()}
	case proto.TypeChat, proto.TypeShout:
		if msg.Text == "" || len(msg.Text) > maxChatBytes {
			return "", false, server.RejectInvalidPayload
		}
		payload, err := json.Marshal(chatNotice{
			Type:     noticeChat,
			EntityID: ctx.EntityID,
			Text:     msg.Text,
		})
		if err != nil {
			return "", false, server.RejectInvalidPayload
		}
		if msg.Type == proto.TypeShout {
			radius := msg.Radius
			if radius <= 0 {
				return "", false, server.RejectInvalidPayload
			}
			staged = scene.BroadcastInRange{Center: msg.Position(), Radius: radius, Payload: payload}
		} else {
			sender := ctx.EntityID
			staged = scene.Broadcast{Payload: payload, Filter: func(record *scene.EntityRecord) bool {
				return record.ID != sender
			}}
		}
	default:
		return "", false, server.RejectUnknownType
	}

	traceID := newTraceID(ctx.Now)
	if !ctx.Runtime.PostTraced(traceID, staged) {
		return "", false, server.RejectQueueFull
	}
	return traceID, true, ""
}

const maxChatBytes = 512

func newTraceID(now func() time.Time) string {
	at := time.Now()
	if now != nil {
		at = now()
	}
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
