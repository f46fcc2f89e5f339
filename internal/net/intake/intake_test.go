package intake

import (
	"strings"
	"testing"

	server "emberhold/server"
	"emberhold/server/internal/net/proto"
	"emberhold/server/internal/scene"
)

type recordingPoster struct {
	traceIDs []string
	messages []scene.Message
	full     bool
}

func (p *recordingPoster) PostTraced(traceID string, msg scene.Message) bool {
	if p.full {
		return false
	}
	p.traceIDs = append(p.traceIDs, traceID)
	p.messages = append(p.messages, msg)
	return true
}

func TestStageMoveMessage(t *testing.T) {
	poster := &recordingPoster{}
	traceID, ok, reason := StageClientMessage(Context{Runtime: poster, EntityID: 42}, proto.ClientMessage{
		Type: proto.TypeMove,
		X:    10, Z: 20,
	})
	if !ok || reason != "" {
		t.Fatalf("move rejected: %s", reason)
	}
	if traceID == "" || len(poster.traceIDs) != 1 || poster.traceIDs[0] != traceID {
		t.Fatalf("trace id not stamped: %q vs %v", traceID, poster.traceIDs)
	}
	move, isMove := poster.messages[0].(scene.EntityMove)
	if !isMove || move.Entity != 42 || move.Position.X != 10 || move.Position.Z != 20 {
		t.Fatalf("unexpected staged message: %+v", poster.messages[0])
	}
}

func TestStageChatExcludesSender(t *testing.T) {
	poster := &recordingPoster{}
	_, ok, reason := StageClientMessage(Context{Runtime: poster, EntityID: 7}, proto.ClientMessage{
		Type: proto.TypeChat,
		Text: "hello",
	})
	if !ok {
		t.Fatalf("chat rejected: %s", reason)
	}
	broadcast, isBroadcast := poster.messages[0].(scene.Broadcast)
	if !isBroadcast {
		t.Fatalf("expected Broadcast, got %T", poster.messages[0])
	}
	if !strings.Contains(string(broadcast.Payload), `"text":"hello"`) {
		t.Fatalf("payload missing text: %s", broadcast.Payload)
	}
	if broadcast.Filter == nil {
		t.Fatalf("chat must filter out the sender")
	}
	if broadcast.Filter(&scene.EntityRecord{ID: 7}) {
		t.Fatalf("sender passed the filter")
	}
	if !broadcast.Filter(&scene.EntityRecord{ID: 8}) {
		t.Fatalf("other entity blocked by the filter")
	}
}

func TestStageShoutUsesRange(t *testing.T) {
	poster := &recordingPoster{}
	_, ok, reason := StageClientMessage(Context{Runtime: poster, EntityID: 7}, proto.ClientMessage{
		Type:   proto.TypeShout,
		Text:   "over here",
		X:      30,
		Z:      40,
		Radius: 25,
	})
	if !ok {
		t.Fatalf("shout rejected: %s", reason)
	}
	ranged, isRanged := poster.messages[0].(scene.BroadcastInRange)
	if !isRanged || ranged.Radius != 25 || ranged.Center.X != 30 || ranged.Center.Z != 40 {
		t.Fatalf("unexpected staged message: %+v", poster.messages[0])
	}
}

func TestStageRejectsBadMessages(t *testing.T) {
	poster := &recordingPoster{}
	cases := []struct {
		name   string
		ctx    Context
		msg    proto.ClientMessage
		reason string
	}{
		{"unknown type", Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: "teleport"}, server.RejectUnknownType},
		{"empty chat", Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: proto.TypeChat}, server.RejectInvalidPayload},
		{"shout without radius", Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: proto.TypeShout, Text: "hi"}, server.RejectInvalidPayload},
		{"zero entity", Context{Runtime: poster}, proto.ClientMessage{Type: proto.TypeMove}, server.RejectUnknownEntity},
	}
	for _, tc := range cases {
		if _, ok, reason := StageClientMessage(tc.ctx, tc.msg); ok || reason != tc.reason {
			t.Fatalf("%s: expected reject %q, got ok=%v reason=%q", tc.name, tc.reason, ok, reason)
		}
	}
	if len(poster.messages) != 0 {
		t.Fatalf("rejected messages must not be posted: %v", poster.messages)
	}
}

func TestStageReportsQueueFull(t *testing.T) {
	poster := &recordingPoster{full: true}
	if _, ok, reason := StageClientMessage(Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: proto.TypeMove}); ok || reason != server.RejectQueueFull {
		t.Fatalf("expected queue full reject, got ok=%v reason=%q", ok, reason)
	}
}

func TestTraceIDsAreULIDs(t *testing.T) {
	poster := &recordingPoster{}
	first, _, _ := StageClientMessage(Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: proto.TypeMove})
	second, _, _ := StageClientMessage(Context{Runtime: poster, EntityID: 1}, proto.ClientMessage{Type: proto.TypeMove})
	if len(first) != 26 || len(second) != 26 {
		t.Fatalf("trace ids should be 26-char ULIDs: %q %q", first, second)
	}
	if first == second {
		t.Fatalf("trace ids must be unique")
	}
}
