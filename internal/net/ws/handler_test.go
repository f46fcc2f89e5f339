package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	server "emberhold/server"
	"emberhold/server/internal/geom"
	"emberhold/server/internal/net/proto"
)

func newTestServer(t *testing.T) (*server.Hub, *httptest.Server) {
	t.Helper()
	hub := server.NewHub(server.DefaultHubConfig(), nil)
	t.Cleanup(hub.Close)
	handler := NewHandler(hub, nil)
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, baseURL, token, encoding string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, baseURL, token, encoding), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func websocketURL(t *testing.T, baseURL, token, encoding string) string {
	t.Helper()
	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	query := parsed.Query()
	query.Set("token", token)
	if encoding != "" {
		query.Set("encoding", encoding)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func TestServeSendsInitialStateFrame(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "alice", geom.Position{X: 5, Z: 5})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, "")
	frameType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}
	if frameType != websocket.TextMessage {
		t.Fatalf("json sessions expect text frames, got %d", frameType)
	}

	var frame proto.StateFrameV1
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("bad state frame: %v", err)
	}
	if frame.Type != proto.TypeState || frame.SceneID != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if len(frame.Entities) != 1 || frame.Entities[0].ID != join.EntityID {
		t.Fatalf("roster missing joined entity: %+v", frame.Entities)
	}
}

func TestServeNegotiatesMsgpack(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "bob", geom.Position{X: 1, Z: 1})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, proto.EncodingMsgpack)
	frameType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}
	if frameType != websocket.BinaryMessage {
		t.Fatalf("msgpack sessions expect binary frames, got %d", frameType)
	}

	var frame proto.StateFrameV1
	if err := proto.MsgpackCodec().Unmarshal(payload, &frame); err != nil {
		t.Fatalf("bad msgpack frame: %v", err)
	}
	if frame.SceneID != 1 || len(frame.Entities) != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestServeRejectsUnknownToken(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv.URL, "no-such-token", "")
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close for unknown session token")
	}
}

func TestServeHeartbeatRoundTrip(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "", geom.Position{})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, "")
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}

	beat := map[string]any{"type": proto.TypeHeartbeat, "sentAt": time.Now().UnixMilli()}
	if err := conn.WriteJSON(beat); err != nil {
		t.Fatalf("failed to send heartbeat: %v", err)
	}

	var ack struct {
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("failed to read heartbeat ack: %v", err)
	}
	if ack.Type != "heartbeat" || ack.ServerTime == 0 {
		t.Fatalf("unexpected heartbeat ack: %+v", ack)
	}
}

func TestServeMoveThenSceneInfo(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "", geom.Position{X: 5, Z: 5})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, "")
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}

	move := map[string]any{"type": proto.TypeMove, "x": 42.0, "z": 17.0}
	if err := conn.WriteJSON(move); err != nil {
		t.Fatalf("failed to send move: %v", err)
	}
	// sceneInfo round-trips through the same mailbox, so its reply also
	// proves the move was processed first.
	if err := conn.WriteJSON(map[string]any{"type": proto.TypeSceneInfo}); err != nil {
		t.Fatalf("failed to send sceneInfo: %v", err)
	}

	var reply struct {
		Type string `json:"type"`
		Info struct {
			SceneID  uint64            `json:"sceneId"`
			Counters map[string]uint64 `json:"counters"`
		} `json:"info"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("failed to read sceneInfo reply: %v", err)
	}
	if reply.Type != "sceneInfo" || reply.Info.SceneID != 1 {
		t.Fatalf("unexpected sceneInfo reply: %+v", reply)
	}
	if reply.Info.Counters["entity_move"] != 1 {
		t.Fatalf("move not counted: %v", reply.Info.Counters)
	}
}

func TestServeRejectsUnknownMessageType(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "", geom.Position{})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, "")
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "teleport"}); err != nil {
		t.Fatalf("failed to send message: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read reject: %v", err)
	}
	if !strings.Contains(string(payload), server.RejectUnknownType) {
		t.Fatalf("expected %q reject, got %s", server.RejectUnknownType, payload)
	}
}

func TestServeSpawnCreatesEntity(t *testing.T) {
	hub, srv := newTestServer(t)
	join, err := hub.Join(1, "player", "", geom.Position{})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	conn := dial(t, srv.URL, join.Token, "")
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}

	spawn := map[string]any{"type": proto.TypeSpawn, "kind": "npc", "name": "sentry", "x": 30.0, "z": 30.0}
	if err := conn.WriteJSON(spawn); err != nil {
		t.Fatalf("failed to send spawn: %v", err)
	}

	var result struct {
		Type     string `json:"type"`
		OK       bool   `json:"ok"`
		EntityID uint64 `json:"entityId"`
	}
	if err := conn.ReadJSON(&result); err != nil {
		t.Fatalf("failed to read spawn result: %v", err)
	}
	if result.Type != proto.TypeCreateResult || !result.OK || result.EntityID == 0 {
		t.Fatalf("unexpected spawn result: %+v", result)
	}
}

func TestNoticeReachesOtherSubscriber(t *testing.T) {
	hub, srv := newTestServer(t)
	first, err := hub.Join(1, "player", "", geom.Position{X: 5, Z: 5})
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	firstConn := dial(t, srv.URL, first.Token, "")
	if _, _, err := firstConn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial state: %v", err)
	}

	// The second join fans an enter notice out to the first subscriber.
	if _, err := hub.Join(1, "player", "newcomer", geom.Position{X: 6, Z: 6}); err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	_, payload, err := firstConn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read enter notice: %v", err)
	}
	if !strings.Contains(string(payload), "entity_enter") {
		t.Fatalf("expected enter notice, got %s", payload)
	}
}
