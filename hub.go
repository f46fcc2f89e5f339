package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/grid"
	"emberhold/server/internal/locks"
	"emberhold/server/internal/net/proto"
	"emberhold/server/internal/scene"
	"emberhold/server/internal/telemetry"
	"emberhold/server/logging"
	lognetwork "emberhold/server/logging/network"
)

var (
	// ErrHubClosed is returned once Close has begun tearing scenes down.
	ErrHubClosed = errors.New("hub closed")
	// ErrJoinTimeout is returned when the scene runtime does not answer the
	// admission request within the join window.
	ErrJoinTimeout = errors.New("join timed out")
	// ErrJoinRejected is returned when the scene refuses the admission.
	ErrJoinRejected = errors.New("join rejected")
)

// Hub owns the scene runtimes and the websocket session table. It is the
// scene layer's Deliverer: notices addressed to an entity land on that
// entity's session, if one is attached.
type Hub struct {
	cfg       HubConfig
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	clock     logging.Clock

	nextEntity atomic.Uint64

	mu       locks.RWMutex
	scenes   map[uint64]*sceneEntry
	sessions map[string]*session
	byEntity map[grid.EntityID]*session
	closed   bool
}

type sceneEntry struct {
	scene   *scene.Scene
	runtime *scene.Runtime
}

// session binds an admitted entity to its (optional) websocket connection.
// The write mutex serialises frame writes from the broadcast loop and the
// scene deliverer.
type session struct {
	token    string
	entityID grid.EntityID
	sceneID  uint64

	mu            locks.Mutex
	conn          *websocket.Conn
	codec         proto.Codec
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// WriteFrame writes one frame under the session mutex with the write
// deadline applied. Sessions without an attached connection report success;
// a joined-but-unsubscribed entity simply misses the frame.
func (s *session) WriteFrame(frameType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(frameType, data)
}

func (s *session) attach(conn *websocket.Conn, codec proto.Codec, now time.Time) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.conn
	s.conn = conn
	s.codec = codec
	s.lastHeartbeat = now
	return previous
}

func (s *session) detach() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

// Codec reports the negotiated encoding, defaulting to JSON before any
// subscription happens.
func (s *session) Codec() proto.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codec == nil {
		return proto.JSONCodec()
	}
	return s.codec
}

// EntityID reports the entity this session was admitted as.
func (s *session) EntityID() grid.EntityID {
	return s.entityID
}

// SceneID reports the scene this session belongs to.
func (s *session) SceneID() uint64 {
	return s.sceneID
}

var _ scene.Deliverer = (*Hub)(nil)

// NewHub constructs a hub with no scenes. Scenes are created lazily on the
// first join that names them.
func NewHub(cfg HubConfig, publisher logging.Publisher) *Hub {
	defaults := DefaultHubConfig()
	if cfg.CellSize <= 0 {
		cfg.CellSize = defaults.CellSize
	}
	if cfg.MaxBounds == (geom.Position{}) {
		cfg.MinBounds = defaults.MinBounds
		cfg.MaxBounds = defaults.MaxBounds
	}
	if cfg.AOIRange <= 0 {
		cfg.AOIRange = defaults.AOIRange
	}
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = defaults.MailboxCapacity
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaults.BroadcastInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(nil)
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Hub{
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: publisher,
		clock:     cfg.Clock,
		scenes:    make(map[uint64]*sceneEntry),
		sessions:  make(map[string]*session),
		byEntity:  make(map[grid.EntityID]*session),
	}
}

// EnsureScene returns the runtime for sceneID, creating and starting it on
// first use.
func (h *Hub) EnsureScene(sceneID uint64) (*scene.Runtime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if entry, ok := h.scenes[sceneID]; ok {
		return entry.runtime, nil
	}

	sceneCfg := scene.DefaultConfig(sceneID)
	sceneCfg.Name = fmt.Sprintf("scene-%d", sceneID)
	sceneCfg.CellSize = h.cfg.CellSize
	sceneCfg.MinBounds = h.cfg.MinBounds
	sceneCfg.MaxBounds = h.cfg.MaxBounds
	sceneCfg.AOIRange = h.cfg.AOIRange
	sceneCfg.Clock = h.clock
	sceneCfg.Publisher = h.publisher
	sceneCfg.Deliverer = h

	s := scene.New(sceneCfg)
	runtime := scene.NewRuntime(scene.RuntimeConfig{
		Scene:           s,
		MailboxCapacity: h.cfg.MailboxCapacity,
		Clock:           h.clock,
		Publisher:       h.publisher,
		Logger:          h.logger,
		Metrics:         h.metrics,
		AllocateID:      func() grid.EntityID { return grid.EntityID(h.nextEntity.Add(1)) },
	})
	if runtime == nil {
		return nil, fmt.Errorf("failed to construct runtime for scene %d", sceneID)
	}
	runtime.Start()
	h.scenes[sceneID] = &sceneEntry{scene: s, runtime: runtime}
	return runtime, nil
}

// Runtime looks up a live scene runtime.
func (h *Hub) Runtime(sceneID uint64) (*scene.Runtime, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.scenes[sceneID]
	if !ok {
		return nil, false
	}
	return entry.runtime, true
}

// DestroyScene stops a scene runtime and disconnects its sessions. Unknown
// scene ids are a no-op.
func (h *Hub) DestroyScene(sceneID uint64) {
	h.mu.Lock()
	entry, ok := h.scenes[sceneID]
	if ok {
		delete(h.scenes, sceneID)
	}
	tokens := make([]string, 0)
	for token, sess := range h.sessions {
		if sess.sceneID == sceneID {
			tokens = append(tokens, token)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	for _, token := range tokens {
		h.Disconnect(token, "scene destroyed")
	}
	entry.runtime.Destroy()
}

// Join admits a new entity into sceneID and returns the session token plus
// the current roster. The admission round-trips through the scene mailbox
// with a bounded wait.
func (h *Hub) Join(sceneID uint64, kind, name string, pos geom.Position) (proto.JoinResponseV1, error) {
	var zero proto.JoinResponseV1
	if kind == "" {
		kind = defaultEntityKind
	}

	runtime, err := h.EnsureScene(sceneID)
	if err != nil {
		return zero, err
	}

	entityID := grid.EntityID(h.nextEntity.Add(1))
	reply := make(chan scene.Reply, 1)
	enter := scene.EntityEnter{
		Entity:   scene.EntityDescriptor{ID: entityID, Kind: kind, Name: name},
		Position: pos,
		Reply:    reply,
	}
	if !runtime.Post(enter) {
		return zero, fmt.Errorf("%w: scene %d mailbox full", ErrJoinRejected, sceneID)
	}
	select {
	case answer := <-reply:
		if !answer.OK {
			return zero, fmt.Errorf("%w: %s", ErrJoinRejected, answer.Message)
		}
	case <-time.After(joinReplyWait):
		return zero, ErrJoinTimeout
	}

	token := uuid.NewString()
	sess := &session{
		token:         token,
		entityID:      entityID,
		sceneID:       sceneID,
		lastHeartbeat: h.clock.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		runtime.Post(scene.EntityLeave{Entity: entityID, Reason: "hub closed"})
		return zero, ErrHubClosed
	}
	h.sessions[token] = sess
	h.byEntity[entityID] = sess
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Add("hub_joins_total", 1)
	}

	return proto.JoinResponseV1{
		Token:    token,
		EntityID: entityID,
		SceneID:  sceneID,
		Position: pos,
		Entities: h.rosterSnapshot(runtime),
	}, nil
}

// StateFrame builds the current state frame for a scene. Used by the ws
// layer for the initial frame after subscribing.
func (h *Hub) StateFrame(sceneID uint64) (proto.StateFrameV1, bool) {
	runtime, ok := h.Runtime(sceneID)
	if !ok {
		return proto.StateFrameV1{}, false
	}
	return proto.StateFrameV1{
		SceneID:    sceneID,
		Entities:   h.rosterSnapshot(runtime),
		ServerTime: h.clock.Now().UnixMilli(),
	}, true
}

// rosterSnapshot asks the runtime for its roster with a bounded wait. A
// timeout degrades to an empty roster rather than failing the caller.
func (h *Hub) rosterSnapshot(runtime *scene.Runtime) []proto.EntityStateV1 {
	reply := make(chan scene.SnapshotReply, 1)
	if !runtime.Post(scene.QuerySnapshot{Reply: reply}) {
		return nil
	}
	select {
	case answer := <-reply:
		if !answer.OK {
			return nil
		}
		return toEntityStates(answer.Entities)
	case <-time.After(joinReplyWait):
		return nil
	}
}

func toEntityStates(records []scene.EntityRecord) []proto.EntityStateV1 {
	out := make([]proto.EntityStateV1, 0, len(records))
	for _, record := range records {
		out = append(out, proto.EntityStateV1{
			ID:   record.ID,
			Kind: record.Kind,
			Name: record.Name,
			X:    record.Position.X,
			Y:    record.Position.Y,
			Z:    record.Position.Z,
		})
	}
	return out
}

// Subscribe attaches a websocket connection to a joined session. A second
// subscription for the same token supersedes the first; the superseded
// connection is closed.
func (h *Hub) Subscribe(token string, conn *websocket.Conn, encoding string) (*session, *scene.Runtime, bool) {
	h.mu.RLock()
	sess, ok := h.sessions[token]
	var runtime *scene.Runtime
	if ok {
		if entry, found := h.scenes[sess.sceneID]; found {
			runtime = entry.runtime
		}
	}
	h.mu.RUnlock()
	if !ok || runtime == nil {
		return nil, nil, false
	}

	codec := proto.CodecForName(encoding)
	if previous := sess.attach(conn, codec, h.clock.Now()); previous != nil {
		previous.Close()
	}
	lognetwork.SessionOpened(context.Background(), h.publisher, uint64(sess.entityID), lognetwork.SessionPayload{
		SessionToken: token,
		Encoding:     codec.Name(),
	})
	return sess, runtime, true
}

// Disconnect releases a session: the entity leaves its scene and any
// attached connection is closed.
func (h *Hub) Disconnect(token, reason string) {
	h.mu.Lock()
	sess, ok := h.sessions[token]
	if ok {
		delete(h.sessions, token)
		delete(h.byEntity, sess.entityID)
	}
	var runtime *scene.Runtime
	if ok {
		if entry, found := h.scenes[sess.sceneID]; found {
			runtime = entry.runtime
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if runtime != nil {
		runtime.Post(scene.EntityLeave{Entity: sess.entityID, Reason: reason})
	}
	if conn := sess.detach(); conn != nil {
		conn.Close()
	}
	lognetwork.SessionClosed(context.Background(), h.publisher, uint64(sess.entityID), lognetwork.SessionPayload{
		SessionToken: token,
		Reason:       reason,
	})
}

// Deliver implements scene.Deliverer. Notices are JSON documents and travel
// as text frames regardless of the session's negotiated state-frame codec.
func (h *Hub) Deliver(id grid.EntityID, payload []byte) bool {
	h.mu.RLock()
	sess, ok := h.byEntity[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := sess.WriteFrame(websocket.TextMessage, payload); err != nil {
		lognetwork.WriteFailed(context.Background(), h.publisher, uint64(id), lognetwork.SessionPayload{
			SessionToken: sess.token,
			Reason:       err.Error(),
		})
		go h.Disconnect(sess.token, "write failed")
		return false
	}
	return true
}

// UpdateHeartbeat records the most recent heartbeat time and RTT for a
// session.
func (h *Hub) UpdateHeartbeat(token string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.RLock()
	sess, ok := h.sessions[token]
	h.mu.RUnlock()
	if !ok {
		return 0, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			sess.lastRTT = rtt
		}
	}
	return sess.lastRTT, true
}

// RunBroadcast drives the periodic state-frame fan-out until stop closes.
// Each tick prunes heartbeat-stale sessions, snapshots every scene through
// its mailbox, and writes one frame per subscriber, encoded once per
// negotiated codec.
func (h *Hub) RunBroadcast(stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.pruneStale(now)
			h.broadcastOnce(now)
		}
	}
}

func (h *Hub) pruneStale(now time.Time) {
	h.mu.RLock()
	stale := make([]string, 0)
	for token, sess := range h.sessions {
		sess.mu.Lock()
		last := sess.lastHeartbeat
		sess.mu.Unlock()
		if now.Sub(last) > disconnectAfter {
			stale = append(stale, token)
		}
	}
	h.mu.RUnlock()

	for _, token := range stale {
		h.logger.Printf("disconnecting session %s: heartbeat timeout", token)
		h.Disconnect(token, "heartbeat timeout")
	}
}

// broadcastOnce sends one state frame per scene to its subscribers.
func (h *Hub) broadcastOnce(now time.Time) {
	h.mu.RLock()
	runtimes := make(map[uint64]*scene.Runtime, len(h.scenes))
	for sceneID, entry := range h.scenes {
		runtimes[sceneID] = entry.runtime
	}
	recipients := make(map[uint64][]*session)
	for _, sess := range h.sessions {
		recipients[sess.sceneID] = append(recipients[sess.sceneID], sess)
	}
	h.mu.RUnlock()

	for sceneID, runtime := range runtimes {
		sessions := recipients[sceneID]
		if len(sessions) == 0 {
			continue
		}
		frame := proto.StateFrameV1{
			SceneID:    sceneID,
			Entities:   h.rosterSnapshot(runtime),
			ServerTime: now.UnixMilli(),
		}

		// One encode per codec in use, shared across that codec's sessions.
		encoded := make(map[string][]byte, 2)
		for _, sess := range sessions {
			codec := sess.Codec()
			data, ok := encoded[codec.Name()]
			if !ok {
				var err error
				data, err = proto.EncodeStateFrame(codec, frame)
				if err != nil {
					h.logger.Printf("failed to encode state frame for scene %d (%s): %v", sceneID, codec.Name(), err)
					encoded[codec.Name()] = nil
					continue
				}
				encoded[codec.Name()] = data
			}
			if data == nil {
				continue
			}
			if err := sess.WriteFrame(codec.FrameType(), data); err != nil {
				lognetwork.WriteFailed(context.Background(), h.publisher, uint64(sess.entityID), lognetwork.SessionPayload{
					SessionToken: sess.token,
					Reason:       err.Error(),
				})
				go h.Disconnect(sess.token, "write failed")
			}
		}
		if h.metrics != nil {
			h.metrics.Add("hub_state_frames_total", uint64(len(sessions)))
		}
	}
}

// DiagnosticsSnapshot exposes session heartbeat data and scene summaries for
// the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() ([]diagnosticsSession, []DiagnosticsScene) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	entries := make(map[uint64]*sceneEntry, len(h.scenes))
	for sceneID, entry := range h.scenes {
		entries[sceneID] = entry
	}
	subscriberCounts := make(map[uint64]int)
	for _, sess := range sessions {
		subscriberCounts[sess.sceneID]++
	}
	h.mu.RUnlock()

	out := make([]diagnosticsSession, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		entry := diagnosticsSession{
			Ver:           ProtocolVersion,
			EntityID:      uint64(sess.entityID),
			SceneID:       sess.sceneID,
			Encoding:      proto.EncodingJSON,
			Subscribed:    sess.conn != nil,
			LastHeartbeat: sess.lastHeartbeat.UnixMilli(),
			RTTMillis:     sess.lastRTT.Milliseconds(),
		}
		if sess.codec != nil {
			entry.Encoding = sess.codec.Name()
		}
		sess.mu.Unlock()
		out = append(out, entry)
	}

	scenes := make([]DiagnosticsScene, 0, len(entries))
	for sceneID, entry := range entries {
		scenes = append(scenes, DiagnosticsScene{
			SceneID: sceneID,
			ActorID: entry.runtime.ActorID(),
			State:   entry.runtime.State().String(),
			// The roster is loop-owned; the grid carries its own lock, so
			// its tracked count is the safe read from here.
			EntityCount: entry.scene.Grid().Statistics().TrackedEntities,
			Subscribers: subscriberCounts[sceneID],
			GridUsage:   entry.scene.Grid().UsageReport(),
		})
	}
	return out, scenes
}

// Close tears down every scene runtime and closes all session connections.
// Further joins fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[string]*session)
	h.byEntity = make(map[grid.EntityID]*session)
	entries := make([]*sceneEntry, 0, len(h.scenes))
	for _, entry := range h.scenes {
		entries = append(entries, entry)
	}
	h.scenes = make(map[uint64]*sceneEntry)
	h.mu.Unlock()

	for _, sess := range sessions {
		if conn := sess.detach(); conn != nil {
			conn.Close()
		}
	}
	for _, entry := range entries {
		entry.runtime.Destroy()
	}
}
