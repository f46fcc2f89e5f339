package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/locks"
	"emberhold/server/internal/telemetry"
	"emberhold/server/logging"
	loglifecycle "emberhold/server/logging/lifecycle"
	logscene "emberhold/server/logging/scene"
)

// Timer names. Both are self-rescheduling: the handler arms the successor
// after the tick body completes, so a slow tick pushes the next firing out
// instead of stacking a backlog.
const (
	TimerSceneUpdate        = "scene_update"
	TimerPerformanceMonitor = "performance_monitor"
)

const (
	defaultMailboxCapacity = 256
	defaultUpdateInterval  = 5 * time.Second
	defaultMonitorInterval = time.Minute

	messagesProcessedMetricKey = "scene_messages_processed_total"
	handlerFailuresMetricKey   = "scene_handler_failures_total"
	timerMissedPostMetricKey   = "scene_timer_post_dropped_total"
)

// State tracks the runtime lifecycle:
// Created -> Started -> (Running <-> Restarting) -> Stopped -> Destroyed.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateRunning
	StateRestarting
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// RuntimeConfig wires a runtime to its scene and infrastructure.
type RuntimeConfig struct {
	Scene           *Scene
	MailboxCapacity int
	Clock           logging.Clock
	Scheduler       Scheduler
	Publisher       logging.Publisher
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	// AllocateID mints synthetic entity ids for CreateEntity. Hosts running
	// several scenes supply one shared allocator so ids stay unique.
	AllocateID      func() EntityID
	UpdateInterval  time.Duration
	MonitorInterval time.Duration
}

var sharedIDSource atomic.Uint64

// Runtime is the per-scene actor. Exactly one message is processed to
// completion at a time; every piece of runtime state except the grid is owned
// by the mailbox goroutine and reached from outside only via messages.
type Runtime struct {
	sceneID uint64
	actorID string
	scene   *Scene
	mailbox *Mailbox

	clock      logging.Clock
	scheduler  Scheduler
	publisher  logging.Publisher
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	allocateID func() EntityID

	updateInterval  time.Duration
	monitorInterval time.Duration

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	timersMu locks.Mutex
	timers   map[string]CancelTimer

	// Owned by the mailbox goroutine.
	counters   map[Kind]uint64
	processed  uint64
	failures   uint64
	lastActive time.Time
	perf       PerfSnapshot
}

// NewRuntime constructs a runtime in StateCreated. Start begins processing.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Scene == nil {
		return nil
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewSystemScheduler()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	allocate := cfg.AllocateID
	if allocate == nil {
		allocate = func() EntityID { return EntityID(sharedIDSource.Add(1)) }
	}
	capacity := cfg.MailboxCapacity
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	updateInterval := cfg.UpdateInterval
	if updateInterval <= 0 {
		updateInterval = defaultUpdateInterval
	}
	monitorInterval := cfg.MonitorInterval
	if monitorInterval <= 0 {
		monitorInterval = defaultMonitorInterval
	}
	return &Runtime{
		sceneID:         cfg.Scene.ID(),
		actorID:         uuid.NewString(),
		scene:           cfg.Scene,
		mailbox:         NewMailbox(capacity, cfg.Metrics),
		clock:           clock,
		scheduler:       scheduler,
		publisher:       publisher,
		logger:          logger,
		metrics:         cfg.Metrics,
		allocateID:      allocate,
		updateInterval:  updateInterval,
		monitorInterval: monitorInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		timers:          make(map[string]CancelTimer),
		counters:        make(map[Kind]uint64),
		lastActive:      clock.Now(),
	}
}

// ActorID reports the uuid minted for this runtime instance.
func (r *Runtime) ActorID() string {
	if r == nil {
		return ""
	}
	return r.actorID
}

// SceneID reports the owning scene's id.
func (r *Runtime) SceneID() uint64 {
	if r == nil {
		return 0
	}
	return r.sceneID
}

// State reports the current lifecycle state.
func (r *Runtime) State() State {
	if r == nil {
		return StateDestroyed
	}
	return State(r.state.Load())
}

// Post enqueues a message without a trace id. False means the mailbox is full
// or the runtime no longer accepts messages.
func (r *Runtime) Post(msg Message) bool {
	return r.PostTraced("", msg)
}

// PostTraced enqueues a message stamped with an intake trace id.
func (r *Runtime) PostTraced(traceID string, msg Message) bool {
	if r == nil || msg == nil {
		return false
	}
	switch r.State() {
	case StateStopped, StateDestroyed:
		return false
	}
	return r.mailbox.Push(Envelope{TraceID: traceID, Msg: msg})
}

// Start launches the mailbox loop and arms both recurring timers. Calling
// Start on anything but a freshly created runtime is a no-op.
func (r *Runtime) Start() {
	if r == nil {
		return
	}
	if !r.state.CompareAndSwap(int32(StateCreated), int32(StateStarted)) {
		return
	}
	go r.run()
	// A Stop racing the launch wins this transition; the loop drains and
	// exits on the already-closed stop channel, and no timers are armed.
	if !r.state.CompareAndSwap(int32(StateStarted), int32(StateRunning)) {
		return
	}
	r.armTimer(TimerSceneUpdate, r.updateInterval)
	r.armTimer(TimerPerformanceMonitor, r.monitorInterval)
	loglifecycle.RuntimeStarted(context.Background(), r.publisher, r.sceneID, loglifecycle.RuntimePayload{ActorID: r.actorID})
}

// Stop cancels both timers and halts the mailbox loop. Idempotent; a stopped
// scene must not keep firing ticks.
func (r *Runtime) Stop() {
	if r == nil {
		return
	}
	var launched bool
	for {
		current := r.state.Load()
		if State(current) == StateStopped || State(current) == StateDestroyed {
			return
		}
		// Only Start moves the state off Created, and it launches the
		// loop when it does, so any other state guarantees run() will
		// close done. A never-started runtime has nothing to wait for.
		launched = State(current) != StateCreated
		if r.state.CompareAndSwap(current, int32(StateStopped)) {
			break
		}
	}
	r.cancelTimers()
	close(r.stop)
	if launched {
		<-r.done
	}
	loglifecycle.RuntimeStopped(context.Background(), r.publisher, r.sceneID, loglifecycle.RuntimePayload{ActorID: r.actorID})
}

// Restart logs the triggering failure and re-arms both timers from scratch.
// Timers are not assumed to have survived whatever failed; they are re-armed,
// not resumed.
func (r *Runtime) Restart(reason string) {
	if r == nil {
		return
	}
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateRestarting)) {
		return
	}
	loglifecycle.RuntimeRestarted(context.Background(), r.publisher, r.sceneID, loglifecycle.RuntimePayload{
		ActorID: r.actorID,
		Reason:  reason,
	})
	r.cancelTimers()
	r.state.Store(int32(StateRunning))
	r.armTimer(TimerSceneUpdate, r.updateInterval)
	r.armTimer(TimerPerformanceMonitor, r.monitorInterval)
}

// Destroy stops the runtime and clears the scene's roster and grid.
func (r *Runtime) Destroy() {
	if r == nil {
		return
	}
	r.Stop()
	r.scene.Clear()
	r.state.Store(int32(StateDestroyed))
}

func (r *Runtime) armTimer(name string, delay time.Duration) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if cancel, ok := r.timers[name]; ok && cancel != nil {
		cancel()
		delete(r.timers, name)
	}
	switch State(r.state.Load()) {
	case StateStopped, StateDestroyed:
		return
	}
	cancel, err := r.scheduler.Schedule(delay, func() {
		if !r.Post(TimerFired{Timer: name}) {
			if r.metrics != nil {
				r.metrics.Add(timerMissedPostMetricKey, 1)
			}
		}
	})
	if err != nil {
		logscene.TimerRearmFailed(context.Background(), r.publisher, r.sceneID, name, err.Error())
		return
	}
	r.timers[name] = cancel
}

func (r *Runtime) cancelTimers() {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for name, cancel := range r.timers {
		if cancel != nil {
			cancel()
		}
		delete(r.timers, name)
	}
}

func (r *Runtime) run() {
	defer close(r.done)
	for {
		env, ok := r.mailbox.Receive(r.stop)
		if !ok {
			return
		}
		r.dispatch(env)
	}
}

// dispatch processes exactly one envelope. A panic inside a handler is
// recovered here: logged with scene id and message kind, converted to a
// failure reply for request/response kinds, and absorbed otherwise. Nothing
// unwinds past the mailbox boundary.
func (r *Runtime) dispatch(env Envelope) {
	kind := KindUnknown
	if env.Msg != nil {
		kind = env.Msg.MessageKind()
	}
	defer func() {
		if cause := recover(); cause != nil {
			r.failures++
			if r.metrics != nil {
				r.metrics.Add(handlerFailuresMetricKey, 1)
			}
			logscene.HandlerFailure(context.Background(), r.publisher, r.sceneID, logscene.HandlerFailurePayload{
				MessageKind: string(kind),
				Cause:       fmt.Sprint(cause),
				TraceID:     env.TraceID,
			})
			if replier, ok := env.Msg.(failureReplier); ok {
				replier.replyFailure("internal error")
			}
		}
	}()

	r.lastActive = r.clock.Now()
	r.processed++
	if r.metrics != nil {
		r.metrics.Add(messagesProcessedMetricKey, 1)
	}

	switch msg := env.Msg.(type) {
	case EntityEnter:
		r.handleEntityEnter(msg)
	case EntityLeave:
		r.handleEntityLeave(msg)
	case EntityMove:
		r.handleEntityMove(msg)
	case Broadcast:
		r.handleBroadcast(msg)
	case BroadcastInRange:
		r.handleBroadcastInRange(msg)
	case TimerFired:
		r.handleTimerFired(msg)
	case QueryInfo:
		r.handleQueryInfo(msg)
	case QuerySnapshot:
		r.handleQuerySnapshot(msg)
	case CreateEntity:
		r.handleCreateEntity(msg)
	case DestroyEntity:
		r.handleDestroyEntity(msg)
	default:
		r.bumpCounter(KindUnknown)
		label := string(kind)
		if unrec, ok := env.Msg.(Unrecognized); ok {
			label = unrec.Label
		}
		logscene.UnknownMessage(context.Background(), r.publisher, r.sceneID, label)
	}
}

func (r *Runtime) bumpCounter(kind Kind) {
	r.counters[kind]++
}

// EnterNotice tells existing entities that a new one arrived.
type EnterNotice struct {
	Type     string   `json:"type"`
	EntityID EntityID `json:"entityId"`
	Kind     string   `json:"kind,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// LeaveNotice tells remaining entities that one left. It is deliberately
// unfiltered; range-scoping leave notices is a domain policy choice made by
// whoever crafts the payload, not this layer.
type LeaveNotice struct {
	Type     string   `json:"type"`
	EntityID EntityID `json:"entityId"`
	Reason   string   `json:"reason,omitempty"`
}

// MoveNotice carries a position update to nearby entities.
type MoveNotice struct {
	Type     string        `json:"type"`
	EntityID EntityID      `json:"entityId"`
	Position geom.Position `json:"position"`
}

const (
	noticeEntityEnter    = "entity_enter"
	noticeEntityLeave    = "entity_leave"
	noticePositionUpdate = "position_update"
)

func (r *Runtime) encodeNotice(notice any) []byte {
	data, err := json.Marshal(notice)
	if err != nil {
		r.logger.Printf("scene %d: failed to encode notice: %v", r.sceneID, err)
		return nil
	}
	return data
}

func (r *Runtime) handleEntityEnter(msg EntityEnter) {
	r.bumpCounter(KindEntityEnter)
	ok := r.scene.EntityEnter(msg.Entity, msg.Position)
	if ok {
		trySendReply(msg.Reply, Reply{OK: true, Message: "entered"})
	} else {
		trySendReply(msg.Reply, Reply{Message: "enter rejected"})
		return
	}
	// Everyone already present hears about the arrival; the entrant must not
	// be told about its own.
	payload := r.encodeNotice(EnterNotice{
		Type:     noticeEntityEnter,
		EntityID: msg.Entity.ID,
		Kind:     msg.Entity.Kind,
		Name:     msg.Entity.Name,
	})
	if payload == nil {
		return
	}
	entering := msg.Entity.ID
	r.scene.Broadcast(payload, func(record *EntityRecord) bool {
		return record.ID != entering
	})
}

func (r *Runtime) handleEntityLeave(msg EntityLeave) {
	r.bumpCounter(KindEntityLeave)
	ok := r.scene.EntityLeave(msg.Entity, msg.Reason)
	if ok {
		trySendReply(msg.Reply, Reply{OK: true, Message: "left"})
	} else {
		trySendReply(msg.Reply, Reply{Message: "leave rejected"})
		return
	}
	payload := r.encodeNotice(LeaveNotice{
		Type:     noticeEntityLeave,
		EntityID: msg.Entity,
		Reason:   msg.Reason,
	})
	if payload == nil {
		return
	}
	r.scene.Broadcast(payload, nil)
}

func (r *Runtime) handleEntityMove(msg EntityMove) {
	r.bumpCounter(KindEntityMove)
	if !r.scene.UpdatePosition(msg.Entity, msg.Position) {
		return
	}
	// Encoded once; the same bytes fan out to every AOI recipient.
	payload := r.encodeNotice(MoveNotice{
		Type:     noticePositionUpdate,
		EntityID: msg.Entity,
		Position: msg.Position,
	})
	if payload == nil {
		return
	}
	r.scene.BroadcastNear(msg.Position, msg.Entity, payload)
}

func (r *Runtime) handleBroadcast(msg Broadcast) {
	r.bumpCounter(KindBroadcast)
	r.scene.Broadcast(msg.Payload, msg.Filter)
}

func (r *Runtime) handleBroadcastInRange(msg BroadcastInRange) {
	r.bumpCounter(KindBroadcastInRange)
	r.scene.BroadcastInRange(msg.Center, msg.Radius, msg.Payload)
}

func (r *Runtime) handleTimerFired(msg TimerFired) {
	r.bumpCounter(KindTimerFired)
	switch msg.Timer {
	case TimerSceneUpdate:
		r.scene.Tick(r.clock.Now())
		// Rescheduled relative to completion, not a fixed wall-clock grid:
		// a slow tick delays the next one instead of creating a backlog.
		r.armTimer(TimerSceneUpdate, r.updateInterval)
	case TimerPerformanceMonitor:
		r.refreshPerf()
		reclaimed := r.scene.Grid().CleanEmptyCells()
		logscene.GridMaintenance(context.Background(), r.publisher, r.sceneID, reclaimed)
		r.armTimer(TimerPerformanceMonitor, r.monitorInterval)
	default:
		logscene.UnknownMessage(context.Background(), r.publisher, r.sceneID, "timer:"+msg.Timer)
	}
}

func (r *Runtime) refreshPerf() {
	r.perf = PerfSnapshot{
		MessagesProcessed: r.processed,
		EntityCount:       r.scene.EntityCount(),
		TrackedInGrid:     r.scene.Grid().Statistics().TrackedEntities,
		Timestamp:         r.clock.Now(),
	}
}

func (r *Runtime) handleQueryInfo(msg QueryInfo) {
	r.bumpCounter(KindQueryInfo)
	counters := make(map[Kind]uint64, len(r.counters))
	for kind, count := range r.counters {
		counters[kind] = count
	}
	info := Info{
		ActorID:    r.actorID,
		SceneID:    r.sceneID,
		Counters:   counters,
		LastActive: r.lastActive,
		Domain:     r.scene.Statistics(),
		Perf:       r.perf,
	}
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- InfoReply{OK: true, Info: info}:
	default:
	}
}

func (r *Runtime) handleQuerySnapshot(msg QuerySnapshot) {
	r.bumpCounter(KindQuerySnapshot)
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- SnapshotReply{OK: true, Entities: r.scene.SnapshotEntities()}:
	default:
	}
}

func (r *Runtime) handleCreateEntity(msg CreateEntity) {
	r.bumpCounter(KindCreateEntity)
	id := r.allocateID()
	name := ""
	if raw, ok := msg.Props["name"].(string); ok {
		name = raw
	}
	ok := r.scene.EntityEnter(EntityDescriptor{ID: id, Kind: msg.Kind, Name: name}, msg.Position)
	if msg.Reply == nil {
		return
	}
	reply := CreateReply{OK: ok}
	if ok {
		reply.EntityID = id
		reply.Message = "created"
	} else {
		reply.Message = "create rejected"
	}
	select {
	case msg.Reply <- reply:
	default:
	}
}

func (r *Runtime) handleDestroyEntity(msg DestroyEntity) {
	r.bumpCounter(KindDestroyEntity)
	if r.scene.EntityLeave(msg.Entity, "destroyed") {
		trySendReply(msg.Reply, Reply{OK: true, Message: "destroyed"})
	} else {
		trySendReply(msg.Reply, Reply{Message: "destroy rejected"})
	}
}
