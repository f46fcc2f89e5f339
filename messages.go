package server

// diagnosticsSession exposes per-session heartbeat data for the diagnostics
// endpoint.
type diagnosticsSession struct {
	Ver           int    `json:"ver"`
	EntityID      uint64 `json:"entityId"`
	SceneID       uint64 `json:"sceneId"`
	Encoding      string `json:"encoding"`
	Subscribed    bool   `json:"subscribed"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}

// DiagnosticsScene summarises one live scene runtime.
type DiagnosticsScene struct {
	SceneID     uint64         `json:"sceneId"`
	ActorID     string         `json:"actorId"`
	State       string         `json:"state"`
	EntityCount int            `json:"entityCount"`
	Subscribers int            `json:"subscribers"`
	GridUsage   map[string]any `json:"gridUsage"`
}
