// Package net mounts the HTTP surface: join, websocket attach, and
// diagnostics.
package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	server "emberhold/server"
	"emberhold/server/internal/geom"
	"emberhold/server/internal/net/proto"
	"emberhold/server/internal/net/ws"
	"emberhold/server/internal/telemetry"
)

// HTTPHandlerConfig carries the optional wiring for the HTTP surface.
type HTTPHandlerConfig struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

type joinRequest struct {
	SceneID uint64  `json:"sceneId"`
	Kind    string  `json:"kind"`
	Name    string  `json:"name"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
}

// NewHTTPHandler builds the server mux around a hub.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sessions, scenes := hub.DiagnosticsSnapshot()
		payload := struct {
			Status        string `json:"status"`
			ServerTime    int64  `json:"serverTime"`
			Sessions      any    `json:"sessions"`
			Scenes        any    `json:"scenes"`
			BroadcastRate int    `json:"broadcastRate"`
			Heartbeat     int64  `json:"heartbeatMillis"`
			Metrics       any    `json:"metrics,omitempty"`
		}{
			Status:        "ok",
			ServerTime:    time.Now().UnixMilli(),
			Sessions:      sessions,
			Scenes:        scenes,
			BroadcastRate: server.BroadcastRate(),
			Heartbeat:     server.HeartbeatInterval().Milliseconds(),
		}
		if snapshotter, ok := cfg.Metrics.(interface{ Snapshot() map[string]uint64 }); ok {
			payload.Metrics = snapshotter.Snapshot()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		// An empty body means "default everything".
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, "malformed join request", nethttp.StatusBadRequest)
			return
		}
		if req.SceneID == 0 {
			req.SceneID = server.DefaultSceneID()
		}

		join, err := hub.Join(req.SceneID, req.Kind, req.Name, geom.Position{X: req.X, Y: req.Y, Z: req.Z})
		if err != nil {
			logger.Printf("join failed: %v", err)
			status := nethttp.StatusServiceUnavailable
			if errors.Is(err, server.ErrJoinRejected) {
				status = nethttp.StatusConflict
			}
			httpError(w, err.Error(), status)
			return
		}

		data, err := proto.EncodeJoinResponse(join)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	wsHandler := ws.NewHandler(hub, logger)
	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}

func httpError(w nethttp.ResponseWriter, message string, status int) {
	nethttp.Error(w, message, status)
}
