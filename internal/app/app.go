package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	server "emberhold/server"
	servernet "emberhold/server/internal/net"
	"emberhold/server/internal/observability"
	"emberhold/server/internal/telemetry"
	"emberhold/server/logging"
	loggingSinks "emberhold/server/logging/sinks"
)

// Config carries the process-level wiring for Run.
type Config struct {
	Addr          string
	Logger        telemetry.Logger
	Observability observability.Config
}

// Run wires the logging router, the hub, and the HTTP server, then serves
// until the listener fails or ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	observabilityCfg := cfg.Observability
	if raw := os.Getenv("EVENT_LOG_PATH"); raw != "" {
		observabilityCfg.EventLogPath = raw
	}

	logConfig := logging.DefaultConfig()
	namedSinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console)},
	}
	if observabilityCfg.EventLogPath != "" {
		jsonCfg := logConfig.JSON
		jsonCfg.FilePath = observabilityCfg.EventLogPath
		jsonSink, err := loggingSinks.NewJSONSink(jsonCfg)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		namedSinks = append(namedSinks, logging.NamedSink{Name: "json", Sink: jsonSink})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Logger = telemetryLogger
	hubCfg.Metrics = telemetry.NewMemoryMetrics()
	if raw := os.Getenv("SCENE_CELL_SIZE"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			hubCfg.CellSize = value
		} else {
			telemetryLogger.Printf("invalid SCENE_CELL_SIZE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SCENE_AOI_RANGE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			hubCfg.AOIRange = value
		} else {
			telemetryLogger.Printf("invalid SCENE_AOI_RANGE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("BROADCAST_INTERVAL_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			hubCfg.BroadcastInterval = time.Duration(value) * time.Millisecond
		} else {
			telemetryLogger.Printf("invalid BROADCAST_INTERVAL_MS=%q: %v", raw, err)
		}
	}

	hub := server.NewHub(hubCfg, router)
	defer hub.Close()

	stop := make(chan struct{})
	go hub.RunBroadcast(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:  telemetryLogger,
		Metrics: hubCfg.Metrics,
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	if raw := os.Getenv("LISTEN_ADDR"); raw != "" {
		addr = raw
	}

	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	telemetryLogger.Printf("server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
