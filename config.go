package server

import (
	"time"

	"emberhold/server/internal/geom"
	"emberhold/server/internal/telemetry"
	"emberhold/server/logging"
)

// HubConfig carries everything the hub needs to spin up scenes and fan out
// state frames. Zero values fall back to the defaults below.
type HubConfig struct {
	// Scene geometry applied to every scene the hub creates.
	CellSize  float64
	MinBounds geom.Position
	MaxBounds geom.Position
	AOIRange  int

	MailboxCapacity   int
	BroadcastInterval time.Duration

	Clock   logging.Clock
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// DefaultHubConfig mirrors the scene defaults plus the hub's own cadence.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		CellSize:          10,
		MinBounds:         geom.Position{X: 0, Z: 0},
		MaxBounds:         geom.Position{X: 1000, Z: 1000},
		AOIRange:          1,
		MailboxCapacity:   256,
		BroadcastInterval: time.Second / broadcastRate,
	}
}
