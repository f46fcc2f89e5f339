package grid

// Statistics is a point-in-time occupancy report. Recomputing it walks every
// cell, so it belongs on a monitoring cadence, not the per-move hot path.
type Statistics struct {
	TotalCells         int     `json:"totalCells"`
	ActiveCells        int     `json:"activeCells"`
	TrackedEntities    int     `json:"trackedEntities"`
	MaxEntitiesInCell  int     `json:"maxEntitiesInCell"`
	AvgEntitiesPerCell float64 `json:"avgEntitiesPerCell"`
	TotalUpdates       uint64  `json:"totalUpdates"`
	TotalQueries       uint64  `json:"totalQueries"`
}

// Statistics recomputes occupancy under the read lock. Safe to call
// concurrently with live traffic.
func (g *Grid) Statistics() Statistics {
	if g == nil {
		return Statistics{}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{
		TotalCells:      g.width * g.height,
		TrackedEntities: len(g.index),
		TotalUpdates:    g.totalUpdates.Load(),
		TotalQueries:    g.totalQueries.Load(),
	}
	occupied := 0
	for _, c := range g.cells {
		count := len(c.entities)
		if count == 0 {
			continue
		}
		stats.ActiveCells++
		occupied += count
		if count > stats.MaxEntitiesInCell {
			stats.MaxEntitiesInCell = count
		}
	}
	if stats.ActiveCells > 0 {
		stats.AvgEntitiesPerCell = float64(occupied) / float64(stats.ActiveCells)
	}
	return stats
}

// UsageReport renders the statistics for diagnostics endpoints.
func (g *Grid) UsageReport() map[string]any {
	stats := g.Statistics()
	utilization := 0.0
	if stats.TotalCells > 0 {
		utilization = float64(stats.ActiveCells) / float64(stats.TotalCells)
	}
	return map[string]any{
		"totalCells":         stats.TotalCells,
		"activeCells":        stats.ActiveCells,
		"utilization":        utilization,
		"trackedEntities":    stats.TrackedEntities,
		"maxEntitiesInCell":  stats.MaxEntitiesInCell,
		"avgEntitiesPerCell": stats.AvgEntitiesPerCell,
		"totalUpdates":       stats.TotalUpdates,
		"totalQueries":       stats.TotalQueries,
	}
}
