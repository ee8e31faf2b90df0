package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// ConnectionChecker reports whether an outbound connection is up.
// *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics. *database.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// savedVersioner is implemented by savers that track the last written
// snapshot, such as *controller.Persister.
type savedVersioner interface {
	SavedVersion() (uint64, bool)
}

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	Controllers   ControllerMetrics   `json:"controllers"`
	Simulation    *SimulationMetrics  `json:"simulation,omitempty"`
	WebSocket     WSMetrics           `json:"websocket"`
	MQTT          *MQTTMetrics        `json:"mqtt,omitempty"`
	Persistence   *PersistenceMetrics `json:"persistence,omitempty"`
	Database      *DatabaseMetrics    `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// ControllerMetrics summarises the registry.
type ControllerMetrics struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// SimulationMetrics contains tick loop counters.
type SimulationMetrics struct {
	Ticks    uint64 `json:"ticks"`
	Failures uint64 `json:"failures"`
	LastTick string `json:"last_tick,omitempty"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// PersistenceMetrics reports the last snapshot written to the store.
type PersistenceMetrics struct {
	SavedVersion uint64 `json:"saved_version"`
	Saved        bool   `json:"saved"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process and pipeline statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.registry.Snapshot()
	enabled := 0
	for _, e := range snap.Entries {
		if e.State.Enabled {
			enabled++
		}
	}

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Controllers: ControllerMetrics{
			Total:   snap.Len(),
			Enabled: enabled,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.ticks != nil {
		stats := s.ticks.Stats()
		metrics.Simulation = &SimulationMetrics{
			Ticks:    stats.Runs,
			Failures: stats.Failures,
		}
		if !stats.LastRun.IsZero() {
			metrics.Simulation.LastTick = stats.LastRun.UTC().Format(time.RFC3339Nano)
		}
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if sv, ok := s.persister.(savedVersioner); ok {
		version, saved := sv.SavedVersion()
		metrics.Persistence = &PersistenceMetrics{SavedVersion: version, Saved: saved}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
