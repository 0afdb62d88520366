package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/history"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/service"
)

// SystemStatus is the response of GET /api/v1/system.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	LastExport    *history.Run   `json:"last_export,omitempty"`
	LastImport    *history.Run   `json:"last_import,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleSystem returns process statistics and the latest run of each
// operation.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.runs != nil {
		status.LastExport = s.lastRun(r, service.ServiceExport)
		status.LastImport = s.lastRun(r, service.ServiceImport)
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) lastRun(r *http.Request, operation string) *history.Run {
	res, err := s.runs.List(r.Context(), history.Filter{Operation: operation, Limit: 1})
	if err != nil {
		s.logger.Warn("failed to read run history", "operation", operation, "error", err)
		return nil
	}
	if len(res.Runs) == 0 {
		return nil
	}
	return &res.Runs[0]
}
