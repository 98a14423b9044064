package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type statsResponse struct {
	Sources        int    `json:"sources"`
	Connections    int    `json:"connections"`
	DroppedUpdates int64  `json:"droppedUpdates"`
	QueryCacheSize int    `json:"queryCacheSize"`
	Executions     int64  `json:"executions"`
	MemoryBytes    uint64 `json:"memoryBytes"`
	Goroutines     int    `json:"goroutines"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// handleOptimize compacts the embedded store. The statements run directly on
// the store connection; the read-only gate only guards client statements.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Optimize(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "optimized"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, statsResponse{
		Sources:        len(s.registry.List()),
		Connections:    s.broker.Connections(),
		DroppedUpdates: s.broker.Dropped(),
		QueryCacheSize: s.engine.CacheLen(),
		Executions:     s.engine.Executions(),
		MemoryBytes:    mem.Alloc,
		Goroutines:     runtime.NumGoroutine(),
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
	})
}
