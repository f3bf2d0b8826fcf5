package voicechat

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Uptime      float64           `json:"uptime"`
	Memory      memoryStats       `json:"memory"`
	Connections connectionStats   `json:"connections"`
	Services    map[string]string `json:"services"`
}

type memoryStats struct {
	HeapUsedMB  uint64 `json:"used"`
	HeapTotalMB uint64 `json:"total"`
	SysMB       uint64 `json:"rss"`
}

type connectionStats struct {
	Total     int `json:"total"`
	Recording int `json:"recording"`
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Checks    map[string]bool `json:"checks"`
}

// handleHealth reports process liveness: uptime, memory, and the session
// registry's connection aggregates.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startedAt).Seconds(),
		Memory: memoryStats{
			HeapUsedMB:  mem.HeapAlloc / 1024 / 1024,
			HeapTotalMB: mem.HeapSys / 1024 / 1024,
			SysMB:       mem.Sys / 1024 / 1024,
		},
		Connections: connectionStats{
			Total:     s.registry.Count(),
			Recording: s.registry.ActiveRecordingCount(),
		},
		Services: map[string]string{
			"websocket": "running",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode health response")
	}
}

// handleReady reports readiness based on the transcription provider's own
// connectivity check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"websocket":     true,
		"transcription": s.registry.CheckTranscriberConnectivity(ctx) == nil,
	}

	ready := checks["transcription"]
	resp := readinessResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode readiness response")
	}
}
