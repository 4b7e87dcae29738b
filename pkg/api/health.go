package api

import (
	"net/http"
	"time"
)

// handleHealth implements GET /health (spec.md §6.2): runs every
// registered Checker and reports healthy/degraded/unhealthy depending on
// how many failed, returning 503 only when every component is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]any, len(s.checkers))
	healthyCount, total := 0, len(s.checkers)
	for name, c := range s.checkers {
		res := c.Check(r.Context())
		components[name] = map[string]any{"healthy": res.Healthy, "message": res.Message}
		if res.Healthy {
			healthyCount++
		}
	}

	status := "healthy"
	code := http.StatusOK
	switch {
	case total > 0 && healthyCount == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthyCount < total:
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"components":     components,
	})
}

// handleLive implements GET /health/live: the process is up and serving.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// handleReady implements GET /health/ready: ready once every checker
// reports healthy, 503 with a reason otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for name, c := range s.checkers {
		if res := c.Check(r.Context()); !res.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"reason": name + ": " + res.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
