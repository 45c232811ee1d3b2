package api

import (
	"net/http"
	"time"
)

// healthResponse reports monitor liveness plus whether the run-history store
// is reachable, so probes can tell a healthy monitor from one serving a
// broken database.
type healthResponse struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	if _, err := s.store.GetRunStats(r.Context()); err != nil {
		storeStatus = "unavailable"
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Store:         storeStatus,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}
