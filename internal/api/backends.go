package api

import (
	"net/http"

	"github.com/seantiz/scatter/backend"
)

// backendsResponse lists the execution plans registered in this process.
type backendsResponse struct {
	Backends []backend.Info `json:"backends"`
	Count    int            `json:"count"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	s.writeJSON(w, http.StatusOK, backendsResponse{
		Backends: infos,
		Count:    len(infos),
	})
}
