package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// logLineRequest is the structured log line a client may append via
// POST /api/utils/log (§4.6).
type logLineRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// handleUtilsLog appends a client-supplied log line under a generated
// correlation id, mirroring the [component] prefix convention the rest of
// the control plane uses.
func (s *Server) handleUtilsLog(w http.ResponseWriter, r *http.Request) {
	var req logLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed log line"})
		return
	}
	if req.Level == "" {
		req.Level = "info"
	}
	id := uuid.New().String()[:8]
	log.Printf("[client:%s] %s: %s", id, req.Level, req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleShutdown replies 200 then marks the shared requestedShutdown flag,
// honored on the telemetry monitor's next tick (§4.6).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.bus.RequestShutdown()
}
