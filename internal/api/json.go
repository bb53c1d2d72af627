package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wingman-run/wingman/internal/domain"
)

// writeJSON writes v as a JSON body with the §6-mandated Content-Type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain sentinel error onto its §7 status code and
// writes a JSON {"error": "..."} body. Unrecognized errors are 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusAlreadyReported
	case errors.Is(err, domain.ErrBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
