package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
)

// handleInferenceList returns WingmanItem rows, optionally filtered by alias.
func (s *Server) handleInferenceList(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	if alias != "" {
		item, err := s.store.Wingman.Get(alias)
		if err != nil {
			writeError(w, err)
			return
		}
		if item == nil {
			writeJSON(w, http.StatusOK, []domain.WingmanItem{})
			return
		}
		writeJSON(w, http.StatusOK, []domain.WingmanItem{*item})
		return
	}

	items, err := s.store.Wingman.GetAll()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleInferenceStart implements the six-step start contract of §4.6.
func (s *Server) handleInferenceStart(w http.ResponseWriter, r *http.Request) {
	if !s.startMu.TryLock() {
		writeError(w, domain.ErrBusy)
		return
	}
	defer s.startMu.Unlock()

	q := r.URL.Query()
	alias := q.Get("alias")
	modelRepo := q.Get("modelRepo")
	filePath := q.Get("filePath")
	if alias == "" || modelRepo == "" || filePath == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}

	active, err := s.store.Wingman.GetAllActive()
	if err != nil {
		writeError(w, err)
		return
	}
	if len(active) > 1 {
		log.Fatalf("[api] single-active invariant broken: %d active WingmanItems", len(active))
	}

	if len(active) == 1 {
		if active[0].Alias == alias {
			writeJSON(w, http.StatusAlreadyReported, active[0])
			return
		}
		if _, err := s.stopAndWait(active[0].Alias); err != nil {
			writeError(w, err)
			return
		}
	}

	download, err := s.store.Download.Get(modelRepo, filePath)
	if err != nil {
		writeError(w, err)
		return
	}
	if download == nil || download.Status != domain.DownloadComplete {
		writeError(w, domain.ErrNotFound)
		return
	}

	row := domain.NewWingmanItem(alias, modelRepo, filePath)
	if v := q.Get("address"); v != "" {
		row.Address = v
	}
	if v := q.Get("port"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			row.Port = n
		}
	}
	if v := q.Get("contextSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			row.ContextSize = n
		}
	}
	if v := q.Get("gpuLayers"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			row.GPULayers = n
		}
	}
	row.Status = domain.WingmanQueued

	updated, err := s.store.Wingman.Set(row)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, updated)
}

// handleInferenceStop sets alias's row to cancelling and waits (bounded)
// for the supervisor to finalize it to complete.
func (s *Server) handleInferenceStop(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	if alias == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	row, err := s.stopAndWait(alias)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleInferenceReset stops (if active) then removes the row entirely.
func (s *Server) handleInferenceReset(w http.ResponseWriter, r *http.Request) {
	alias := r.URL.Query().Get("alias")
	if alias == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}
	existing, err := s.store.Wingman.Get(alias)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	if existing.IsActive() {
		if _, err := s.stopAndWait(alias); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.store.Wingman.Remove(alias); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// stopAndWait sets alias's row to cancelling and polls Store until the
// supervisor finalizes it to complete or startWaitBudget elapses.
func (s *Server) stopAndWait(alias string) (*domain.WingmanItem, error) {
	row, err := s.store.Wingman.Get(alias)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	row.Status = domain.WingmanCancelling
	if _, err := s.store.Wingman.Set(*row); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(startWaitBudget)
	for time.Now().Before(deadline) {
		current, err := s.store.Wingman.Get(alias)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status == domain.WingmanComplete {
			return current, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, errStopTimeout
}

var errStopTimeout = errors.New("timed out waiting for inference row to stop")
