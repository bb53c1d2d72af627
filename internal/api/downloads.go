package api

import (
	"net/http"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/modelfile"
)

// downloadItemView adds the quantization token/label parsed from the
// filename to a DownloadItem for display, without persisting either as a
// column (§6 "DownloadItemName" supplement).
type downloadItemView struct {
	domain.DownloadItem
	Quantization     string `json:"quantization,omitempty"`
	QuantizationName string `json:"quantizationName,omitempty"`
}

func withQuantization(item domain.DownloadItem) downloadItemView {
	q, name := modelfile.ParseQuantization(item.FilePath)
	return downloadItemView{DownloadItem: item, Quantization: q, QuantizationName: name}
}

func withQuantizationAll(items []domain.DownloadItem) []downloadItemView {
	out := make([]downloadItemView, 0, len(items))
	for _, it := range items {
		out = append(out, withQuantization(it))
	}
	return out
}

// handleModels serves the catalog listing §4.6's /api/models describes,
// passing the upstream Catalog collaborator's result through largely as-is.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.catalog.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// handleDownloadsList returns DownloadItem rows, optionally filtered by
// modelRepo/filePath query params.
func (s *Server) handleDownloadsList(w http.ResponseWriter, r *http.Request) {
	modelRepo := r.URL.Query().Get("modelRepo")
	filePath := r.URL.Query().Get("filePath")

	if modelRepo != "" && filePath != "" {
		item, err := s.store.Download.Get(modelRepo, filePath)
		if err != nil {
			writeError(w, err)
			return
		}
		if item == nil {
			writeJSON(w, http.StatusOK, []downloadItemView{})
			return
		}
		writeJSON(w, http.StatusOK, withQuantizationAll([]domain.DownloadItem{*item}))
		return
	}

	items, err := s.store.Download.GetAll()
	if err != nil {
		writeError(w, err)
		return
	}
	items = filterDownloads(items, modelRepo, filePath)
	writeJSON(w, http.StatusOK, withQuantizationAll(items))
}

func filterDownloads(items []domain.DownloadItem, modelRepo, filePath string) []domain.DownloadItem {
	if modelRepo == "" && filePath == "" {
		return items
	}
	out := make([]domain.DownloadItem, 0, len(items))
	for _, it := range items {
		if modelRepo != "" && it.ModelRepo != modelRepo {
			continue
		}
		if filePath != "" && it.FilePath != filePath {
			continue
		}
		out = append(out, it)
	}
	return out
}

// isEnqueued reports whether an existing row already occupies the
// download pipeline or has finished successfully, the three statuses
// §4.6 treats as "already queued" (cancelled/error/idle rows fall
// through and get re-queued instead).
func isEnqueued(status domain.DownloadStatus) bool {
	return status == domain.DownloadQueued || status == domain.DownloadDownloading || status == domain.DownloadComplete
}

// handleDownloadsEnqueue implements §4.6's enqueue contract: 422 if the
// required query params are missing, 404 if the catalog doesn't carry the
// file, 208 if a row for it is queued/downloading/complete, else 202 with
// the (possibly re-queued) row.
func (s *Server) handleDownloadsEnqueue(w http.ResponseWriter, r *http.Request) {
	modelRepo := r.URL.Query().Get("modelRepo")
	filePath := r.URL.Query().Get("filePath")
	if modelRepo == "" || filePath == "" {
		writeError(w, domain.ErrInvalidArgument)
		return
	}

	ctx := r.Context()
	has, err := s.catalog.Has(ctx, modelRepo, filePath)
	if err != nil {
		writeError(w, err)
		return
	}
	if !has {
		writeError(w, domain.ErrNotFound)
		return
	}

	existing, err := s.store.Download.Get(modelRepo, filePath)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing != nil && isEnqueued(existing.Status) {
		writeJSON(w, http.StatusAlreadyReported, withQuantization(*existing))
		return
	}

	var item domain.DownloadItem
	if existing != nil {
		existing.Status = domain.DownloadQueued
		existing.Error = ""
		item, err = s.store.Download.Set(*existing)
	} else {
		item, err = s.store.Download.Enqueue(modelRepo, filePath)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, withQuantization(item))
}

// handleDownloadsCancel marks a row cancelled; the download watcher
// notices within one tick and stops the in-flight fetch (§4.3).
func (s *Server) handleDownloadsCancel(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadDownload(w, r)
	if !ok {
		return
	}
	item.Status = domain.DownloadCancelled
	updated, err := s.store.Download.Set(*item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withQuantization(updated))
}

// handleDownloadsReset removes a row entirely and returns its old value.
func (s *Server) handleDownloadsReset(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadDownload(w, r)
	if !ok {
		return
	}
	if err := s.store.Download.Remove(item.ModelRepo, item.FilePath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withQuantization(*item))
}

func (s *Server) loadDownload(w http.ResponseWriter, r *http.Request) (*domain.DownloadItem, bool) {
	modelRepo := r.URL.Query().Get("modelRepo")
	filePath := r.URL.Query().Get("filePath")
	if modelRepo == "" || filePath == "" {
		writeError(w, domain.ErrInvalidArgument)
		return nil, false
	}
	item, err := s.store.Download.Get(modelRepo, filePath)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if item == nil {
		writeError(w, domain.ErrNotFound)
		return nil, false
	}
	return item, true
}
