package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
	"github.com/wingman-run/wingman/internal/telemetry"
)

type fakeCatalog struct {
	files map[string][]string // modelRepo -> filePath list
}

func (c *fakeCatalog) List(ctx context.Context) ([]domain.CatalogModel, error) {
	var out []domain.CatalogModel
	for repo, files := range c.files {
		out = append(out, domain.CatalogModel{ModelRepo: repo, Files: files})
	}
	return out, nil
}

func (c *fakeCatalog) Has(ctx context.Context, modelRepo, filePath string) (bool, error) {
	for _, f := range c.files[modelRepo] {
		if f == filePath {
			return true, nil
		}
	}
	return false, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b, err := telemetry.NewBus(s, t.TempDir())
	if err != nil {
		t.Fatalf("NewBus() error: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	cat := &fakeCatalog{files: map[string][]string{
		"org/repo": {"model.gguf"},
	}}

	return NewServer(s, cat, b)
}

func TestModelsReturnsCatalogListing(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var models []domain.CatalogModel
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models) != 1 || models[0].ModelRepo != "org/repo" {
		t.Errorf("models = %+v, want one org/repo entry", models)
	}
}

func TestDownloadsEnqueueMissingParams(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/enqueue", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestDownloadsEnqueueNotInCatalog(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/enqueue?modelRepo=nope/nope&filePath=x.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDownloadsEnqueueHappyPathThenDouble(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/enqueue?modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}

	w2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w2, req)
	if w2.Code != http.StatusAlreadyReported {
		t.Errorf("status = %d, want 208 on double enqueue", w2.Code)
	}
}

func TestDownloadsEnqueueRequeuesCancelledRow(t *testing.T) {
	srv := newTestServer(t)

	cancelled := domain.NewDownloadItem("org/repo", "model.gguf")
	cancelled.Status = domain.DownloadCancelled
	cancelled.Error = ""
	if _, err := srv.store.Download.Set(cancelled); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/enqueue?modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 on re-enqueue of cancelled row, body=%s", w.Code, w.Body.String())
	}

	var view downloadItemView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != domain.DownloadQueued {
		t.Errorf("status = %q, want queued", view.Status)
	}
}

func TestDownloadsEnqueueRequeuesErrorRow(t *testing.T) {
	srv := newTestServer(t)

	errored := domain.NewDownloadItem("org/repo", "model.gguf")
	errored.Status = domain.DownloadError
	errored.Error = "network failure"
	if _, err := srv.store.Download.Set(errored); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/enqueue?modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 on re-enqueue of errored row, body=%s", w.Code, w.Body.String())
	}

	var view downloadItemView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != domain.DownloadQueued {
		t.Errorf("status = %q, want queued", view.Status)
	}
	if view.Error != "" {
		t.Errorf("error = %q, want cleared", view.Error)
	}
}

func TestDownloadsCancelUnknownRow(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/cancel?modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestInferenceStartMissingDownload(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/inference/start?alias=a&modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404, body=%s", w.Code, w.Body.String())
	}
}

func TestInferenceStartHappyPath(t *testing.T) {
	srv := newTestServer(t)

	download := domain.NewDownloadItem("org/repo", "model.gguf")
	download.Status = domain.DownloadComplete
	if _, err := srv.store.Download.Set(download); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/inference/start?alias=a&modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", w.Code, w.Body.String())
	}
	var row domain.WingmanItem
	json.NewDecoder(w.Body).Decode(&row)
	if row.Status != domain.WingmanQueued {
		t.Errorf("status = %q, want queued", row.Status)
	}
}

func TestInferenceStartTargetAlreadyActive(t *testing.T) {
	srv := newTestServer(t)

	download := domain.NewDownloadItem("org/repo", "model.gguf")
	download.Status = domain.DownloadComplete
	srv.store.Download.Set(download)

	row := domain.NewWingmanItem("a", "org/repo", "model.gguf")
	row.Status = domain.WingmanInferring
	srv.store.Wingman.Set(row)

	req := httptest.NewRequest(http.MethodGet, "/api/inference/start?alias=a&modelRepo=org/repo&filePath=model.gguf", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAlreadyReported {
		t.Errorf("status = %d, want 208, body=%s", w.Code, w.Body.String())
	}
}

func TestInferenceStopWaitsForComplete(t *testing.T) {
	srv := newTestServer(t)

	row := domain.NewWingmanItem("a", "org/repo", "model.gguf")
	row.Status = domain.WingmanInferring
	if _, err := srv.store.Wingman.Set(row); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		current, _ := srv.store.Wingman.Get("a")
		current.Status = domain.WingmanComplete
		srv.store.Wingman.Set(*current)
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/inference/stop?alias=a", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var final domain.WingmanItem
	json.NewDecoder(w.Body).Decode(&final)
	if final.Status != domain.WingmanComplete {
		t.Errorf("status = %q, want complete", final.Status)
	}
}

func TestCORSHeadersOnJSONResponse(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json; charset=utf-8", got)
	}
}

func TestUtilsLogAcceptsLine(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/utils/log", strings.NewReader(`{"level":"warn","message":"hello"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
