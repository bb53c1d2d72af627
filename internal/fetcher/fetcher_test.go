package fetcher

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

func TestFetchToFileCompletesAtFullSize(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(payload)
	}))
	defer srv.Close()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer s.Close()

	item, err := s.Download.Enqueue("org/repo", "model.gguf")
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "model.gguf")
	resp, err := Fetch(Request{
		URL:        srv.URL,
		OutputPath: outPath,
		Item:       item,
		Store:      s,
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.TotalBytesWritten != 4096 {
		t.Errorf("TotalBytesWritten = %d, want 4096", resp.TotalBytesWritten)
	}

	final, err := s.Download.Get("org/repo", "model.gguf")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if final.Status != domain.DownloadComplete {
		t.Errorf("final status = %q, want complete", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("final progress = %v, want 100", final.Progress)
	}

	stat, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if stat.Size() != 4096 {
		t.Errorf("file size = %d, want 4096", stat.Size())
	}
}

func TestFetchToFileCompletesWithUnknownContentLength(t *testing.T) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately no Content-Length: forces chunked transfer encoding
		// so resp.ContentLength is -1 and item.TotalBytes stays 0.
		w.Write(payload)
	}))
	defer srv.Close()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer s.Close()

	item, err := s.Download.Enqueue("org/repo", "chunked.gguf")
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "chunked.gguf")
	resp, err := Fetch(Request{
		URL:        srv.URL,
		OutputPath: outPath,
		Item:       item,
		Store:      s,
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.WasCancelled {
		t.Errorf("WasCancelled = true, want false")
	}

	final, err := s.Download.Get("org/repo", "chunked.gguf")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if final.Status != domain.DownloadComplete {
		t.Errorf("final status = %q, want complete", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("final progress = %v, want 100", final.Progress)
	}
}

func TestFetchProbeMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	resp, err := Fetch(Request{URL: srv.URL, CheckExistsThenExit: true})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !resp.FileExists {
		t.Errorf("FileExists = false, want true")
	}
}

func TestFetchProbeMode404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := Fetch(Request{URL: srv.URL, CheckExistsThenExit: true})
	if err == nil {
		t.Fatalf("Fetch() expected error on 404")
	}
}

func TestFetchCancelViaOnProgress(t *testing.T) {
	payload := make([]byte, 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		fl, _ := w.(http.Flusher)
		for i := 0; i < len(payload); i += 65536 {
			w.Write(payload[i : i+65536])
			if fl != nil {
				fl.Flush()
			}
		}
	}))
	defer srv.Close()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer s.Close()

	item, err := s.Download.Enqueue("org/repo", "big.gguf")
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "big.gguf")
	calls := 0
	_, err = Fetch(Request{
		URL:        srv.URL,
		OutputPath: outPath,
		Item:       item,
		Store:      s,
		OnProgress: func(domain.DownloadItem) bool {
			calls++
			return false
		},
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	final, err := s.Download.Get("org/repo", "big.gguf")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if final.Status != domain.DownloadCancelled {
		t.Errorf("final status = %q, want cancelled", final.Status)
	}
}
