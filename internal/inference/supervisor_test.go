package inference

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

func writeFakeChild(t *testing.T, dir string, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake child script is POSIX shell only")
	}
	path := filepath.Join(dir, "wingman")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake child: %v", err)
	}
	return path
}

func TestStartInferenceChildCleanExit(t *testing.T) {
	dir := t.TempDir()
	writeFakeChild(t, dir, "exit 0")

	s := &Supervisor{wingman: &child{execPath: filepath.Join(dir, "wingman")}}
	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")

	if err := s.startInferenceChild(row, "/fake/model.gguf"); err != nil {
		t.Fatalf("startInferenceChild() error: %v", err)
	}
}

func TestStartInferenceChildOOMRetrySucceeds(t *testing.T) {
	dir := t.TempDir()
	counterFile := filepath.Join(dir, "count")
	os.WriteFile(counterFile, []byte("0"), 0o644)

	script := `
COUNT=$(cat "` + counterFile + `")
COUNT=$((COUNT+1))
echo $COUNT > "` + counterFile + `"
if [ "$COUNT" -lt 3 ]; then
  exit 100
fi
exit 0
`
	writeFakeChild(t, dir, script)

	s := &Supervisor{wingman: &child{execPath: filepath.Join(dir, "wingman")}}
	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")
	row.GPULayers = -1

	if err := s.startInferenceChild(row, "/fake/model.gguf"); err != nil {
		t.Fatalf("startInferenceChild() error: %v", err)
	}

	data, _ := os.ReadFile(counterFile)
	if string(data) != "3\n" {
		t.Errorf("child invoked %s times, want 3", data)
	}
}

func TestStartInferenceChildOOMExhaustsRetries(t *testing.T) {
	dir := t.TempDir()
	writeFakeChild(t, dir, "exit 100")

	s := &Supervisor{wingman: &child{execPath: filepath.Join(dir, "wingman")}}
	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")
	row.GPULayers = 2

	err := s.startInferenceChild(row, "/fake/model.gguf")
	if err != domain.ErrOutOfMemory {
		t.Fatalf("startInferenceChild() error = %v, want ErrOutOfMemory", err)
	}
}

func TestStartInferenceChildModelLoadingError(t *testing.T) {
	dir := t.TempDir()
	writeFakeChild(t, dir, "exit 1024")

	s := &Supervisor{wingman: &child{execPath: filepath.Join(dir, "wingman")}}
	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")

	err := s.startInferenceChild(row, "/fake/model.gguf")
	if _, ok := err.(*domain.ModelLoadingError); !ok {
		t.Fatalf("startInferenceChild() error = %v, want *ModelLoadingError", err)
	}
}

func TestStartInferenceChildBindFailed(t *testing.T) {
	dir := t.TempDir()
	writeFakeChild(t, dir, "exit 1")

	s := &Supervisor{wingman: &child{execPath: filepath.Join(dir, "wingman")}}
	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")

	err := s.startInferenceChild(row, "/fake/model.gguf")
	cfe, ok := err.(*domain.ChildFailedError)
	if !ok {
		t.Fatalf("startInferenceChild() error = %v, want *ChildFailedError", err)
	}
	if cfe.Code != 1 {
		t.Errorf("ChildFailedError.Code = %d, want 1", cfe.Code)
	}
}

func TestTickErrorsRowWhenModelFileMissing(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer s.Close()

	row := domain.NewWingmanItem("alpha", "org/repo", "missing.gguf")
	if _, err := s.Wingman.Set(row); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	sup := &Supervisor{store: s, modelsDir: t.TempDir(), stopped: make(chan struct{})}
	if stop := sup.tick(); stop {
		t.Fatalf("tick() returned stop=true, want false")
	}

	final, err := s.Wingman.Get("alpha")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if final.Status != domain.WingmanError {
		t.Errorf("status = %q, want error", final.Status)
	}
}
