package launcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

func writeFakeControl(t *testing.T, dir string, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake control script is POSIX shell only")
	}
	path := filepath.Join(dir, "wingman-control")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write fake control: %v", err)
	}
	return path
}

func TestRunOnceReturnsExitCode(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeControl(t, dir, "exit 3")

	l := &Launcher{opts: Options{Port: 6567}, execPath: path}
	code, err := l.runOnce(context.Background())
	if err != nil {
		t.Fatalf("runOnce() error: %v", err)
	}
	if code != exitModelLoadingClass {
		t.Errorf("exit code = %d, want %d", code, exitModelLoadingClass)
	}
}

func TestReconcileMarksActiveRowsOnPreparingOOM(t *testing.T) {
	home := t.TempDir()
	st, err := store.Open(config.DataDir(home))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer st.Close()

	envelope := domain.WingmanServiceAppItem{Status: domain.ServicePreparing, Error: "child exited"}
	value, _ := json.Marshal(envelope)
	item := domain.NewAppItem(domain.AppNameWingmanService)
	item.Value = string(value)
	if _, err := st.App.Set(item); err != nil {
		t.Fatalf("App.Set() error: %v", err)
	}

	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")
	row.Status = domain.WingmanPreparing
	if _, err := st.Wingman.Set(row); err != nil {
		t.Fatalf("Wingman.Set() error: %v", err)
	}

	l := &Launcher{opts: Options{WingmanHome: home}}
	l.reconcile()

	updated, err := st.Wingman.Get("alpha")
	if err != nil || updated == nil {
		t.Fatalf("Wingman.Get() = %v, %v", updated, err)
	}
	if updated.Status != domain.WingmanError || updated.Error != domain.MsgPreparingOOM {
		t.Errorf("row = %+v, want error/%s", updated, domain.MsgPreparingOOM)
	}
}

func TestReconcileIgnoresErrorCode1024(t *testing.T) {
	home := t.TempDir()
	st, err := store.Open(config.DataDir(home))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	defer st.Close()

	envelope := domain.WingmanServiceAppItem{Status: domain.ServiceInferring, Error: "inference child exited with code 1024: error code 1024"}
	value, _ := json.Marshal(envelope)
	item := domain.NewAppItem(domain.AppNameWingmanService)
	item.Value = string(value)
	st.App.Set(item)

	row := domain.NewWingmanItem("alpha", "org/repo", "model.gguf")
	row.Status = domain.WingmanInferring
	st.Wingman.Set(row)

	l := &Launcher{opts: Options{WingmanHome: home}}
	l.reconcile()

	updated, _ := st.Wingman.Get("alpha")
	if updated.Status != domain.WingmanInferring {
		t.Errorf("status = %q, want unchanged inferring", updated.Status)
	}
}

func TestGracefulShutdownForceKillsAfterBudget(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeControl(t, dir, "trap '' TERM; while true; do sleep 1; done")

	old := shutdownWaitBudget
	shutdownWaitBudget = 50 * time.Millisecond
	defer func() { shutdownWaitBudget = old }()

	l := &Launcher{opts: Options{Port: 65000}, execPath: path}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int, 1)
	go func() {
		code, _ := l.runOnce(ctx)
		done <- code
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runOnce did not return after force-kill")
	}
}
