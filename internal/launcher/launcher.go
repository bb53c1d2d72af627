// Package launcher implements the crash-resilient process supervisor of
// §4.7, generalizing the teacher's SubprocessBackend (spawn, capture
// stderr, detect early exit, platform-specific process configuration)
// from "manage one llama-server" into "manage the control-plane binary
// across restarts and report its exit class".
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

// exitModelLoadingClass is the well-known exit code the control plane
// returns after the inference supervisor stops itself on a model-loading
// or out-of-memory failure; the launcher must not reconcile on it (§4.7).
const exitModelLoadingClass = 3

// shutdownWaitBudget is how long the launcher waits for a graceful
// /api/shutdown to take effect before force-killing the child (§5). A
// var, not a const, so tests can shrink it rather than wait out the
// real budget.
var shutdownWaitBudget = 20 * time.Second

// Options configures the control-plane child's invocation.
type Options struct {
	WingmanHome string
	Host        string
	Port        int // inference/control port; the API listens on Port+1
	GPULayers   int
}

// Launcher owns the control-plane child process across restarts.
type Launcher struct {
	opts     Options
	execPath string
}

// New locates the wingman-control binary and returns a Launcher for opts.
func New(opts Options) (*Launcher, error) {
	path, err := findControlExecutable(opts.WingmanHome)
	if err != nil {
		return nil, err
	}
	return &Launcher{opts: opts, execPath: path}, nil
}

// findControlExecutable searches next to the launcher binary, then in
// $WINGMAN_HOME/bin, then on PATH, mirroring the teacher's
// findLlamaServer search order.
func findControlExecutable(wingmanHome string) (string, error) {
	exe := "wingman-control"
	if runtime.GOOS == "windows" {
		exe = "wingman-control.exe"
	}

	if exePath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exePath), exe)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}

	binPath := filepath.Join(wingmanHome, "bin", exe)
	if _, err := os.Stat(binPath); err == nil {
		return binPath, nil
	}

	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found next to the launcher, in %s, or on PATH", exe, binPath)
}

func (l *Launcher) controlArgs() []string {
	return []string{
		"--port", strconv.Itoa(l.opts.Port),
		"--websocket-port", strconv.Itoa(l.opts.Port + 1),
		"--gpu-layers", strconv.Itoa(l.opts.GPULayers),
	}
}

// Run loops starting and restarting the control-plane child until ctx is
// cancelled or a SIGINT/SIGTERM arrives, in which case it drives the
// graceful-shutdown sequence once and returns.
func (l *Launcher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		exitCode, err := l.runOnce(ctx)
		if err != nil {
			log.Printf("[launcher] run control plane: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if exitCode == exitModelLoadingClass {
			log.Printf("[launcher] control plane exited cleanly after a model-loading failure, restarting")
			continue
		}
		log.Printf("[launcher] control plane exited with code %d, reconciling", exitCode)
		l.reconcile()
	}
}

// runOnce starts the control-plane child and blocks until it exits or ctx
// is cancelled, in which case it drives a graceful shutdown instead of
// waiting for a natural exit.
func (l *Launcher) runOnce(ctx context.Context) (int, error) {
	cmd := exec.Command(l.execPath, l.controlArgs()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start control plane: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		return exitCodeFromWaitErr(waitErr), nil
	case <-ctx.Done():
		l.gracefulShutdown(cmd, done)
		return 0, nil
	}
}

func exitCodeFromWaitErr(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// gracefulShutdown implements §4.7/§5: GET /api/shutdown, wait up to
// shutdownWaitBudget, else force-kill.
func (l *Launcher) gracefulShutdown(cmd *exec.Cmd, done <-chan error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/api/shutdown", l.opts.Port+1)
	client := &http.Client{Timeout: 2 * time.Second}
	if resp, err := client.Get(url); err != nil {
		log.Printf("[launcher] GET /api/shutdown: %v", err)
	} else {
		resp.Body.Close()
	}

	select {
	case <-done:
	case <-time.After(shutdownWaitBudget):
		log.Printf("[launcher] control plane did not exit within %s, force-killing", shutdownWaitBudget)
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-done
	}
}

// reconcile implements §4.7's non-model-loading-class exit path: open the
// store directly, and if the control plane's last-known WingmanService
// status was preparing or inferring (and its error text doesn't already
// carry the exitModelLoadFail diagnostic), mark every active WingmanItem
// with the matching user-facing out-of-memory message.
func (l *Launcher) reconcile() {
	st, err := store.Open(config.DataDir(l.opts.WingmanHome))
	if err != nil {
		log.Printf("[launcher] reconcile: open store: %v", err)
		return
	}
	defer st.Close()

	app, err := st.App.Get(domain.AppNameWingmanService, "default")
	if err != nil {
		log.Printf("[launcher] reconcile: read WingmanService status: %v", err)
		return
	}
	if app == nil {
		return
	}

	var envelope domain.WingmanServiceAppItem
	if err := json.Unmarshal([]byte(app.Value), &envelope); err != nil {
		log.Printf("[launcher] reconcile: decode WingmanService status: %v", err)
		return
	}

	if envelope.Status != domain.ServicePreparing && envelope.Status != domain.ServiceInferring {
		return
	}
	if strings.Contains(envelope.Error, "error code 1024") {
		return
	}

	msg := domain.MsgRuntimeOOM
	if envelope.Status == domain.ServicePreparing {
		msg = domain.MsgPreparingOOM
	}

	active, err := st.Wingman.GetAllActive()
	if err != nil {
		log.Printf("[launcher] reconcile: GetAllActive: %v", err)
		return
	}
	for _, row := range active {
		row.Status = domain.WingmanError
		row.Error = msg
		if _, err := st.Wingman.Set(row); err != nil {
			log.Printf("[launcher] reconcile: mark %s error: %v", row.Alias, err)
		}
	}
}
