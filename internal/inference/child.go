// Package inference supervises the lifecycle of the single inference
// child process, generalizing the teacher's SubprocessBackend
// (llama-server process management: capture stderr, detect early exit,
// platform-specific process configuration) into the retry state machine
// and single-active invariant of §4.4.
package inference

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/wingman-run/wingman/internal/domain"
)

// Reserved exit codes from the inference child, per §4.4/§6.
const (
	exitOK            = 0
	exitBindFailed    = 1
	exitOutOfGPUMem   = 100
	exitModelLoadFail = 1024
)

// minGPULayers is the floor at or below which halving gpuLayers gives up
// and raises OutOfMemory (§4.4).
const minGPULayers = 1

// child runs one wingman inference executable invocation and reports its
// outcome through the reserved exit-code taxonomy.
type child struct {
	execPath string
}

// findExecutable locates the wingman inference binary resident next to
// the launcher, mirroring the teacher's findLlamaServer search order
// (next to the running executable, then $WINGMAN_HOME/bin, then PATH)
// without the llama.cpp-specific fallbacks
// that don't apply to this binary's fixed name.
func findExecutable(wingmanHome string) (string, error) {
	exe := "wingman"
	if runtime.GOOS == "windows" {
		exe = "wingman.exe"
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

func newChild(wingmanHome string) (*child, error) {
	path, err := findExecutable(wingmanHome)
	if err != nil {
		return nil, err
	}
	return &child{execPath: path}, nil
}

// childArgs builds the fixed argument schema for the inference child
// from row, per §4.4.
func childArgs(row domain.WingmanItem, gpuLayers int, modelPath string) []string {
	return []string{
		"--port", strconv.Itoa(row.Port),
		"--ctx-size", strconv.Itoa(row.ContextSize),
		"--n-gpu-layers", strconv.Itoa(gpuLayers),
		"--model", modelPath,
		"--alias", row.Alias,
		"--chat-template", "chatml",
		"--embedding",
	}
}

// run starts the child synchronously, blocking until it exits, and
// returns its exit code plus a limited tail of its stderr for
// diagnostics. registerShutdown, if non-nil, receives a hook that kills
// the running child; see supervisor.go for how it is invoked and
// released. onStarted, if non-nil, fires once cmd.Start() has
// succeeded, before the child has had a chance to bind its port —
// the earliest point the supervisor can truthfully call this an
// inferring attempt rather than a preparing one.
func (c *child) run(args []string, registerShutdown func(func()), onStarted func()) (exitCode int, stderrTail string, err error) {
	stderrBuf := &limitedBuffer{max: 8192}

	cmd := exec.Command(c.execPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = stderrBuf
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Errorf("start inference child: %w", err)
	}

	if onStarted != nil {
		onStarted()
	}

	if registerShutdown != nil {
		registerShutdown(func() {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		})
	}

	waitErr := cmd.Wait()
	tail := stderrBuf.String()

	if waitErr == nil {
		return exitOK, tail, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), tail, nil
	}
	return -1, tail, fmt.Errorf("wait for inference child: %w", waitErr)
}

// limitedBuffer is a thread-safe buffer retaining only its last max bytes.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
