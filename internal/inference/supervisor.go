package inference

import (
	"context"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/modelfile"
	"github.com/wingman-run/wingman/internal/store"
	"github.com/wingman-run/wingman/internal/telemetry"
)

const (
	tickInterval       = 1 * time.Second
	cancelTickInterval = 333 * time.Millisecond // ~3 Hz, per §4.4
	cancelWaitBudget   = 30 * time.Second        // §5 timeouts
	autoGPULayers      = 99
)

// Supervisor owns the single running inference child and drives
// WingmanItem rows through the retry state machine of §4.4.
type Supervisor struct {
	store     *store.Store
	modelsDir string
	wingman   *child

	// OnWingmanItems is invoked whenever the set of WingmanItem rows
	// changes meaningfully enough to republish (§4.5 wires this to the
	// telemetry bus).
	OnWingmanItems func()
	// OnServiceStatus is invoked whenever the service's own status changes.
	OnServiceStatus func(domain.WingmanServiceAppItem)

	mu           sync.Mutex
	isInferring  bool
	shutdownHook func()
	started      int64

	// stopped is closed once the loop has exited due to ModelLoadingError
	// or ErrOutOfMemory, per §4.4 ("the supervisor loop stops; the
	// launcher will be told").
	stopped chan struct{}
}

// New returns a Supervisor backed by st, spawning inference children
// found relative to wingmanHome.
func New(st *store.Store, modelsDir, wingmanHome string) (*Supervisor, error) {
	c, err := newChild(wingmanHome)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		store:     st,
		modelsDir: modelsDir,
		wingman:   c,
		stopped:   make(chan struct{}),
	}, nil
}

// Stopped is closed if the supervisor loop has permanently exited.
func (s *Supervisor) Stopped() <-chan struct{} { return s.stopped }

// Run blocks, driving the inference loop until ctx is cancelled or the
// loop stops itself after a ModelLoadingError or ErrOutOfMemory.
func (s *Supervisor) Run(ctx context.Context) {
	s.publishStatus(domain.ServiceStarting, "", 0)

	if err := s.store.Wingman.Reset(); err != nil {
		log.Printf("[inference] reset at startup: %v", err)
	}
	s.publishStatus(domain.ServiceReady, "", time.Now().Unix())

	go s.cancelWatcher(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := s.tick(); stop {
				close(s.stopped)
				return
			}
		}
	}
}

// tick processes the next queued row, if any, returning true if the
// supervisor loop must stop (ModelLoadingError or ErrOutOfMemory).
func (s *Supervisor) tick() bool {
	row, err := s.store.Wingman.GetNextQueued()
	if err != nil {
		log.Printf("[inference] GetNextQueued: %v", err)
		return false
	}
	if row == nil {
		return false
	}

	download, err := s.store.Download.Get(row.ModelRepo, row.FilePath)
	if err != nil {
		log.Printf("[inference] check model file: %v", err)
		return false
	}
	if download == nil || download.Status != domain.DownloadComplete {
		row.Status = domain.WingmanError
		row.Error = domain.ModelFileMissing(row.ModelRepo, row.FilePath)
		if _, err := s.store.Wingman.Set(*row); err != nil {
			log.Printf("[inference] mark missing-model error: %v", err)
		}
		s.notifyItems()
		return false
	}

	s.publishStatus(domain.ServicePreparing, "", 0)
	row.Status = domain.WingmanPreparing
	updated, err := s.store.Wingman.Set(*row)
	if err != nil {
		log.Printf("[inference] mark preparing: %v", err)
		return false
	}
	s.notifyItems()

	modelPath := filepath.Join(s.modelsDir, modelfile.SafeName(updated.ModelRepo, updated.FilePath))

	s.setInferring(true)
	defer s.setInferring(false)

	err = s.startInferenceChild(updated, modelPath)

	if err == nil {
		final, getErr := s.store.Wingman.Get(updated.Alias)
		if getErr == nil && final != nil {
			final.Status = domain.WingmanComplete
			if _, setErr := s.store.Wingman.Set(*final); setErr != nil {
				log.Printf("[inference] mark complete: %v", setErr)
			}
		}
		s.notifyItems()
		s.publishStatus(domain.ServiceReady, "", 0)
		return false
	}

	// OutOfMemory (retries exhausted) and ModelLoadingError both stop the
	// supervisor loop per §7's error taxonomy; ChildFailedError does not —
	// the supervisor moves on to the next queued row.
	if _, ok := err.(*domain.ModelLoadingError); ok {
		updated.Status = domain.WingmanError
		updated.Error = domain.MsgPreparingOOM
		if _, setErr := s.store.Wingman.Set(updated); setErr != nil {
			log.Printf("[inference] mark model-loading error: %v", setErr)
		}
		s.notifyItems()
		s.publishStatus(domain.ServiceError, domain.MsgPreparingOOM, 0)
		return true
	}
	if err == domain.ErrOutOfMemory {
		updated.Status = domain.WingmanError
		updated.Error = err.Error()
		if _, setErr := s.store.Wingman.Set(updated); setErr != nil {
			log.Printf("[inference] mark out-of-memory error: %v", setErr)
		}
		s.notifyItems()
		s.publishStatus(domain.ServiceError, err.Error(), 0)
		return true
	}

	updated.Status = domain.WingmanError
	updated.Error = err.Error()
	if _, setErr := s.store.Wingman.Set(updated); setErr != nil {
		log.Printf("[inference] mark error: %v", setErr)
	}
	s.notifyItems()
	s.publishStatus(domain.ServiceReady, "", 0)
	return false
}

// startInferenceChild implements §4.4's retry state machine: halve
// gpuLayers on repeated out-of-GPU-memory exits until it bottoms out,
// then raise OutOfMemory.
func (s *Supervisor) startInferenceChild(row domain.WingmanItem, modelPath string) error {
	gpuLayers := row.GPULayers
	if gpuLayers < 0 {
		gpuLayers = autoGPULayers
	}

	for {
		telemetry.InferenceStarted.Inc()
		args := childArgs(row, gpuLayers, modelPath)
		exitCode, stderrTail, runErr := s.wingman.run(args, s.registerShutdownHook, func() {
			s.publishStatus(domain.ServiceInferring, "", 0)
		})
		s.releaseShutdownHook()
		if runErr != nil {
			telemetry.InferenceFailed.WithLabelValues("spawn").Inc()
			return runErr
		}

		switch exitCode {
		case exitOK:
			return nil
		case exitOutOfGPUMem:
			if gpuLayers <= minGPULayers {
				telemetry.InferenceFailed.WithLabelValues("oom").Inc()
				return domain.ErrOutOfMemory
			}
			telemetry.InferenceOOMRetries.Inc()
			gpuLayers /= 2
			continue
		case exitModelLoadFail:
			telemetry.InferenceFailed.WithLabelValues("model_load").Inc()
			return &domain.ModelLoadingError{Message: domain.MsgPreparingOOM}
		case exitBindFailed:
			telemetry.InferenceFailed.WithLabelValues("bind").Inc()
			return &domain.ChildFailedError{Code: exitBindFailed, Message: "load/bind/accept failed"}
		default:
			telemetry.InferenceFailed.WithLabelValues("other").Inc()
			msg := "inference child exited with code " + strconv.Itoa(exitCode)
			if stderrTail != "" {
				msg += ": " + stderrTail
			}
			return &domain.ChildFailedError{Code: exitCode, Message: msg}
		}
	}
}

// cancelWatcher implements §4.4's ~3 Hz poll for rows marked cancelling:
// invoke the registered shutdown hook, mark the row complete, then wait
// (bounded) for isInferring to fall to false.
func (s *Supervisor) cancelWatcher(ctx context.Context) {
	ticker := time.NewTicker(cancelTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.handleCancelling()
		}
	}
}

func (s *Supervisor) handleCancelling() {
	rows, err := s.store.Wingman.GetAllByStatus(domain.WingmanCancelling)
	if err != nil {
		log.Printf("[inference] GetAllByStatus(cancelling): %v", err)
		return
	}
	for _, row := range rows {
		s.invokeShutdownHook()

		row.Status = domain.WingmanComplete
		if _, err := s.store.Wingman.Set(row); err != nil {
			log.Printf("[inference] mark cancelled row complete: %v", err)
		}
		s.notifyItems()

		deadline := time.Now().Add(cancelWaitBudget)
		for s.getInferring() && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (s *Supervisor) registerShutdownHook(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownHook = hook
}

func (s *Supervisor) invokeShutdownHook() {
	s.mu.Lock()
	hook := s.shutdownHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// releaseShutdownHook clears the hook after each run so a stale callback
// never fires against a new child (§4.4).
func (s *Supervisor) releaseShutdownHook() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownHook = nil
}

func (s *Supervisor) setInferring(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isInferring = v
	if v {
		telemetry.InferenceActive.Set(1)
	} else {
		telemetry.InferenceActive.Set(0)
	}
}

func (s *Supervisor) getInferring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInferring
}

func (s *Supervisor) notifyItems() {
	if s.OnWingmanItems != nil {
		s.OnWingmanItems()
	}
}

func (s *Supervisor) publishStatus(status domain.ServiceStatus, errMsg string, started int64) {
	if started != 0 {
		s.mu.Lock()
		s.started = started
		s.mu.Unlock()
	}

	s.mu.Lock()
	envelope := domain.WingmanServiceAppItem{
		Status:  status,
		Error:   errMsg,
		Started: s.started,
		Updated: time.Now().Unix(),
	}
	s.mu.Unlock()

	if s.OnServiceStatus != nil {
		s.OnServiceStatus(envelope)
	}
}
