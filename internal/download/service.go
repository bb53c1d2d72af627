// Package download implements the single-queue worker that drives
// DownloadItem rows through the HTTP fetcher, generalizing the teacher's
// daemon worker-loop shape (start/tick/publish status) into the
// download-specific pipeline of §4.3.
package download

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/fetcher"
	"github.com/wingman-run/wingman/internal/modelfile"
	"github.com/wingman-run/wingman/internal/store"
	"github.com/wingman-run/wingman/internal/telemetry"
)

const tickInterval = 1 * time.Second

// Service drives downloads.queued rows to completion one at a time.
type Service struct {
	store     *store.Store
	modelsDir string
	metadata  domain.MetadataExtractor

	// OnProgress is invoked on every committed progress update (§4.5
	// wires this to the telemetry bus).
	OnProgress func(domain.DownloadItem)
	// OnServiceStatus is invoked whenever the service's own status changes.
	OnServiceStatus func(domain.DownloadServiceAppItem)

	mu      sync.Mutex
	current string // "modelRepo\x00filePath" of the row being fetched, if any
	started int64

	keepDownloading atomic.Bool
}

// New returns a Service rooted at modelsDir, using metadata as its
// external collaborator for post-download enrichment. Catalog lookups
// for enqueue validation live in the Control API, not here.
func New(st *store.Store, modelsDir string, metadata domain.MetadataExtractor) *Service {
	return &Service{
		store:     st,
		modelsDir: modelsDir,
		metadata:  metadata,
	}
}

// Run blocks, driving the download loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.publishStatus(domain.ServiceStarting, "", 0, nil)

	if err := s.orphanCleanup(); err != nil {
		log.Printf("[download] orphan cleanup at startup: %v", err)
	}
	if err := s.store.Download.Reset(); err != nil {
		log.Printf("[download] reset at startup: %v", err)
	}

	s.publishStatus(domain.ServiceReady, "", time.Now().Unix(), nil)

	go s.cancelWatcher(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.orphanCleanup(); err != nil {
				log.Printf("[download] orphan cleanup: %v", err)
			}
			if queued, err := s.store.Download.GetAllByStatus(domain.DownloadQueued); err == nil {
				telemetry.DownloadQueueDepth.Set(float64(len(queued)))
			}
			s.tick()
		}
	}
}

func (s *Service) tick() {
	item, err := s.store.Download.GetNextQueued()
	if err != nil {
		log.Printf("[download] GetNextQueued: %v", err)
		return
	}
	if item == nil {
		return
	}

	s.setCurrent(item.ModelRepo, item.FilePath)
	s.keepDownloading.Store(true)
	defer s.setCurrent("", "")

	item.Status = domain.DownloadDownloading
	updated, err := s.store.Download.Set(*item)
	if err != nil {
		log.Printf("[download] mark downloading: %v", err)
		return
	}
	s.publishStatus(domain.ServicePreparing, "", 0, &updated)
	if s.OnProgress != nil {
		s.OnProgress(updated)
	}
	telemetry.DownloadsStarted.Inc()

	url := ResolvedURL(updated.ModelRepo, updated.FilePath)
	outPath := filepath.Join(s.modelsDir, modelfile.SafeName(updated.ModelRepo, updated.FilePath))

	resp, err := fetcher.Fetch(fetcher.Request{
		URL:        url,
		OutputPath: outPath,
		Item:       updated,
		Store:      s.store,
		OnProgress: func(it domain.DownloadItem) bool {
			if s.OnProgress != nil {
				s.OnProgress(it)
			}
			return s.keepDownloading.Load()
		},
	})
	if err != nil {
		updated.Status = domain.DownloadError
		updated.Error = err.Error()
		if _, setErr := s.store.Download.Set(updated); setErr != nil {
			log.Printf("[download] mark error: %v", setErr)
		}
		telemetry.DownloadsFailed.WithLabelValues("fetch").Inc()
		s.publishStatus(domain.ServiceError, err.Error(), 0, nil)
		return
	}
	telemetry.DownloadBytesWritten.Add(float64(resp.TotalBytesWritten))

	if resp.WasCancelled {
		telemetry.DownloadsFailed.WithLabelValues("cancelled").Inc()
		s.publishStatus(domain.ServiceReady, "", 0, nil)
		return
	}
	telemetry.DownloadsCompleted.Inc()

	if s.metadata != nil {
		if meta, err := s.metadata.Extract(outPath); err == nil {
			final, err := s.store.Download.Get(updated.ModelRepo, updated.FilePath)
			if err == nil && final != nil {
				final.Metadata = meta
				if _, err := s.store.Download.Set(*final); err != nil {
					log.Printf("[download] persist metadata: %v", err)
				}
			}
		} else {
			log.Printf("[download] metadata extraction for %s: %v", outPath, err)
		}
	}

	s.publishStatus(domain.ServiceReady, "", 0, nil)
}

// cancelWatcher polls the currently-downloading row at the same tick
// rate as the main loop and flips keepDownloading to false once it
// observes the row's status as cancelled (§4.3). The fetcher's
// onProgress callback reads that flag on its own, unrelated cadence.
func (s *Service) cancelWatcher(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			modelRepo, filePath := s.getCurrent()
			if modelRepo == "" {
				continue
			}
			item, err := s.store.Download.Get(modelRepo, filePath)
			if err != nil || item == nil {
				continue
			}
			if item.Status == domain.DownloadCancelled {
				s.keepDownloading.Store(false)
			}
		}
	}
}

func (s *Service) setCurrent(modelRepo, filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = modelRepo + "\x00" + filePath
}

func (s *Service) getCurrent() (modelRepo, filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(s.current); i++ {
		if s.current[i] == 0 {
			return s.current[:i], s.current[i+1:]
		}
	}
	return "", ""
}

// publishStatus builds and emits the service's own status envelope.
// current is the DownloadItem being acted on, non-nil only while
// preparing a fetch (§4.3 step 3: "publish status: preparing with
// currentDownload").
func (s *Service) publishStatus(status domain.ServiceStatus, errMsg string, started int64, current *domain.DownloadItem) {
	if started != 0 {
		s.mu.Lock()
		s.started = started
		s.mu.Unlock()
	}

	s.mu.Lock()
	envelope := domain.DownloadServiceAppItem{
		Status:          status,
		Error:           errMsg,
		Started:         s.started,
		Updated:         time.Now().Unix(),
		CurrentDownload: current,
	}
	s.mu.Unlock()

	if s.OnServiceStatus != nil {
		s.OnServiceStatus(envelope)
	}
}

// orphanCleanup implements §4.3's two-directional sweep: rows whose
// backing file vanished are removed, and files with no backing row are
// deleted.
func (s *Service) orphanCleanup() error {
	complete, err := s.store.Download.GetAllByStatus(domain.DownloadComplete)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(complete))
	for _, item := range complete {
		name := modelfile.SafeName(item.ModelRepo, item.FilePath)
		known[name] = true
		if _, err := os.Stat(filepath.Join(s.modelsDir, name)); os.IsNotExist(err) {
			if err := s.store.Download.Remove(item.ModelRepo, item.FilePath); err != nil {
				log.Printf("[download] remove orphaned row %s: %v", name, err)
			}
		}
	}

	entries, err := os.ReadDir(s.modelsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	all, err := s.store.Download.GetAll()
	if err != nil {
		return err
	}
	rowNames := make(map[string]bool, len(all))
	for _, item := range all {
		rowNames[modelfile.SafeName(item.ModelRepo, item.FilePath)] = true
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == modelfile.DefaultPlaceholder {
			continue
		}
		if !rowNames[entry.Name()] {
			if err := os.Remove(filepath.Join(s.modelsDir, entry.Name())); err != nil {
				log.Printf("[download] remove orphaned file %s: %v", entry.Name(), err)
			}
		}
	}

	return nil
}

// ResolvedURL returns the Hugging Face direct-download URL for
// (modelRepo, filePath), the only external dependency of the download
// path (§4.3).
func ResolvedURL(modelRepo, filePath string) string {
	return "https://huggingface.co/" + modelRepo + "/resolve/main/" + filePath
}
