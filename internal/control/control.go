// Package control wires the Store, Download Service, Inference Supervisor,
// Telemetry Bus, and Control API together into the single control-plane
// process §4.1-§4.6 describe, generalizing the teacher's daemon.go
// wire-everything-up pattern (New/Serve/Close, signal-driven graceful
// shutdown) onto this spec's four collaborators.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wingman-run/wingman/internal/api"
	"github.com/wingman-run/wingman/internal/catalog"
	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/download"
	"github.com/wingman-run/wingman/internal/inference"
	"github.com/wingman-run/wingman/internal/modelfile"
	"github.com/wingman-run/wingman/internal/store"
	"github.com/wingman-run/wingman/internal/telemetry"
)

// exitModelLoadingClass is the well-known process exit code the launcher
// treats as "clean exit, do not reconcile" (§4.7).
const exitModelLoadingClass = 3

// Control owns every long-lived collaborator of the control plane and the
// HTTP server that fronts them.
type Control struct {
	cfg         config.Config
	wingmanHome string

	store      *store.Store
	download   *download.Service
	supervisor *inference.Supervisor
	bus        *telemetry.Bus
	server     *api.Server

	cancel context.CancelFunc
}

// New opens the store and wires every collaborator, but does not yet start
// any background loop.
func New(cfg config.Config, wingmanHome string) (*Control, error) {
	dataDir := config.DataDir(wingmanHome)
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := os.MkdirAll(cfg.Models.Dir, 0o700); err != nil {
		st.Close()
		return nil, fmt.Errorf("create models dir: %w", err)
	}

	bus, err := telemetry.NewBus(st, dataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open telemetry bus: %w", err)
	}

	dl := download.New(st, cfg.Models.Dir, modelfile.Extractor{})
	sup, err := inference.New(st, cfg.Models.Dir, wingmanHome)
	if err != nil {
		bus.Close()
		st.Close()
		return nil, fmt.Errorf("construct inference supervisor: %w", err)
	}

	cat := catalog.New()
	srv := api.NewServer(st, cat, bus)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	c := &Control{
		cfg:         cfg,
		wingmanHome: wingmanHome,
		store:       st,
		download:    dl,
		supervisor:  sup,
		bus:         bus,
		server:      srv,
	}

	dl.OnProgress = func(item domain.DownloadItem) {
		bus.Enqueue("DownloadItems", []domain.DownloadItem{item})
	}
	dl.OnServiceStatus = func(envelope domain.DownloadServiceAppItem) {
		c.persistServiceStatus(domain.AppNameDownloadService, envelope)
	}
	sup.OnWingmanItems = func() {
		if items, err := st.Wingman.GetAll(); err == nil {
			bus.Enqueue("WingmanItems", items)
		}
	}
	sup.OnServiceStatus = func(envelope domain.WingmanServiceAppItem) {
		c.persistServiceStatus(domain.AppNameWingmanService, envelope)
	}

	return c, nil
}

func (c *Control) persistServiceStatus(name string, envelope interface{}) {
	value, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[control] marshal %s status: %v", name, err)
		return
	}
	item := domain.NewAppItem(name)
	item.Value = string(value)
	if _, err := c.store.App.Set(item); err != nil {
		log.Printf("[control] persist %s status: %v", name, err)
	}
}

// Serve blocks, running every background loop and the HTTP server until a
// signal arrives, ctx is cancelled, or the inference supervisor stops
// itself after a model-loading failure (§4.4, §4.7).
func (c *Control) Serve(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.bus.Shutdown = cancel

	go c.download.Run(ctx)
	go c.supervisor.Run(ctx)
	go c.bus.Run(ctx)
	go c.bus.RunMonitor(ctx, c.wingmanHome)

	addr := fmt.Sprintf("%s:%d", c.cfg.API.Host, c.cfg.API.ControlPort())
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      c.server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	go func() {
		select {
		case <-sigCh:
		case <-c.supervisor.Stopped():
			exitCode = exitModelLoadingClass
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("[control] serving on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[control] http server error: %v", err)
	}

	return exitCode
}

// Close releases every collaborator's resources.
func (c *Control) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Close()
	c.store.Close()
}
