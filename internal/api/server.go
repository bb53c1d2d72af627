// Package api implements the Control API of §4.6: a go-chi HTTP router
// that translates REST calls into Store operations, plus the WebSocket
// endpoint that hosts the telemetry Bus's subscriber set on the same port,
// generalizing the teacher's OpenAI/Ollama-compatible router into this
// spec's download/inference/shutdown surface.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
	"github.com/wingman-run/wingman/internal/telemetry"
)

// startWaitBudget bounds how long /api/inference/start and
// /api/inference/stop wait for a row to reach a terminal status (§5).
const startWaitBudget = 30 * time.Second

// pollInterval is how often the wait loops above re-check Store.
const pollInterval = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server is the Control API's HTTP + WebSocket surface.
type Server struct {
	store   *store.Store
	catalog domain.Catalog
	bus     *telemetry.Bus

	startMu        sync.Mutex
	metricsEnabled bool
}

// NewServer returns a Server backed by st, serving catalog listings from
// catalog and fanning out telemetry through bus.
func NewServer(st *store.Store, catalog domain.Catalog, bus *telemetry.Bus) *Server {
	return &Server{store: st, catalog: catalog, bus: bus}
}

// EnableMetrics mounts /metrics on the next call to Handler. Opt-in,
// mirroring cfg.Telemetry.Prometheus.
func (s *Server) EnableMetrics() {
	s.metricsEnabled = true
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(startWaitBudget + 10*time.Second))
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)

		r.Get("/downloads", s.handleDownloadsList)
		r.Get("/downloads/enqueue", s.handleDownloadsEnqueue)
		r.Get("/downloads/cancel", s.handleDownloadsCancel)
		r.Get("/downloads/reset", s.handleDownloadsReset)

		r.Get("/inference", s.handleInferenceList)
		r.Get("/inference/start", s.handleInferenceStart)
		r.Get("/inference/stop", s.handleInferenceStop)
		r.Get("/inference/status", s.handleInferenceList)
		r.Get("/inference/reset", s.handleInferenceReset)

		r.Get("/shutdown", s.handleShutdown)

		r.Post("/utils/log", s.handleUtilsLog)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// The WebSocket endpoint shares this port at the catch-all path, per
	// §6; it never shares a handler table with the /api routes above.
	r.Get("/*", s.handleWebSocket)

	return r
}

// corsMiddleware applies the fixed CORS headers §6 requires on every
// JSON response.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades the connection and registers it with the
// telemetry bus, reading only long enough to notice a "shutdown" text
// message or the connection closing (§6).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := s.bus.AddSubscriber(conn)
	defer s.bus.RemoveSubscriber(sub)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "shutdown" {
			s.bus.RequestShutdown()
		}
	}
}
