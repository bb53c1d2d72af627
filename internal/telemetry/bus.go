package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wingman-run/wingman/internal/config"
	"github.com/wingman-run/wingman/internal/domain"
	"github.com/wingman-run/wingman/internal/store"
)

const (
	drainInterval  = 1000 * time.Millisecond
	monitorTick    = 250 * time.Millisecond
	maxQueueDepth  = 4096
	perConnBufCap  = 128 << 20 // 128 MiB, §4.5 backpressure policy
	forceExitAfter = 15 * time.Second
)

// subscriber wraps one WebSocket connection. Writes are serialized with a
// mutex since gorilla/websocket connections do not support concurrent
// writers.
type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Bus is the fan-out telemetry publisher of §4.5: a bounded queue drained
// on a 1 Hz timer by the single owning goroutine, broadcasting to every
// connected subscriber and appending to a rolling JSON-array log file.
type Bus struct {
	store *store.Store

	queue chan []byte

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	logFile   *os.File
	logWroteAny bool

	requestedShutdown atomic.Bool
	shutdownOnce      sync.Once
	// Shutdown is invoked once, the first time a shutdown is requested
	// (kill file, requestedShutdown flag, or a client's "shutdown" text
	// message); it should cancel the context driving the rest of the
	// control plane.
	Shutdown func()
}

// NewBus opens (truncating) the rolling telemetry log at
// dataDir/logs/timing_metrics.json and returns a ready Bus.
func NewBus(st *store.Store, dataDir string) (*Bus, error) {
	logsDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0o700); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(logsDir, "timing_metrics.json"))
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString("[\n"); err != nil {
		f.Close()
		return nil, err
	}

	return &Bus{
		store:       st,
		queue:       make(chan []byte, maxQueueDepth),
		subscribers: make(map[*subscriber]struct{}),
		logFile:     f,
	}, nil
}

// Close appends the terminal "]" and closes the rolling log file.
func (b *Bus) Close() error {
	b.logFile.WriteString("\n]\n")
	return b.logFile.Close()
}

// AddSubscriber registers conn and returns the handle used to remove it.
func (b *Bus) AddSubscriber(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	BusSubscribers.Set(float64(n))
	return sub
}

// RemoveSubscriber unregisters sub and closes its connection.
func (b *Bus) RemoveSubscriber(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	n := len(b.subscribers)
	b.mu.Unlock()
	BusSubscribers.Set(float64(n))
	sub.conn.Close()
}

// Enqueue marshals {name: payload} and places it on the bounded queue.
// A full queue drops the message and logs it rather than blocking the
// producer.
func (b *Bus) Enqueue(name string, payload interface{}) {
	msg, err := json.Marshal(map[string]interface{}{name: payload})
	if err != nil {
		log.Printf("[telemetry] marshal %s: %v", name, err)
		return
	}
	select {
	case b.queue <- msg:
		BusQueueDepth.Set(float64(len(b.queue)))
	default:
		log.Printf("[telemetry] queue full, dropping %s message", name)
	}
}

// Run owns the drain timer and the subscriber set. It must be called
// from a single goroutine; HTTP handlers touch the subscriber set only
// through AddSubscriber/RemoveSubscriber, never the drain path itself.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drain()
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case msg := <-b.queue:
			b.broadcast(msg)
			b.appendLog(msg)
		default:
			BusQueueDepth.Set(float64(len(b.queue)))
			return
		}
	}
}

func (b *Bus) broadcast(msg []byte) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if len(msg) > perConnBufCap {
			continue
		}
		if err := s.send(msg); err != nil {
			BusSendFailures.Inc()
			log.Printf("[telemetry] send failed, keeping subscriber: %v", err)
			continue
		}
		BusMessagesSent.Inc()
	}
}

func (b *Bus) appendLog(msg []byte) {
	prefix := ",\n"
	if !b.logWroteAny {
		prefix = ""
		b.logWroteAny = true
	}
	if _, err := b.logFile.Write([]byte(prefix)); err != nil {
		log.Printf("[telemetry] write log: %v", err)
		return
	}
	if _, err := b.logFile.Write(msg); err != nil {
		log.Printf("[telemetry] write log: %v", err)
	}
}

// RunMonitor implements §4.5's runtime-monitor thread: a 250 ms tick
// that gathers service and item snapshots, enqueues them, and polls for
// shutdown signals (kill file, requestedShutdown flag).
func (b *Bus) RunMonitor(ctx context.Context, wingmanHome string) {
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishSnapshot()
			b.checkShutdown(wingmanHome)
		}
	}
}

func (b *Bus) publishSnapshot() {
	if wingmanSvc, err := b.store.App.Get(domain.AppNameWingmanService, "default"); err == nil && wingmanSvc != nil {
		var envelope domain.WingmanServiceAppItem
		if err := json.Unmarshal([]byte(wingmanSvc.Value), &envelope); err == nil {
			b.Enqueue("WingmanService", envelope)
		}
	}
	if downloadSvc, err := b.store.App.Get(domain.AppNameDownloadService, "default"); err == nil && downloadSvc != nil {
		var envelope domain.DownloadServiceAppItem
		if err := json.Unmarshal([]byte(downloadSvc.Value), &envelope); err == nil {
			b.Enqueue("DownloadService", envelope)
		}
	}

	if items, err := b.store.Wingman.GetAll(); err == nil {
		b.Enqueue("WingmanItems", items)

		var currentItem interface{} = map[string]interface{}{}
		for _, it := range items {
			if it.IsActive() {
				currentItem = it
				break
			}
		}
		b.Enqueue("currentWingmanInferenceItem", currentItem)
	}

	if items, err := b.store.Download.GetAll(); err == nil {
		b.Enqueue("DownloadItems", items)
	}
}

func (b *Bus) checkShutdown(wingmanHome string) {
	if b.requestedShutdown.Load() {
		b.triggerShutdown()
		return
	}
	if _, err := os.Stat(config.KillFilePath(wingmanHome)); err == nil {
		b.triggerShutdown()
	}
}

// RequestShutdown marks the shared requestedShutdown flag, honored on the
// next monitor tick. Safe to call from any goroutine (HTTP handler,
// WebSocket "shutdown" text message).
func (b *Bus) RequestShutdown() {
	b.requestedShutdown.Store(true)
}

func (b *Bus) triggerShutdown() {
	b.shutdownOnce.Do(func() {
		log.Printf("[telemetry] shutdown requested, forcing exit in %s if still alive", forceExitAfter)
		if b.Shutdown != nil {
			b.Shutdown()
		}
		time.AfterFunc(forceExitAfter, func() {
			log.Printf("[telemetry] graceful shutdown deadline exceeded, forcing exit")
			os.Exit(0)
		})
	})
}
