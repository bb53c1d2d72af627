// Package telemetry publishes per-second status snapshots to WebSocket
// subscribers and exposes Prometheus metrics, generalizing the teacher's
// flat promauto gauge/counter registry into the two collaborators this
// spec needs: the Prometheus surface and the fan-out Bus (§4.5).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Downloads ──────────────────────────────────────────────────────────────

var DownloadsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "downloads_started_total",
	Help:      "Total downloads started.",
})

var DownloadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "downloads_completed_total",
	Help:      "Total downloads completed.",
})

var DownloadsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "downloads_failed_total",
	Help:      "Total downloads failed, by reason.",
}, []string{"reason"})

var DownloadBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "download_bytes_written_total",
	Help:      "Total bytes written to disk across all downloads.",
})

var DownloadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wingman",
	Name:      "download_queue_depth",
	Help:      "Number of DownloadItem rows currently queued.",
})

// ─── Inference ──────────────────────────────────────────────────────────────

var InferenceStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "inference_started_total",
	Help:      "Total inference children started.",
})

var InferenceOOMRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "inference_oom_retries_total",
	Help:      "Total gpuLayers halving retries after an out-of-GPU-memory exit.",
})

var InferenceFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "inference_failed_total",
	Help:      "Total inference child failures, by exit-code class.",
}, []string{"class"})

var InferenceActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wingman",
	Name:      "inference_active",
	Help:      "1 if a WingmanItem currently occupies the single inference slot, else 0.",
})

// ─── Telemetry bus ──────────────────────────────────────────────────────────

var BusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wingman",
	Name:      "bus_queue_depth",
	Help:      "Number of prepared messages waiting to be drained to subscribers.",
})

var BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "wingman",
	Name:      "bus_subscribers",
	Help:      "Number of currently connected WebSocket subscribers.",
})

var BusMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "bus_messages_sent_total",
	Help:      "Total telemetry messages successfully sent to a subscriber.",
})

var BusSendFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "wingman",
	Name:      "bus_send_failures_total",
	Help:      "Total telemetry send failures (logged, subscriber not evicted).",
})
