package domain

// ─── AppItem ─────────────────────────────────────────────────────────────
// Key/value scoped by (name, key); used to persist per-service status
// snapshots as a JSON-encoded value.

// AppItem is a (name, key) -> opaque JSON value record.
type AppItem struct {
	Isa     string `json:"isa"`
	Name    string `json:"name"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

// NewAppItem returns an AppItem for name with the default key.
func NewAppItem(name string) AppItem {
	return AppItem{Isa: "AppItem", Name: name, Key: "default", Value: "{}", Enabled: true}
}

// ─── DownloadItem ────────────────────────────────────────────────────────

// DownloadStatus enumerates the DownloadItem lifecycle (§3).
type DownloadStatus string

const (
	DownloadIdle        DownloadStatus = "idle"
	DownloadQueued      DownloadStatus = "queued"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadComplete    DownloadStatus = "complete"
	DownloadError       DownloadStatus = "error"
	DownloadCancelled   DownloadStatus = "cancelled"
	DownloadUnknown     DownloadStatus = "unknown"
)

// DownloadItem is one row per (modelRepo, filePath).
type DownloadItem struct {
	Isa             string         `json:"isa"`
	ModelRepo       string         `json:"modelRepo"`
	FilePath        string         `json:"filePath"`
	Status          DownloadStatus `json:"status"`
	TotalBytes      int64          `json:"totalBytes"`
	DownloadedBytes int64          `json:"downloadedBytes"`
	DownloadSpeed   string         `json:"downloadSpeed"`
	Progress        float64        `json:"progress"`
	Error           string         `json:"error,omitempty"`
	Metadata        string         `json:"metadata,omitempty"`
	Created         int64          `json:"created"`
	Updated         int64          `json:"updated"`
}

// NewDownloadItem returns a DownloadItem keyed by (modelRepo, filePath)
// in the idle status.
func NewDownloadItem(modelRepo, filePath string) DownloadItem {
	return DownloadItem{
		Isa:       "DownloadItem",
		ModelRepo: modelRepo,
		FilePath:  filePath,
		Status:    DownloadIdle,
		Progress:  0,
	}
}

// IsActive reports whether d occupies the download pipeline right now.
func (d DownloadItem) IsActive() bool {
	return d.Status == DownloadQueued || d.Status == DownloadDownloading
}

// ─── WingmanItem (inference) ────────────────────────────────────────────

// WingmanStatus enumerates the WingmanItem lifecycle (§3).
type WingmanStatus string

const (
	WingmanQueued     WingmanStatus = "queued"
	WingmanPreparing  WingmanStatus = "preparing"
	WingmanInferring  WingmanStatus = "inferring"
	WingmanComplete   WingmanStatus = "complete"
	WingmanError      WingmanStatus = "error"
	WingmanCancelling WingmanStatus = "cancelling"
	WingmanUnknown    WingmanStatus = "unknown"
)

// IsActive reports whether s is one of the three "occupies the single
// inference slot" statuses (§3 invariant).
func (s WingmanStatus) IsActive() bool {
	return s == WingmanQueued || s == WingmanPreparing || s == WingmanInferring
}

// WingmanItem is one row per user-chosen alias (primary key).
type WingmanItem struct {
	Isa         string        `json:"isa"`
	Alias       string        `json:"alias"`
	Status      WingmanStatus `json:"status"`
	ModelRepo   string        `json:"modelRepo"`
	FilePath    string        `json:"filePath"`
	Address     string        `json:"address"`
	Port        int           `json:"port"`
	ContextSize int           `json:"contextSize"`
	GPULayers   int           `json:"gpuLayers"`
	Force       bool          `json:"force"`
	Error       string        `json:"error,omitempty"`
	Created     int64         `json:"created"`
	Updated     int64         `json:"updated"`
}

// NewWingmanItem returns a WingmanItem with the spec defaults:
// address "localhost", port 6567, gpuLayers -1 (auto).
func NewWingmanItem(alias, modelRepo, filePath string) WingmanItem {
	return WingmanItem{
		Isa:       "WingmanItem",
		Alias:     alias,
		Status:    WingmanQueued,
		ModelRepo: modelRepo,
		FilePath:  filePath,
		Address:   "localhost",
		Port:      6567,
		GPULayers: -1,
	}
}

// IsActive reports whether w currently occupies the single inference slot.
func (w WingmanItem) IsActive() bool { return w.Status.IsActive() }

// ─── Service envelopes ──────────────────────────────────────────────────

// ServiceStatus enumerates the lifecycle of a supervising service itself
// (distinct from the status of the items it processes).
type ServiceStatus string

const (
	ServiceStarting   ServiceStatus = "starting"
	ServicePreparing  ServiceStatus = "preparing"
	ServiceReady      ServiceStatus = "ready"
	ServiceDownloading ServiceStatus = "downloading"
	ServiceInferring  ServiceStatus = "inferring"
	ServiceStopping   ServiceStatus = "stopping"
	ServiceStopped    ServiceStatus = "stopped"
	ServiceError      ServiceStatus = "error"
)

// DownloadServiceAppItem is the JSON envelope persisted under
// AppItem{Name: "DownloadService"}.
type DownloadServiceAppItem struct {
	Status          ServiceStatus  `json:"status"`
	Error           string         `json:"error,omitempty"`
	Started         int64          `json:"started"`
	Updated         int64          `json:"updated"`
	CurrentDownload *DownloadItem  `json:"currentDownload,omitempty"`
}

// WingmanServiceAppItem is the JSON envelope persisted under
// AppItem{Name: "WingmanService"}.
type WingmanServiceAppItem struct {
	Status  ServiceStatus `json:"status"`
	Error   string        `json:"error,omitempty"`
	Started int64         `json:"started"`
	Updated int64         `json:"updated"`
}

const (
	AppNameDownloadService = "DownloadService"
	AppNameWingmanService  = "WingmanService"
)
