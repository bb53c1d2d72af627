// Package config loads and saves the control plane's TOML configuration,
// generalizing the teacher's daemon/config.go single-service config into
// the Download/Inference/Telemetry service triple this spec describes.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all control-plane configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Models    ModelsConfig    `toml:"models"`
	Inference InferenceConfig `toml:"inference"`
	Download  DownloadConfig  `toml:"download"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// APIConfig controls the HTTP + WebSocket control API (§4.6, §6).
// The inference child listens on Port; the control API listens on
// Port+1, per the "control port / API port" glossary entry.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ControlPort is the HTTP/WebSocket control-plane port (controlPort+1).
func (a APIConfig) ControlPort() int { return a.Port + 1 }

// ModelsConfig controls model storage.
type ModelsConfig struct {
	Dir string `toml:"dir"`
}

// InferenceConfig controls default inference child parameters.
type InferenceConfig struct {
	GPULayers   int `toml:"gpu_layers"`   // -1 = auto
	ContextSize int `toml:"context_size"` // 0 = model default
}

// DownloadConfig controls the download pipeline.
type DownloadConfig struct {
	QueueCheckInterval string `toml:"queue_check_interval"` // duration string, default "1s"
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool `toml:"prometheus"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// DefaultConfig returns the sensible defaults from §3/§6: control port
// 6567 (inference child), API on 6568, gpuLayers -1 (auto), contextSize
// 0 (model default).
func DefaultConfig() Config {
	home := WingmanHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 6567,
		},
		Models: ModelsConfig{
			Dir: filepath.Join(home, "models"),
		},
		Inference: InferenceConfig{
			GPULayers:   -1,
			ContextSize: 0,
		},
		Download: DownloadConfig{
			QueueCheckInterval: "1s",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "wingman.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus:     false,
			PrometheusPort: 9090,
		},
	}
}

// Load reads config from $WINGMAN_HOME/config.toml, falling back to
// defaults when the file does not exist.
func Load() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(WingmanHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to $WINGMAN_HOME/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(WingmanHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// WingmanHome returns the control plane's data directory: $WINGMAN_HOME
// if set, else $HOME/.wingman ($USERPROFILE%\.wingman on Windows) per §3/§6.
func WingmanHome() string {
	if env := os.Getenv("WINGMAN_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wingman")
}

// DataDir returns $WINGMAN_HOME/data.
func DataDir(home string) string { return filepath.Join(home, "data") }

// LogsDir returns $WINGMAN_HOME/data/logs.
func LogsDir(home string) string { return filepath.Join(DataDir(home), "logs") }

// KillFilePath returns $WINGMAN_HOME/wingman.die.
func KillFilePath(home string) string { return filepath.Join(home, "wingman.die") }
