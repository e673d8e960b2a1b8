// Package config holds the runtime configuration shared by the monitor
// service, the terminal dashboard and the classify CLI.
//
// Values are resolved in order: DefaultConfig, optional YAML file, BOTTLE_MONITOR_*
// environment variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
)

// EnvConfigPath names the environment variable holding the YAML config path.
const EnvConfigPath = "BOTTLE_MONITOR_CONFIG"

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Stream    StreamConfig    `yaml:"stream"`
	History   HistoryConfig   `yaml:"history"`
	Recording RecordingConfig `yaml:"recording"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP monitor listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	AssetsDir         string        `yaml:"assetsDir"`
	BuildAssetsDir    string        `yaml:"buildAssetsDir"`
	StatusInterval    time.Duration `yaml:"statusInterval"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	SnapshotLimit     int           `yaml:"snapshotLimit"`
	MaxUploadBytes    int64         `yaml:"maxUploadBytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// BackendConfig locates the external inference and stream servers.
type BackendConfig struct {
	// BaseURL is the REST base of the inference server. It also plays the role
	// of the "page" URL when deriving the stream endpoint.
	BaseURL string `yaml:"baseURL"`
	// StreamURL overrides the derived stream endpoint when set.
	StreamURL  string        `yaml:"streamURL"`
	StreamPort int           `yaml:"streamPort"`
	StreamPath string        `yaml:"streamPath"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StreamConfig tunes the live inspection stream.
type StreamConfig struct {
	AutoConnect       bool          `yaml:"autoConnect"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	Reconnect         bool          `yaml:"reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
}

// HistoryConfig controls single-shot analysis history persistence.
type HistoryConfig struct {
	Path       string `yaml:"path"`
	StorageKey string `yaml:"storageKey"`
	MaxItems   int    `yaml:"maxItems"`
	PreviewPx  int    `yaml:"previewPx"`
}

// RecordingConfig controls the JSONL event recorder.
type RecordingConfig struct {
	OutputPath string `yaml:"outputPath"`
}

// WebRTCConfig controls the data-channel fan-out.
type WebRTCConfig struct {
	STUNServers []string `yaml:"stunServers"`
	MaxClients  int      `yaml:"maxClients"`
}

// LoggingConfig controls the leveled logger.
type LoggingConfig struct {
	Level logger.LogLevel `yaml:"level"`
	Color bool            `yaml:"color"`
}

// DefaultConfig returns the stock dashboard settings.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			AssetsDir:         filepath.Clean("./web/assets"),
			BuildAssetsDir:    filepath.Clean("./build/web"),
			StatusInterval:    2 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			SnapshotLimit:     200,
			MaxUploadBytes:    16 << 20,
			ShutdownTimeout:   5 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:    "http://localhost:8000",
			StreamPort: 8000,
			StreamPath: "/ws",
			Timeout:    30 * time.Second,
		},
		Stream: StreamConfig{
			AutoConnect:       true,
			HandshakeTimeout:  10 * time.Second,
			Reconnect:         false,
			ReconnectInterval: 3 * time.Second,
		},
		History: HistoryConfig{
			Path:       "./bottle-monitor.db",
			StorageKey: "tfg-analysis-history",
			MaxItems:   20,
			PreviewPx:  160,
		},
		Recording: RecordingConfig{
			OutputPath: "./recordings",
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
		Logging: LoggingConfig{
			Level: logger.INFO,
			Color: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or $BOTTLE_MONITOR_CONFIG
// when path is empty) and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides runs before the logger exists, so every bad value is
// returned instead of logged.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	cfg.Server.Addr = getString("BOTTLE_MONITOR_HTTP_ADDR", cfg.Server.Addr)
	cfg.Backend.BaseURL = getString("BOTTLE_MONITOR_API_BASE_URL", cfg.Backend.BaseURL)
	cfg.Backend.StreamURL = getString("BOTTLE_MONITOR_WS_URL", cfg.Backend.StreamURL)
	cfg.Backend.StreamPort = getInt("BOTTLE_MONITOR_WS_PORT", cfg.Backend.StreamPort, &errs)
	cfg.Stream.AutoConnect = getBool("BOTTLE_MONITOR_AUTO_CONNECT", cfg.Stream.AutoConnect, &errs)
	cfg.Stream.Reconnect = getBool("BOTTLE_MONITOR_RECONNECT", cfg.Stream.Reconnect, &errs)
	cfg.History.Path = getString("BOTTLE_MONITOR_HISTORY_PATH", cfg.History.Path)
	cfg.Recording.OutputPath = getString("BOTTLE_MONITOR_RECORDING_PATH", cfg.Recording.OutputPath)

	if v, ok := os.LookupEnv("BOTTLE_MONITOR_LOG_LEVEL"); ok {
		if level, err := logger.ParseLevel(v); err == nil {
			cfg.Logging.Level = level
		} else {
			errs = append(errs, fmt.Errorf("BOTTLE_MONITOR_LOG_LEVEL: %w", err))
		}
	}
	if v, ok := os.LookupEnv("BOTTLE_MONITOR_STUN"); ok {
		cfg.WebRTC.STUNServers = splitList(v)
	}
	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, err := parseHTTPURL(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.baseURL: %w", err)
	}
	if _, err := c.StreamURL(); err != nil {
		return fmt.Errorf("stream url: %w", err)
	}
	if c.History.MaxItems <= 0 {
		return fmt.Errorf("history.maxItems must be positive, got %d", c.History.MaxItems)
	}
	if c.History.StorageKey == "" {
		return errors.New("history.storageKey must not be empty")
	}
	return nil
}

// StreamURL resolves the inspection stream endpoint. An explicit override wins;
// otherwise the scheme follows the backend base URL (https gives wss), the host is
// the base host, and the port and path come from StreamPort and StreamPath.
func (c *Config) StreamURL() (string, error) {
	if override := strings.TrimSpace(c.Backend.StreamURL); override != "" {
		u, err := url.Parse(override)
		if err != nil {
			return "", fmt.Errorf("invalid stream url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("stream url must use ws or wss, got %q", u.Scheme)
		}
		return u.String(), nil
	}

	base, err := parseHTTPURL(c.Backend.BaseURL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	port := c.Backend.StreamPort
	if port <= 0 {
		port = DefaultConfig().Backend.StreamPort
	}
	path := c.Backend.StreamPath
	if path == "" {
		path = DefaultConfig().Backend.StreamPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(base.Hostname(), strconv.Itoa(port)),
		Path:   path,
	}
	return u.String(), nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

func getString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid value for %s: %w", key, err))
			return fallback
		}
		return parsed
	}
	return fallback
}

func getBool(key string, fallback bool, errs *[]error) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid value for %s: %w", key, err))
			return fallback
		}
		return parsed
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
