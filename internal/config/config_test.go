package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/bottle-monitor/internal/logger"
)

func TestStreamURLDerivation(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		override string
		port     int
		path     string
		want     string
	}{
		{"plain page", "http://localhost:8000", "", 8000, "/ws", "ws://localhost:8000/ws"},
		{"secure page", "https://factory.example.com", "", 8000, "/ws", "wss://factory.example.com:8000/ws"},
		{"custom port", "http://10.0.0.5:9000", "", 8100, "ws", "ws://10.0.0.5:8100/ws"},
		{"zero port falls back", "http://host", "", 0, "", "ws://host:8000/ws"},
		{"override wins", "https://factory.example.com", "ws://edge:7000/feed", 8000, "/ws", "ws://edge:7000/feed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend.BaseURL = tc.base
			cfg.Backend.StreamURL = tc.override
			cfg.Backend.StreamPort = tc.port
			cfg.Backend.StreamPath = tc.path
			got, err := cfg.StreamURL()
			if err != nil {
				t.Fatalf("StreamURL: %v", err)
			}
			if got != tc.want {
				t.Fatalf("StreamURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStreamURLRejectsBadOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.StreamURL = "http://not-a-socket/ws"
	if _, err := cfg.StreamURL(); err == nil {
		t.Fatalf("expected error for http override")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	data := []byte(`
server:
  addr: ":9999"
  statusInterval: 5s
backend:
  baseURL: "https://inference.local"
stream:
  reconnect: true
  reconnectInterval: 500ms
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BOTTLE_MONITOR_HTTP_ADDR", ":7777")
	t.Setenv("BOTTLE_MONITOR_WS_PORT", "8100")
	t.Setenv("BOTTLE_MONITOR_STUN", "stun:a:1, stun:b:2 ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Fatalf("env override not applied: %q", cfg.Server.Addr)
	}
	if cfg.Server.StatusInterval != 5*time.Second {
		t.Fatalf("status interval = %v", cfg.Server.StatusInterval)
	}
	if !cfg.Stream.Reconnect || cfg.Stream.ReconnectInterval != 500*time.Millisecond {
		t.Fatalf("stream config = %+v", cfg.Stream)
	}
	if cfg.Logging.Level != logger.DEBUG {
		t.Fatalf("log level = %v", cfg.Logging.Level)
	}
	if cfg.Backend.StreamPort != 8100 {
		t.Fatalf("stream port = %d, want 8100", cfg.Backend.StreamPort)
	}
	if len(cfg.WebRTC.STUNServers) != 2 || cfg.WebRTC.STUNServers[1] != "stun:b:2" {
		t.Fatalf("stun servers = %v", cfg.WebRTC.STUNServers)
	}
	// Defaults survive for keys absent from the file.
	if cfg.History.MaxItems != 20 || cfg.History.StorageKey != "tfg-analysis-history" {
		t.Fatalf("history defaults lost: %+v", cfg.History)
	}

	got, err := cfg.StreamURL()
	if err != nil || got != "wss://inference.local:8100/ws" {
		t.Fatalf("StreamURL = %q, %v", got, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadEnvValues(t *testing.T) {
	cases := map[string]string{
		"BOTTLE_MONITOR_LOG_LEVEL": "chatty",
		"BOTTLE_MONITOR_WS_PORT":   "not-a-number",
		"BOTTLE_MONITOR_RECONNECT": "sometimes",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(EnvConfigPath, "")
			t.Setenv(key, value)
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("Load error = %v, want one naming %s", err, key)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.BaseURL = "ftp://nope"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid base url error")
	}

	cfg = DefaultConfig()
	cfg.History.MaxItems = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected maxItems error")
	}
}
