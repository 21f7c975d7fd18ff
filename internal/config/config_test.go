// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "chatsync.yaml", `
broker:
  url: "wss://chat.example.com/ws/websocket"
  connect_timeout: "3s"
  heartbeat_outgoing: "5s"
  heartbeat_incoming: "6s"
  reconnect_initial_delay: "200ms"
  reconnect_max_delay: "10s"
  reconnect_max_attempts: 8

api:
  base_url: "https://chat.example.com/api"
  timeout: "4s"
  max_retries: 1

unread:
  refresh_interval: "20s"
  open_grace_delay: "750ms"

ui:
  notice_ttl: "2s"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  addr: ":9100"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.URL != "wss://chat.example.com/ws/websocket" {
		t.Errorf("Broker.URL = %q", cfg.Broker.URL)
	}
	if cfg.Broker.ConnectTimeout != 3*time.Second {
		t.Errorf("Broker.ConnectTimeout = %v, want 3s", cfg.Broker.ConnectTimeout)
	}
	if cfg.Broker.HeartbeatOutgoing != 5*time.Second || cfg.Broker.HeartbeatIncoming != 6*time.Second {
		t.Errorf("heartbeats = %v/%v, want 5s/6s", cfg.Broker.HeartbeatOutgoing, cfg.Broker.HeartbeatIncoming)
	}
	if cfg.Broker.ReconnectInitialDelay != 200*time.Millisecond {
		t.Errorf("Broker.ReconnectInitialDelay = %v", cfg.Broker.ReconnectInitialDelay)
	}
	if cfg.Broker.ReconnectMaxAttempts != 8 {
		t.Errorf("Broker.ReconnectMaxAttempts = %d, want 8", cfg.Broker.ReconnectMaxAttempts)
	}
	if cfg.API.Timeout != 4*time.Second || cfg.API.MaxRetries != 1 {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.Unread.RefreshInterval != 20*time.Second || cfg.Unread.OpenGraceDelay != 750*time.Millisecond {
		t.Errorf("Unread = %+v", cfg.Unread)
	}
	if cfg.UI.NoticeTTL != 2*time.Second {
		t.Errorf("UI.NoticeTTL = %v", cfg.UI.NoticeTTL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	// Unset values keep defaults
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
	if cfg.Broker.Destinations.Messages != "/user/%s/queue/messages" {
		t.Errorf("Destinations.Messages = %q", cfg.Broker.Destinations.Messages)
	}
	if cfg.UI.MaxContent != 500 {
		t.Errorf("UI.MaxContent = %d, want 500", cfg.UI.MaxContent)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "chatsync.toml", `
[broker]
url = "tcp://127.0.0.1:61613"
connect_timeout = "1s"

[broker.destinations]
messages = "/queue/%s.messages"
status = "/queue/%s.status"
send = "/queue/outbound"

[api]
base_url = "http://127.0.0.1:8080/api"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.URL != "tcp://127.0.0.1:61613" {
		t.Errorf("Broker.URL = %q", cfg.Broker.URL)
	}
	if cfg.Broker.ConnectTimeout != time.Second {
		t.Errorf("Broker.ConnectTimeout = %v", cfg.Broker.ConnectTimeout)
	}
	if cfg.Broker.Destinations.Send != "/queue/outbound" {
		t.Errorf("Destinations.Send = %q", cfg.Broker.Destinations.Send)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Unread.RefreshInterval != 10*time.Second {
		t.Errorf("Unread.RefreshInterval = %v, want default 10s", cfg.Unread.RefreshInterval)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_API", "https://api.example.com/api")

	path := writeConfig(t, "env.yaml", `
api:
  base_url: "${CHATSYNC_TEST_API}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.com/api" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad duration",
			content: "broker:\n  connect_timeout: \"soon\"\n",
			wantErr: "broker.connect_timeout",
		},
		{
			name:    "bad broker scheme",
			content: "broker:\n  url: \"http://localhost/ws\"\n",
			wantErr: "broker.url must use",
		},
		{
			name:    "destination without placeholder",
			content: "broker:\n  destinations:\n    messages: \"/queue/all\"\n",
			wantErr: "broker.destinations.messages",
		},
		{
			name:    "bad api scheme",
			content: "api:\n  base_url: \"ftp://example.com\"\n",
			wantErr: "api.base_url must use",
		},
		{
			name:    "max delay below initial",
			content: "broker:\n  reconnect_initial_delay: \"5s\"\n  reconnect_max_delay: \"1s\"\n",
			wantErr: "reconnect delays",
		},
		{
			name:    "invalid yaml",
			content: "broker: [\n",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "bad.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}
