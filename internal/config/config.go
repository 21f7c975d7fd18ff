// ABOUTME: Configuration loading and parsing for the chatsync client
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chatsync configuration
type Config struct {
	Broker  BrokerConfig  `yaml:"broker" toml:"broker"`
	API     APIConfig     `yaml:"api" toml:"api"`
	Unread  UnreadConfig  `yaml:"unread" toml:"unread"`
	UI      UIConfig      `yaml:"ui" toml:"ui"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// BrokerConfig holds the message broker connection settings
type BrokerConfig struct {
	URL                  string             `yaml:"url" toml:"url"`
	ReconnectMaxAttempts int                `yaml:"reconnect_max_attempts" toml:"reconnect_max_attempts"`
	Destinations         DestinationsConfig `yaml:"destinations" toml:"destinations"`

	ConnectTimeout        time.Duration `yaml:"-" toml:"-"`
	HeartbeatOutgoing     time.Duration `yaml:"-" toml:"-"`
	HeartbeatIncoming     time.Duration `yaml:"-" toml:"-"`
	ReconnectInitialDelay time.Duration `yaml:"-" toml:"-"`
	ReconnectMaxDelay     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ConnectTimeoutRaw        string `yaml:"connect_timeout" toml:"connect_timeout"`
	HeartbeatOutgoingRaw     string `yaml:"heartbeat_outgoing" toml:"heartbeat_outgoing"`
	HeartbeatIncomingRaw     string `yaml:"heartbeat_incoming" toml:"heartbeat_incoming"`
	ReconnectInitialDelayRaw string `yaml:"reconnect_initial_delay" toml:"reconnect_initial_delay"`
	ReconnectMaxDelayRaw     string `yaml:"reconnect_max_delay" toml:"reconnect_max_delay"`
}

// DestinationsConfig holds broker destination templates. %s is replaced by the user id.
type DestinationsConfig struct {
	Messages string `yaml:"messages" toml:"messages"`
	Status   string `yaml:"status" toml:"status"`
	Send     string `yaml:"send" toml:"send"`
}

// APIConfig holds the REST collaborator settings
type APIConfig struct {
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// UnreadConfig holds unread badge timing
type UnreadConfig struct {
	RefreshInterval    time.Duration `yaml:"-" toml:"-"`
	OpenGraceDelay     time.Duration `yaml:"-" toml:"-"`
	RefreshIntervalRaw string        `yaml:"refresh_interval" toml:"refresh_interval"`
	OpenGraceDelayRaw  string        `yaml:"open_grace_delay" toml:"open_grace_delay"`
}

// UIConfig holds settings for the UI-facing layer
type UIConfig struct {
	NoticeTTL    time.Duration `yaml:"-" toml:"-"`
	NoticeTTLRaw string        `yaml:"notice_ttl" toml:"notice_ttl"`
	MaxContent   int           `yaml:"max_content" toml:"max_content"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration pointing at a local chat server.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:                   "ws://localhost:8080/ws/websocket",
			ReconnectMaxAttempts:  5,
			ConnectTimeout:        10 * time.Second,
			HeartbeatOutgoing:     10 * time.Second,
			HeartbeatIncoming:     10 * time.Second,
			ReconnectInitialDelay: time.Second,
			ReconnectMaxDelay:     30 * time.Second,
			Destinations: DestinationsConfig{
				Messages: "/user/%s/queue/messages",
				Status:   "/user/%s/queue/message-status",
				Send:     "/app/sendMessage",
			},
		},
		API: APIConfig{
			BaseURL:    "http://localhost:8080/api",
			MaxRetries: 3,
			Timeout:    15 * time.Second,
		},
		Unread: UnreadConfig{
			RefreshInterval: 10 * time.Second,
			OpenGraceDelay:  time.Second,
		},
		UI: UIConfig{
			NoticeTTL:  5 * time.Second,
			MaxContent: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "tcp", "stomp", "memory":
	default:
		return fmt.Errorf("broker.url must use ws, wss, tcp, stomp or memory scheme")
	}

	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if c.Broker.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("broker.reconnect_max_attempts must not be negative")
	}
	if c.Broker.ReconnectInitialDelay <= 0 || c.Broker.ReconnectMaxDelay < c.Broker.ReconnectInitialDelay {
		return fmt.Errorf("broker reconnect delays must be positive and max >= initial")
	}

	for name, tmpl := range map[string]string{
		"messages": c.Broker.Destinations.Messages,
		"status":   c.Broker.Destinations.Status,
	} {
		if strings.Count(tmpl, "%s") != 1 {
			return fmt.Errorf("broker.destinations.%s must contain exactly one %%s", name)
		}
	}
	if c.Broker.Destinations.Send == "" {
		return fmt.Errorf("broker.destinations.send is required")
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	api, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if api.Scheme != "http" && api.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https scheme")
	}

	if c.Unread.RefreshInterval <= 0 {
		return fmt.Errorf("unread.refresh_interval must be positive")
	}
	if c.Unread.OpenGraceDelay < 0 {
		return fmt.Errorf("unread.open_grace_delay must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"broker.connect_timeout", cfg.Broker.ConnectTimeoutRaw, &cfg.Broker.ConnectTimeout},
		{"broker.heartbeat_outgoing", cfg.Broker.HeartbeatOutgoingRaw, &cfg.Broker.HeartbeatOutgoing},
		{"broker.heartbeat_incoming", cfg.Broker.HeartbeatIncomingRaw, &cfg.Broker.HeartbeatIncoming},
		{"broker.reconnect_initial_delay", cfg.Broker.ReconnectInitialDelayRaw, &cfg.Broker.ReconnectInitialDelay},
		{"broker.reconnect_max_delay", cfg.Broker.ReconnectMaxDelayRaw, &cfg.Broker.ReconnectMaxDelay},
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"unread.refresh_interval", cfg.Unread.RefreshIntervalRaw, &cfg.Unread.RefreshInterval},
		{"unread.open_grace_delay", cfg.Unread.OpenGraceDelayRaw, &cfg.Unread.OpenGraceDelay},
		{"ui.notice_ttl", cfg.UI.NoticeTTLRaw, &cfg.UI.NoticeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
