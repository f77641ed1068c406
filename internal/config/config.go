package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hotsync configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Update stream endpoint
	Server ServerConfig `yaml:"server"`

	// Batching of partial updates
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	// Subscribed resources
	Manifest ManifestConfig `yaml:"manifest"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the websocket connection to the dev server.
type ServerConfig struct {
	URL              string `yaml:"url"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	PingInterval     string `yaml:"ping_interval"`
	SendBuffer       int    `yaml:"send_buffer"` // queued outbound messages before Send fails
}

// ReconcilerConfig configures when aggregated updates are flushed.
type ReconcilerConfig struct {
	// Periodic flush, roughly one display frame.
	FlushInterval string `yaml:"flush_interval"`

	// Flush once the stream has been quiet this long after a partial update.
	// Empty disables quiet-period flushing.
	QuietPeriod string `yaml:"quiet_period"`
}

// ManifestConfig configures the resource manifest file.
type ManifestConfig struct {
	Path     string `yaml:"path"`
	Watch    bool   `yaml:"watch"`
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hotsync",
		Version: "0.3.0",

		Server: ServerConfig{
			URL:              "ws://localhost:3000/_hmr",
			HandshakeTimeout: "10s",
			PingInterval:     "30s",
			SendBuffer:       64,
		},

		Reconciler: ReconcilerConfig{
			FlushInterval: "16ms",
			QuietPeriod:   "50ms",
		},

		Manifest: ManifestConfig{
			Path:     "resources.yaml",
			Watch:    true,
			Debounce: "200ms",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults still honour the environment
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("HOTSYNC_URL"); u != "" {
		c.Server.URL = u
	}
	if p := os.Getenv("HOTSYNC_MANIFEST"); p != "" {
		c.Manifest.Path = p
	}
	if lvl := os.Getenv("HOTSYNC_LOG_LEVEL"); lvl != "" {
		if strings.EqualFold(lvl, "debug") {
			c.Logging.Verbose()
		} else {
			c.Logging.Level = lvl
			c.Logging.DebugMode = true
		}
	}
}

// GetHandshakeTimeout returns the websocket handshake timeout as a duration.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return parseDuration(c.Server.HandshakeTimeout, 10*time.Second)
}

// GetPingInterval returns the keepalive ping interval as a duration.
func (c *Config) GetPingInterval() time.Duration {
	return parseDuration(c.Server.PingInterval, 30*time.Second)
}

// GetFlushInterval returns the periodic flush interval as a duration.
func (c *Config) GetFlushInterval() time.Duration {
	return parseDuration(c.Reconciler.FlushInterval, 16*time.Millisecond)
}

// GetQuietPeriod returns the quiet-period flush delay. Zero means disabled.
func (c *Config) GetQuietPeriod() time.Duration {
	if c.Reconciler.QuietPeriod == "" {
		return 0
	}
	return parseDuration(c.Reconciler.QuietPeriod, 0)
}

// GetManifestDebounce returns the manifest reload debounce as a duration.
func (c *Config) GetManifestDebounce() time.Duration {
	return parseDuration(c.Manifest.Debounce, 200*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url not configured (set server.url or HOTSYNC_URL)")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.Server.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server url scheme: %s (valid: ws, wss)", u.Scheme)
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive, got %d", c.Server.SendBuffer)
	}
	if c.Manifest.Path == "" {
		return fmt.Errorf("manifest path not configured (set manifest.path or HOTSYNC_MANIFEST)")
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	return nil
}
