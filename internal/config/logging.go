package config

import (
	"fmt"
	"slices"
)

// LoggingConfig configures logging.
//
// Outside debug mode only warnings and errors are written, whatever Level
// says. In debug mode Categories can silence individual categories; a
// category missing from the map is on.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`
	Format     string          `yaml:"format" json:"format,omitempty"`
	File       string          `yaml:"file" json:"file,omitempty"` // empty = stderr
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"`
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"`
}

// ValidLogLevels lists the accepted levels, lowest first. Empty means info.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidLogFormats lists the supported log encoders.
var ValidLogFormats = []string{"text", "json"}

// Verbose switches on debug output for every category, as --verbose and
// HOTSYNC_LOG_LEVEL=debug do.
func (c *LoggingConfig) Verbose() {
	c.Level = "debug"
	c.DebugMode = true
	c.Categories = nil
}

// IsCategoryEnabled reports whether debug and info output for category is
// written.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	enabled, ok := c.Categories[category]
	return !ok || enabled
}

func (c *LoggingConfig) validate() error {
	if c.Level != "" && !slices.Contains(ValidLogLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Level, ValidLogLevels)
	}
	if !slices.Contains(ValidLogFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Format, ValidLogFormats)
	}
	return nil
}
