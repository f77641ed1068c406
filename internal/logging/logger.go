// Package logging provides config-driven categorized logging for hotsync.
// Every category is a named child of one zap logger. Debug and info output is
// gated by debug_mode and the per-category toggles; warnings and errors are
// always written.
package logging

import (
	"fmt"
	"os"
	"sync"

	"hotsync/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryTransport Category = "transport" // Websocket dial, read/write loops
	CategoryReconcile Category = "reconcile" // Aggregation, merge, flush
	CategorySubscribe Category = "subscribe" // Subscriber table changes
	CategoryIssues    Category = "issues"    // Build issue reports
	CategoryManifest  Category = "manifest"  // Resource manifest loading and watching
)

// Logger is a category-scoped sugared zap logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	verbose  bool // debug/info enabled for this category
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	base     *zap.Logger
	cfg      config.LoggingConfig
	closeOut func()
	configMu sync.RWMutex
)

// Initialize builds the shared zap core from cfg. Calling it again replaces
// the previous core and closes its output file.
func Initialize(c config.LoggingConfig) error {
	level := zapcore.InfoLevel
	if c.Level != "" {
		parsed, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		level = parsed
	}
	if !c.DebugMode && level < zapcore.WarnLevel {
		level = zapcore.WarnLevel
	}

	var encoder zapcore.Encoder
	switch c.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "", "text":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	var (
		sink    zapcore.WriteSyncer
		closeFn = func() {}
	)
	if c.File != "" {
		ws, cl, err := zap.Open(c.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink, closeFn = ws, cl
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	install(zap.New(zapcore.NewCore(encoder, sink, level)), c, closeFn)

	Boot("logging initialized: level=%s format=%s debug_mode=%v", level, c.Format, c.DebugMode)
	return nil
}

// InitializeWith installs an existing zap logger (for example the CLI's root
// logger or a test observer) as the shared core.
func InitializeWith(l *zap.Logger, c config.LoggingConfig) {
	install(l, c, func() {})
}

func install(l *zap.Logger, c config.LoggingConfig, closeFn func()) {
	configMu.Lock()
	prevClose := closeOut
	base = l
	cfg = c
	closeOut = closeFn
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	if prevClose != nil {
		prevClose()
	}
}

// IsCategoryEnabled returns whether debug/info output is enabled for a category
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return cfg.IsCategoryEnabled(string(category))
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger until Initialize has been called.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	configMu.RLock()
	root := base
	configMu.RUnlock()
	if root == nil {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
		verbose:  IsCategoryEnabled(category),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message if the category is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message if the category is enabled
func (l *Logger) Info(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		category: l.category,
		sugar:    l.sugar.With(keysAndValues...),
		verbose:  l.verbose,
	}
}

// CloseAll flushes buffered output and closes the log file (call at shutdown)
func CloseAll() {
	configMu.Lock()
	root := base
	closeFn := closeOut
	base = nil
	closeOut = nil
	configMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()

	if root != nil {
		_ = root.Sync()
	}
	if closeFn != nil {
		closeFn()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// SubscribeDebug logs debug to the subscribe category
func SubscribeDebug(format string, args ...interface{}) {
	Get(CategorySubscribe).Debug(format, args...)
}

// SubscribeWarn logs warning to the subscribe category
func SubscribeWarn(format string, args ...interface{}) {
	Get(CategorySubscribe).Warn(format, args...)
}

// Issues logs to the issues category
func Issues(format string, args ...interface{}) {
	Get(CategoryIssues).Info(format, args...)
}

// IssuesWarn logs warning to the issues category
func IssuesWarn(format string, args ...interface{}) {
	Get(CategoryIssues).Warn(format, args...)
}

// Manifest logs to the manifest category
func Manifest(format string, args ...interface{}) {
	Get(CategoryManifest).Info(format, args...)
}

// ManifestDebug logs debug to the manifest category
func ManifestDebug(format string, args ...interface{}) {
	Get(CategoryManifest).Debug(format, args...)
}

// ManifestWarn logs warning to the manifest category
func ManifestWarn(format string, args ...interface{}) {
	Get(CategoryManifest).Warn(format, args...)
}

// ManifestError logs error to the manifest category
func ManifestError(format string, args ...interface{}) {
	Get(CategoryManifest).Error(format, args...)
}
