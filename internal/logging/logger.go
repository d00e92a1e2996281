// Package logging provides config-driven categorized file logging for the
// synapse engine. Logs are written to <workspace>/.synapse/logs/ with one
// file per category. When debug mode is off the package is a silent no-op
// so production runs pay nothing for call sites left in place.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and wiring
	CategoryStore        Category = "store"        // SQLite store operations
	CategoryEmbedding    Category = "embedding"    // Embedding engine
	CategoryGeneration   Category = "generation"   // LLM generation calls
	CategoryRouter       Category = "router"       // Domain scoring and feedback
	CategoryGraph        Category = "graph"        // Graph build and traversal
	CategoryOrchestrator Category = "orchestrator" // Synthesis state machine
	CategoryDistill      Category = "distill"      // Core logic distillation
	CategorySession      Category = "session"      // Session bookkeeping
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Settings controls whether and what the package writes. Zero value is
// fully disabled.
type Settings struct {
	DebugMode  bool
	Level      string          // "debug", "info", "warn", "error"
	Categories map[string]bool // nil means all categories enabled
}

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	setMu     sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory with the given settings.
// Should be called once at startup with the workspace path.
func Initialize(workspace string, s Settings) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	setMu.Lock()
	settings = s
	logLevel = parseLevel(s.Level)
	setMu.Unlock()

	if !s.DebugMode {
		return nil
	}

	logsDir = filepath.Join(workspace, ".synapse", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== synapse logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Level: %s", s.Level)
	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func enabled(cat Category) bool {
	setMu.RLock()
	defer setMu.RUnlock()
	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	on, listed := settings.Categories[string(cat)]
	return !listed || on
}

// Get returns the logger for a category, creating its file on first use.
func Get(cat Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[cat]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok = loggers[cat]; ok {
		return l
	}

	l = &Logger{category: cat}
	if enabled(cat) && logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			l.file = f
			l.logger = log.New(f, "", 0)
		}
	}
	loggers[cat] = l
	return l
}

// Close flushes and closes all category files. Safe to call more than once.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
			l.file = nil
			l.logger = nil
		}
	}
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || !enabled(l.category) {
		return
	}
	setMu.RLock()
	min := logLevel
	setMu.RUnlock()
	if level < min {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [%s] %s", ts, tag, fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// =============================================================================
// OPERATION TIMERS
// =============================================================================

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation within a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time. Operations slower than a second log at warn.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %v", t.op, elapsed)
		return
	}
	l.Debug("%s took %v", t.op, elapsed)
}

// =============================================================================
// CATEGORY SHORTHANDS
// =============================================================================

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// RouterDebug logs a debug message to the router category.
func RouterDebug(format string, args ...interface{}) {
	Get(CategoryRouter).Debug(format, args...)
}

// GraphDebug logs a debug message to the graph category.
func GraphDebug(format string, args ...interface{}) {
	Get(CategoryGraph).Debug(format, args...)
}

// Orchestrator logs an info message to the orchestrator category.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs a debug message to the orchestrator category.
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// Embedding logs an info message to the embedding category.
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

// Generation logs an info message to the generation category.
func Generation(format string, args ...interface{}) {
	Get(CategoryGeneration).Info(format, args...)
}

// Distill logs an info message to the distill category.
func Distill(format string, args ...interface{}) {
	Get(CategoryDistill).Info(format, args...)
}
