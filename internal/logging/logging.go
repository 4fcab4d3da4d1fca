// Package logging provides categorized logging for datanerd, backed by a
// single shared zap core. Until Initialize is called every logger is a
// no-op, which keeps tests and library embedding quiet.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one subsystem. Each category logs under its own named
// zap logger so output can be filtered per concern.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup, shutdown, wiring
	CategoryCatalog   Category = "catalog"   // catalog load, validation, reload
	CategoryPlan      Category = "plan"      // dimension resolution, query planning
	CategoryDriver    Category = "driver"    // backend connections and execution
	CategoryCache     Category = "cache"     // query cache hits, misses, eviction
	CategoryIntent    Category = "intent"    // question classification
	CategoryRetrieval Category = "retrieval" // catalog entry ranking
	CategorySynth     Category = "synth"     // plan synthesis
	CategoryInterpret Category = "interpret" // narrative and insight generation
	CategorySession   Category = "session"   // conversation state
	CategoryAnalyst   Category = "analyst"   // orchestrator pipeline
	CategoryDashboard Category = "dashboard" // artifact lifecycle
	CategoryMCP       Category = "mcp"       // tool-protocol adapter
	CategoryHTTP      Category = "http"      // REST surface
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*Logger)
)

// Logger is a categorized printf-style logger.
type Logger struct {
	s *zap.SugaredLogger
}

func (l *Logger) Debug(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.s.Errorf(format, args...) }

// Initialize builds the shared zap core. level is one of debug, info,
// warn, error. When stderrOnly is set all output goes to stderr, which the
// stdio tool transport requires to keep stdout clean.
func Initialize(level string, jsonFormat, stderrOnly bool) error {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return fmt.Errorf("logging: bad level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !jsonFormat {
		cfg.Encoding = "console"
	}
	if stderrOnly {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("logging: build: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*Logger)
	return nil
}

// Sync flushes buffered log entries. Safe to call on an uninitialized
// logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := &Logger{s: root.Named(string(cat)).Sugar()}
	loggers[cat] = l
	return l
}

// Timer logs the duration of an operation when stopped.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation for duration logging.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.cat).Debug("%s took %s", t.op, time.Since(t.start).Round(time.Microsecond))
}

// Per-category convenience functions. Info level unless the Debug variant
// is used.

func Boot(format string, args ...any)           { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...any)      { Get(CategoryBoot).Debug(format, args...) }
func Catalog(format string, args ...any)        { Get(CategoryCatalog).Info(format, args...) }
func CatalogDebug(format string, args ...any)   { Get(CategoryCatalog).Debug(format, args...) }
func Plan(format string, args ...any)           { Get(CategoryPlan).Info(format, args...) }
func PlanDebug(format string, args ...any)      { Get(CategoryPlan).Debug(format, args...) }
func Driver(format string, args ...any)         { Get(CategoryDriver).Info(format, args...) }
func DriverDebug(format string, args ...any)    { Get(CategoryDriver).Debug(format, args...) }
func CacheLog(format string, args ...any)       { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...any)     { Get(CategoryCache).Debug(format, args...) }
func Intent(format string, args ...any)         { Get(CategoryIntent).Info(format, args...) }
func IntentDebug(format string, args ...any)    { Get(CategoryIntent).Debug(format, args...) }
func Retrieval(format string, args ...any)      { Get(CategoryRetrieval).Info(format, args...) }
func RetrievalDebug(format string, args ...any) { Get(CategoryRetrieval).Debug(format, args...) }
func Synth(format string, args ...any)          { Get(CategorySynth).Info(format, args...) }
func SynthDebug(format string, args ...any)     { Get(CategorySynth).Debug(format, args...) }
func Interpret(format string, args ...any)      { Get(CategoryInterpret).Info(format, args...) }
func InterpretDebug(format string, args ...any) { Get(CategoryInterpret).Debug(format, args...) }
func Session(format string, args ...any)        { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...any)   { Get(CategorySession).Debug(format, args...) }
func Analyst(format string, args ...any)        { Get(CategoryAnalyst).Info(format, args...) }
func AnalystDebug(format string, args ...any)   { Get(CategoryAnalyst).Debug(format, args...) }
func Dashboard(format string, args ...any)      { Get(CategoryDashboard).Info(format, args...) }
func DashboardDebug(format string, args ...any) { Get(CategoryDashboard).Debug(format, args...) }
func MCP(format string, args ...any)            { Get(CategoryMCP).Info(format, args...) }
func MCPDebug(format string, args ...any)       { Get(CategoryMCP).Debug(format, args...) }
func HTTP(format string, args ...any)           { Get(CategoryHTTP).Info(format, args...) }
func HTTPDebug(format string, args ...any)      { Get(CategoryHTTP).Debug(format, args...) }
