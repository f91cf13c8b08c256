// Package logging provides categorized structured logging for repoforge.
// Every subsystem logs through its own category so a run can be followed stage by stage.
// Loggers are backed by zap; until Initialize (or SetBase) is called every category is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategoryController Category = "controller" // Refinement loop transitions
	CategoryVerify     Category = "verify"     // Static verification
	CategoryRepair     Category = "repair"     // Quick-fixes and regeneration
	CategorySandbox    Category = "sandbox"    // Isolated execution
	CategoryOracle     Category = "oracle"     // Generation oracle and planner calls
	CategoryModernize  Category = "modernize"  // Rule-based modernization
	CategoryStore      Category = "store"      // Run history persistence
	CategoryAPI        Category = "api"        // HTTP front-end
	CategoryPackager   Category = "packager"   // Output tree and archive
)

// Options mirrors config.LoggingConfig to avoid circular imports.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional output file; stderr when empty
	Categories map[string]bool // explicit per-category switches; missing means enabled
}

// Logger is a category-scoped logger with printf-style helpers.
type Logger struct {
	category Category
	z        *zap.Logger
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	loggers    = make(map[Category]*Logger)
	categories map[string]bool
)

// Initialize builds the process-wide zap logger from options.
func Initialize(opts Options) error {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if opts.Format == "console" || opts.Format == "text" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
	}

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	base = z
	categories = opts.Categories
	loggers = make(map[Category]*Logger)
	return nil
}

// SetBase installs an already-built zap logger (the CLI and tests use this).
func SetBase(z *zap.Logger) {
	if z == nil {
		z = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	base = z
	loggers = make(map[Category]*Logger)
}

// Base returns the underlying zap logger.
func Base() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() {
	_ = Base().Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// A disabled category gets a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	z := zap.NewNop()
	if enabled {
		z = base.Named(string(category)).With(zap.String("category", string(category)))
	}
	l := &Logger{category: category, z: z, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Zap exposes the structured logger for field-based logging.
func (l *Logger) Zap() *zap.Logger { return l.z }

// With returns a structured logger carrying extra fields.
func (l *Logger) With(fields ...zap.Field) *zap.Logger { return l.z.With(fields...) }

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

func ControllerDebug(format string, args ...interface{}) {
	Get(CategoryController).Debug(format, args...)
}
func ControllerWarn(format string, args ...interface{}) {
	Get(CategoryController).Warn(format, args...)
}

func Verify(format string, args ...interface{})      { Get(CategoryVerify).Info(format, args...) }
func VerifyDebug(format string, args ...interface{}) { Get(CategoryVerify).Debug(format, args...) }

func Repair(format string, args ...interface{})      { Get(CategoryRepair).Info(format, args...) }
func RepairDebug(format string, args ...interface{}) { Get(CategoryRepair).Debug(format, args...) }
func RepairWarn(format string, args ...interface{})  { Get(CategoryRepair).Warn(format, args...) }

func Sandbox(format string, args ...interface{})      { Get(CategorySandbox).Info(format, args...) }
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }
func SandboxWarn(format string, args ...interface{})  { Get(CategorySandbox).Warn(format, args...) }
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

func Oracle(format string, args ...interface{})      { Get(CategoryOracle).Info(format, args...) }
func OracleDebug(format string, args ...interface{}) { Get(CategoryOracle).Debug(format, args...) }
func OracleWarn(format string, args ...interface{})  { Get(CategoryOracle).Warn(format, args...) }

func Modernize(format string, args ...interface{}) { Get(CategoryModernize).Debug(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

func API(format string, args ...interface{})     { Get(CategoryAPI).Info(format, args...) }
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

func Packager(format string, args ...interface{}) { Get(CategoryPackager).Info(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
