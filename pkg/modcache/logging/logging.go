// Package logging provides component loggers for modcache, backed by
// charmbracelet/log and a rotating log file.
//
// Basic usage:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("scanner")
//	log.Info("scan started", "root", root)
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Config configures the logging system.
type Config struct {
	// Level is the default level (debug, info, warn, error).
	Level string

	// Path is the log file. Empty uses DefaultLogPath().
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components overrides the level for individual components.
	Components map[string]string

	// ConsoleLevel mirrors records at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string
}

// Logger is a component logger. It writes to the log file and, when
// configured, to stderr.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.file.Debug(msg, keyvals...)
	if l.console != nil {
		l.console.Debug(msg, keyvals...)
	}
}

// Info logs an info message.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.file.Info(msg, keyvals...)
	if l.console != nil {
		l.console.Info(msg, keyvals...)
	}
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.file.Warn(msg, keyvals...)
	if l.console != nil {
		l.console.Warn(msg, keyvals...)
	}
}

// Error logs an error.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.file.Error(msg, keyvals...)
	if l.console != nil {
		l.console.Error(msg, keyvals...)
	}
}

// With returns a logger that adds keyvals to every record.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	nl := &Logger{
		file:      l.file.With(keyvals...),
		component: l.component,
	}
	if l.console != nil {
		nl.console = l.console.With(keyvals...)
	}
	return nl
}

// Component returns the component name the logger was created for.
func (l *Logger) Component() string {
	return l.component
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      *RotatingWriter
	level       log.Level
	components  map[string]log.Level
	console     bool
	consoleLvl  log.Level
	loggers     map[string]*Logger
}

var global = &state{
	level:      log.InfoLevel,
	components: make(map[string]log.Level),
	loggers:    make(map[string]*Logger),
}

// Init configures logging. Loggers obtained before Init are rebuilt so they
// start writing to the configured destinations.
func Init(cfg Config) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]log.Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := log.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	var consoleLvl log.Level
	console := cfg.ConsoleLevel != ""
	if console {
		if consoleLvl, err = log.ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.level = level
	global.components = components
	global.console = console
	global.consoleLvl = consoleLvl
	global.initialized = true

	for name := range global.loggers {
		global.loggers[name] = newLogger(name)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	l, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return l
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.loggers[component]; ok {
		return l
	}
	l = newLogger(component)
	global.loggers[component] = l
	return l
}

// newLogger must be called with global.mu held.
func newLogger(component string) *Logger {
	level := global.level
	if lvl, ok := global.components[component]; ok {
		level = lvl
	}

	var out io.Writer = io.Discard
	if global.initialized && global.writer != nil {
		out = global.writer
	}

	l := &Logger{
		component: component,
		file: log.NewWithOptions(out, log.Options{
			Level:           level,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}

	if global.initialized && global.console {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           global.consoleLvl,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		})
	}
	return l
}

// Close flushes and closes the log file. Loggers fall back to discarding
// output until Init is called again.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.initialized {
		return nil
	}
	global.initialized = false

	var err error
	if global.writer != nil {
		err = global.writer.Close()
		global.writer = nil
	}
	for name := range global.loggers {
		global.loggers[name] = newLogger(name)
	}
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/modcache/modcache.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "modcache", "modcache.log")
}
