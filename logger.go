package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// ========================================
// Structured Logger
// ========================================

// Logger is the process-wide logger. Packages receive it through their
// constructors and add their own module field.
var Logger zerolog.Logger

// persistentLogger is set when file output is enabled
var persistentLogger *PersistentLogger

// LogLevel mirrors the log.level setting
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel maps a settings value to a LogLevel, defaulting to info
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogConfig controls where log output goes
type LogConfig struct {
	Level      LogLevel
	Console    bool      // human readable output
	Out        io.Writer // console destination, stderr when nil
	File       bool      // JSON lines to FilePath
	FilePath   string
	MaxSizeMB  int // rotate once the file grows past this
	MaxBackups int // rotated files to keep
}

// DefaultLogConfig returns console-only logging at info level
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      LogLevelInfo,
		Console:    true,
		File:       false,
		MaxSizeMB:  10,
		MaxBackups: 5,
	}
}

// PersistentLogConfig also writes to <configDir>/logs/adbappmgr.log
func PersistentLogConfig(configDir string) LogConfig {
	config := DefaultLogConfig()
	config.File = true
	config.FilePath = filepath.Join(configDir, "logs", "adbappmgr.log")
	return config
}

// ========================================
// PersistentLogger
// ========================================

// PersistentLogger appends to a log file and rotates it by size
type PersistentLogger struct {
	mu          sync.Mutex
	config      LogConfig
	currentFile *os.File
	currentSize int64
	logDir      string
}

// NewPersistentLogger opens (or creates) the log file
func NewPersistentLogger(config LogConfig) (*PersistentLogger, error) {
	logDir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	pl := &PersistentLogger{
		config: config,
		logDir: logDir,
	}
	if err := pl.openFile(); err != nil {
		return nil, err
	}
	return pl, nil
}

// Write implements io.Writer
func (pl *PersistentLogger) Write(p []byte) (n int, err error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.config.MaxSizeMB > 0 && pl.currentSize+int64(len(p)) > int64(pl.config.MaxSizeMB)*1024*1024 {
		if err := pl.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = pl.currentFile.Write(p)
	pl.currentSize += int64(n)
	return n, err
}

func (pl *PersistentLogger) openFile() error {
	file, err := os.OpenFile(pl.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	pl.currentFile = file
	pl.currentSize = info.Size()
	return nil
}

func (pl *PersistentLogger) rotate() error {
	if pl.currentFile != nil {
		pl.currentFile.Close()
	}

	rotatedPath := filepath.Join(pl.logDir,
		fmt.Sprintf("adbappmgr_%s.log", time.Now().Format("2006-01-02_15-04-05.000")))
	if err := os.Rename(pl.config.FilePath, rotatedPath); err != nil {
		return pl.openFile()
	}

	pl.cleanup()
	return pl.openFile()
}

// cleanup drops rotated files beyond MaxBackups, oldest first
func (pl *PersistentLogger) cleanup() {
	if pl.config.MaxBackups <= 0 {
		return
	}
	files, err := filepath.Glob(filepath.Join(pl.logDir, "adbappmgr_*.log"))
	if err != nil || len(files) <= pl.config.MaxBackups {
		return
	}

	// names embed the rotation time, so lexical order is age order
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	for _, f := range files[pl.config.MaxBackups:] {
		os.Remove(f)
	}
}

// Close closes the log file
func (pl *PersistentLogger) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.currentFile != nil {
		err := pl.currentFile.Close()
		pl.currentFile = nil
		return err
	}
	return nil
}

// ========================================
// Initialization
// ========================================

// InitLogger rebuilds Logger from config. Console output goes to stderr
// because stdout carries the MCP protocol in server mode.
func InitLogger(config LogConfig) error {
	var writers []io.Writer

	out := config.Out
	if out == nil {
		out = os.Stderr
	}

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    !isTerminal(out),
		})
	}

	if config.File && config.FilePath != "" {
		pl, err := NewPersistentLogger(config)
		if err != nil {
			return err
		}
		CloseLogger()
		persistentLogger = pl
		writers = append(writers, pl)
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    !isTerminal(out),
		})
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
	SetLogLevel(config.Level)

	return nil
}

// isTerminal reports whether colored output makes sense for w
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// SetLogLevel changes the level of every logger derived from Logger
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(level.zerolog())
}

// CloseLogger closes the log file, if any
func CloseLogger() {
	if persistentLogger != nil {
		persistentLogger.Close()
		persistentLogger = nil
	}
}

// GetLogFilePath returns the active log file, or "" when logging to console only
func GetLogFilePath() string {
	if persistentLogger != nil {
		return persistentLogger.config.FilePath
	}
	return ""
}

// ========================================
// Helpers
// ========================================

// LogDebug starts a debug event tagged with module
func LogDebug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

// LogInfo starts an info event tagged with module
func LogInfo(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

// LogWarn starts a warn event tagged with module
func LogWarn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

// LogError starts an error event tagged with module
func LogError(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}

// ========================================
// Timing
// ========================================

// OperationTimer logs how long an operation took
type OperationTimer struct {
	module    string
	operation string
	startTime time.Time
	details   map[string]interface{}
}

// StartOperation starts a timer
func StartOperation(module, operation string) *OperationTimer {
	return &OperationTimer{
		module:    module,
		operation: operation,
		startTime: time.Now(),
		details:   make(map[string]interface{}),
	}
}

// AddDetail attaches a field to the final log event
func (t *OperationTimer) AddDetail(key string, value interface{}) *OperationTimer {
	t.details[key] = value
	return t
}

// End logs completion at debug level
func (t *OperationTimer) End() {
	t.finish(Logger.Debug()).Msg("Operation completed")
}

// EndWithError logs failure at error level
func (t *OperationTimer) EndWithError(err error) {
	t.finish(Logger.Error().Err(err)).Msg("Operation failed")
}

func (t *OperationTimer) finish(event *zerolog.Event) *zerolog.Event {
	duration := time.Since(t.startTime)
	return event.
		Str("module", t.module).
		Str("category", "performance").
		Str("operation", t.operation).
		Dur("duration", duration).
		Fields(t.details)
}

func init() {
	_ = InitLogger(DefaultLogConfig())
}
