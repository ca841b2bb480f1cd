// Package logging provides per-component loggers.
// Each component instance gets its own log file under the configured log directory,
// and records are mirrored to the console.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes leveled records for one component instance.
// A nil *Logger is valid and discards everything.
type Logger struct {
	component  string
	instanceID string
	logFile    *os.File
	zl         zerolog.Logger
	mu         sync.Mutex
}

var (
	loggers   = make(map[string]*Logger)
	loggersMu sync.RWMutex

	logDir       string
	level        = zerolog.InfoLevel
	console      io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	settingsOnce sync.Mutex
)

// Configure sets the log directory, minimum level and console sink used by loggers created
// afterwards. An empty dir keeps the default under the user config directory.
// A nil console disables console output.
func Configure(dir, lvl string, consoleOut io.Writer) error {
	settingsOnce.Lock()
	defer settingsOnce.Unlock()

	if lvl != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(lvl))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", lvl, err)
		}
		level = parsed
	}
	logDir = dir
	if consoleOut == nil {
		console = io.Discard
	} else {
		console = zerolog.ConsoleWriter{Out: consoleOut, TimeFormat: "15:04:05.000"}
	}
	return nil
}

func resolveLogDir() (string, error) {
	settingsOnce.Lock()
	dir := logDir
	settingsOnce.Unlock()
	if dir != "" {
		return dir, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "Murmur", "logs"), nil
}

// GetLogger returns the logger for a component instance, creating it on first use.
func GetLogger(component, instanceID string) (*Logger, error) {
	key := fmt.Sprintf("%s-%s", component, instanceID)

	loggersMu.RLock()
	if logger, exists := loggers[key]; exists {
		loggersMu.RUnlock()
		return logger, nil
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[key]; exists {
		return logger, nil
	}

	dir, err := resolveLogDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath := filepath.Join(dir, key+".log")
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	settingsOnce.Lock()
	out := zerolog.MultiLevelWriter(logFile, console)
	lvl := level
	settingsOnce.Unlock()

	l := &Logger{
		component:  component,
		instanceID: instanceID,
		logFile:    logFile,
		zl: zerolog.New(out).Level(lvl).With().
			Timestamp().
			Str("component", component).
			Str("instance", instanceID).
			Logger(),
	}
	loggers[key] = l
	return l, nil
}

// MustGetLogger is GetLogger falling back to a console-only logger on error.
func MustGetLogger(component, instanceID string) *Logger {
	l, err := GetLogger(component, instanceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v, falling back to console\n", err)
		return New(component, instanceID, os.Stderr)
	}
	return l
}

// New builds an unregistered logger writing JSON records to w.
func New(component, instanceID string, w io.Writer) *Logger {
	return &Logger{
		component:  component,
		instanceID: instanceID,
		zl: zerolog.New(w).With().
			Timestamp().
			Str("component", component).
			Str("instance", instanceID).
			Logger(),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Zerolog exposes the underlying structured logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	if l == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return &l.zl
}

func (l *Logger) emit(ev func(*zerolog.Logger) *zerolog.Event, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ev(&l.zl).Msgf(strings.TrimRight(format, "\n"), args...)
}

// Logf writes an info record, kept for printf-style call sites.
func (l *Logger) Logf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit((*zerolog.Logger).Debug, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit((*zerolog.Logger).Info, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit((*zerolog.Logger).Warn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit((*zerolog.Logger).Error, format, args...)
}

// Close closes the log file and unregisters the logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	l.zl = zerolog.Nop()

	key := fmt.Sprintf("%s-%s", l.component, l.instanceID)
	loggersMu.Lock()
	if loggers[key] == l {
		delete(loggers, key)
	}
	loggersMu.Unlock()
	return err
}

// CleanupOldLogs removes log files older than the specified number of days.
func CleanupOldLogs(days int) (int, error) {
	dir, err := resolveLogDir()
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// CloseAllLoggers closes all registered loggers.
func CloseAllLoggers() {
	loggersMu.Lock()
	open := make([]*Logger, 0, len(loggers))
	for _, l := range loggers {
		open = append(open, l)
	}
	loggersMu.Unlock()

	for _, l := range open {
		_ = l.Close()
	}
}
