// Package logger is the leveled key/value logger shared by every PrintWatch
// component. Entries go to the console, to a size-rotated file, and to a
// bounded in-memory buffer that diagnostics can read back.
package logger

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is a message severity. Lower values are more severe.
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = [...]string{ERROR: "ERROR", WARN: "WARN", INFO: "INFO", DEBUG: "DEBUG", TRACE: "TRACE"}

func (lv LogLevel) String() string {
	if lv < ERROR || lv > TRACE {
		return fmt.Sprintf("LEVEL(%d)", int(lv))
	}
	return levelNames[lv]
}

// Global is the process-wide logger used by leaf packages (scanner, poller)
// that are not handed a logger explicitly. It may be nil.
var Global *Logger

// LogEntry is one buffered log record.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// Logger writes leveled messages with key/value context.
type Logger struct {
	mu       sync.RWMutex
	level    LogLevel
	console  bool
	out      io.Writer
	file     *lumberjack.Logger
	buffer   []LogEntry
	capacity int
	// throttle holds the last emission per WarnRateLimited key.
	throttle map[string]time.Time
}

// RotationPolicy bounds the on-disk log files.
type RotationPolicy struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxFiles   int
	Compress   bool
}

// DefaultRotationPolicy keeps ten 50MB files for a week.
func DefaultRotationPolicy() RotationPolicy {
	return RotationPolicy{MaxSizeMB: 50, MaxAgeDays: 7, MaxFiles: 10, Compress: true}
}

// New creates a Logger with the default rotation policy. An empty logDir
// disables file output.
func New(level LogLevel, logDir string, bufferSize int) *Logger {
	return NewWithRotation(level, logDir, bufferSize, DefaultRotationPolicy())
}

// NewWithRotation creates a Logger whose file output rotates per policy.
func NewWithRotation(level LogLevel, logDir string, bufferSize int, policy RotationPolicy) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	l := &Logger{
		level:    level,
		console:  true,
		out:      os.Stdout,
		buffer:   make([]LogEntry, 0, bufferSize),
		capacity: bufferSize,
		throttle: make(map[string]time.Time),
	}
	if logDir != "" {
		l.file = &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "printwatch.log"),
			MaxSize:    policy.MaxSizeMB,
			MaxAge:     policy.MaxAgeDays,
			MaxBackups: policy.MaxFiles,
			Compress:   policy.Compress,
		}
	}
	return l
}

// SetConsoleOutput enables or disables console output
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetOutput redirects console output (tests use a buffer).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) Error(msg string, context ...interface{}) { l.log(ERROR, msg, context) }
func (l *Logger) Warn(msg string, context ...interface{})  { l.log(WARN, msg, context) }
func (l *Logger) Info(msg string, context ...interface{})  { l.log(INFO, msg, context) }
func (l *Logger) Debug(msg string, context ...interface{}) { l.log(DEBUG, msg, context) }
func (l *Logger) Trace(msg string, context ...interface{}) { l.log(TRACE, msg, context) }

// WarnRateLimited logs a warning at most once per interval for each key,
// e.g. one "device unreachable" line per address.
func (l *Logger) WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{}) {
	now := time.Now()
	l.mu.Lock()
	if last, seen := l.throttle[key]; seen && now.Sub(last) < interval {
		l.mu.Unlock()
		return
	}
	l.throttle[key] = now
	l.mu.Unlock()

	l.log(WARN, msg, context)
}

// fields pairs up alternating key/value arguments. Non-string keys and a
// trailing unpaired value are dropped.
func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			out[key] = kv[i+1]
		}
	}
	return out
}

func (l *Logger) log(level LogLevel, msg string, kv []interface{}) {
	if level > l.GetLevel() {
		return
	}
	entry := LogEntry{Timestamp: time.Now(), Level: level, Message: msg, Context: fields(kv)}
	line := formatLogEntry(entry) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buffer) == l.capacity {
		copy(l.buffer, l.buffer[1:])
		l.buffer = l.buffer[:len(l.buffer)-1]
	}
	l.buffer = append(l.buffer, entry)

	if l.console && l.out != nil {
		io.WriteString(l.out, line)
	}
	if l.file != nil {
		// A failed write is not fatal for the caller.
		_, _ = l.file.Write([]byte(line))
	}
}

// formatLogEntry renders "time [LEVEL] message k=v ..." with keys sorted.
func formatLogEntry(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(entry.Level.String())
	b.WriteString("] ")
	b.WriteString(entry.Message)
	for _, k := range slices.Sorted(maps.Keys(entry.Context)) {
		fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
	}
	return b.String()
}

// GetBuffer returns a copy of the in-memory log buffer, oldest first.
func (l *Logger) GetBuffer() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.buffer)
}

// GetBufferFiltered returns buffered entries at minLevel or more severe.
func (l *Logger) GetBufferFiltered(minLevel LogLevel) []LogEntry {
	return slices.DeleteFunc(l.GetBuffer(), func(e LogEntry) bool { return e.Level > minLevel })
}

// Rotate forces the file sink to start a new log file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

var levelsByName = map[string]LogLevel{
	"ERROR": ERROR, "WARN": WARN, "WARNING": WARN, "INFO": INFO, "DEBUG": DEBUG, "TRACE": TRACE,
}

// LevelFromString parses a level name; unknown names mean INFO.
func LevelFromString(s string) LogLevel {
	if lv, ok := levelsByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lv
	}
	return INFO
}
