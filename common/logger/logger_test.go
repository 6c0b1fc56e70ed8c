package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	logger := New(INFO, t.TempDir(), 100)
	logger.SetConsoleOutput(false)
	defer logger.Close()

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message")
	logger.Trace("trace message")

	buffer := logger.GetBuffer()
	if len(buffer) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(buffer))
	}
	if buffer[0].Level != ERROR || buffer[0].Message != "error message" {
		t.Errorf("first entry should be ERROR, got %v", buffer[0])
	}
	if buffer[2].Level != INFO || buffer[2].Message != "info message" {
		t.Errorf("third entry should be INFO, got %v", buffer[2])
	}
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	logger := New(INFO, "", 100)
	var out bytes.Buffer
	logger.SetOutput(&out)

	logger.Info("device polled", "ip", "10.0.0.5", "pages", 42)

	buffer := logger.GetBuffer()
	if len(buffer) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(buffer))
	}
	if buffer[0].Context["ip"] != "10.0.0.5" {
		t.Errorf("expected context ip=10.0.0.5, got %v", buffer[0].Context["ip"])
	}
	if !strings.Contains(out.String(), "device polled ip=10.0.0.5 pages=42") {
		t.Errorf("unexpected console line: %q", out.String())
	}
}

func TestLoggerBufferIsBounded(t *testing.T) {
	t.Parallel()

	logger := New(INFO, "", 3)
	logger.SetConsoleOutput(false)
	for i := 0; i < 5; i++ {
		logger.Info("entry", "i", i)
	}

	buffer := logger.GetBuffer()
	if len(buffer) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(buffer))
	}
	if buffer[0].Context["i"] != 2 {
		t.Errorf("expected oldest retained entry i=2, got %v", buffer[0].Context["i"])
	}
}

func TestWarnRateLimited(t *testing.T) {
	t.Parallel()

	logger := New(INFO, "", 100)
	logger.SetConsoleOutput(false)

	for i := 0; i < 5; i++ {
		logger.WarnRateLimited("offline_10.0.0.1", time.Hour, "device unreachable")
	}
	logger.WarnRateLimited("offline_10.0.0.2", time.Hour, "device unreachable")

	if got := len(logger.GetBufferFiltered(WARN)); got != 2 {
		t.Errorf("expected 2 warnings after rate limiting, got %d", got)
	}
}

func TestLoggerWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := New(DEBUG, dir, 10)
	logger.SetConsoleOutput(false)
	logger.Debug("written to disk")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "printwatch.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG] written to disk") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := map[string]LogLevel{
		"ERROR":   ERROR,
		"warn":    WARN,
		"warning": WARN,
		" info ":  INFO,
		"DEBUG":   DEBUG,
		"trace":   TRACE,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
