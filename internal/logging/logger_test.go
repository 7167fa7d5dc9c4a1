package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gallery.log")

	logger, err := NewLogger(Config{Level: "info", File: logPath, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	logger.Info("gallery started")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(contents), "gallery started") {
		t.Fatalf("expected log entry in file, got %q", string(contents))
	}
}
