package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewZapLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewZapLogger(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewZapLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wildsync.log")
	logger, err := NewZapLogger(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("batch finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "batch finished") {
		t.Fatalf("log file missing message: %s", data)
	}
}
