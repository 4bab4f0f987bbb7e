package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cubesync.log")
	log, err := NewLogger(path, "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Debugw("tick applied", "step", 3)
	_ = log.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "tick applied") || !strings.Contains(string(b), "DEBUG") {
		t.Fatalf("log file missing entry: %q", b)
	}
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	if _, err := NewLogger("", "loud"); err == nil {
		t.Fatalf("expected level error")
	}
}
