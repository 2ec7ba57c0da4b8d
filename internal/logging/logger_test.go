package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFallback_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-fallback.log")

	logger, closeFn, err := NewFallback(path)
	if err != nil {
		t.Fatalf("NewFallback() error = %v", err)
	}
	logger.Error("audit write failed", "action", "job_created")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	line := strings.TrimSpace(string(data))

	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("fallback line is not JSON: %v (%s)", err, line)
	}
	if rec["action"] != "job_created" || rec["log"] != "audit_fallback" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewFallback_BadPath(t *testing.T) {
	_, _, err := NewFallback(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	if err == nil {
		t.Fatal("NewFallback() expected error for missing directory")
	}
}
