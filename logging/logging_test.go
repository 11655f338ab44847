package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesJSONFiles(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Options{Environment: "development", Level: "info", Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	logger.Error("broken")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "dashboard.log"))
	if err != nil {
		t.Fatalf("read dashboard.log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected init, info and error lines, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("dashboard.log is not JSON: %v", err)
	}
	if entry["msg"] != "broken" {
		t.Errorf("unexpected last entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}

	errData, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	if err != nil {
		t.Fatalf("read errors.log: %v", err)
	}
	if strings.Contains(string(errData), "hello") {
		t.Error("errors.log should not contain info entries")
	}
	if !strings.Contains(string(errData), "broken") {
		t.Error("errors.log should contain error entries")
	}
}

func TestNewSecurity(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewSecurity(Options{Dir: dir})
	if err != nil {
		t.Fatalf("NewSecurity: %v", err)
	}
	logger.Warn("AUDIT FAILURE")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "security_audit.log"))
	if err != nil {
		t.Fatalf("read security_audit.log: %v", err)
	}
	if !strings.Contains(string(data), `"logger":"security"`) {
		t.Errorf("expected named security logger, got %s", data)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("security_audit.log is not JSON: %v", err)
	}
	if _, ok := entry["timestamp"]; ok {
		t.Error("audit records supply their own timestamp")
	}
}
