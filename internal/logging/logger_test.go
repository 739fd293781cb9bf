// Package logging tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
)

// TestLogger_JSONOutput verifies entries are valid JSON with the
// expected fields.
func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("drain started", map[string]interface{}{"batch_size": 50})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("level = %s, want INFO", entry.Level)
	}
	if entry.Message != "drain started" {
		t.Errorf("message = %q", entry.Message)
	}
	if entry.Context["batch_size"] != float64(50) {
		t.Errorf("context = %v", entry.Context)
	}
	if entry.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

// TestLogger_LevelFiltering verifies entries below the minimum level are
// dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("dropped", nil)
	l.Info("dropped", nil)
	l.Warn("kept", nil)
	l.Error("kept", nil, nil)

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if lines != 2 {
		t.Errorf("expected 2 log lines, got %d: %s", lines, buf.String())
	}
}

// TestLogger_ErrorWithCode verifies the code and error fields.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.ErrorWithCode("persist failed", "STORAGE_WRITE_FAILED", stderrors.New("disk full"), nil)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}

	if entry.Code != "STORAGE_WRITE_FAILED" {
		t.Errorf("code = %q", entry.Code)
	}
	if entry.Error != "disk full" {
		t.Errorf("error = %q", entry.Error)
	}
}

// TestParseLevel verifies level name parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
