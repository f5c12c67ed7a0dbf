package logging

import (
	"bytes"
	"encoding/json"
	"errors"
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
		{" INFO ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewHandlerRejectsUnknownValues(t *testing.T) {
	if _, err := NewHandler(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewHandler(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	slog.New(h).Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestAuditAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")

	a, err := OpenAudit(path, 16)
	if err != nil {
		t.Fatalf("OpenAudit: %v", err)
	}
	a.Connection("s1", "10.0.0.5", "tcp", true, "")
	a.Inbound("s1", "alice", "JOIN #general")
	a.Admin("console", "ban", "10.0.0.5", nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must append, not truncate.
	a, err = OpenAudit(path, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	a.Admin("console", "unban", "10.0.0.5", errors.New("not banned"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 audit lines, got %d: %q", len(lines), lines)
	}
	wantMsgs := []string{"connection", "inbound", "admin", "admin"}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d not JSON: %v", i, err)
		}
		if rec["msg"] != wantMsgs[i] {
			t.Errorf("line %d msg = %v, want %s", i, rec["msg"], wantMsgs[i])
		}
	}
	if a.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", a.Dropped())
	}
}

func TestAuditWriteAfterCloseIsDropped(t *testing.T) {
	var buf bytes.Buffer
	a := NewAudit(&buf, 4)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	a.Inbound("s1", "bob", "PING x")
	if a.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", a.Dropped())
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
