package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFileAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")
	logger, err := New(Options{Service: "pharmacy-checkout", Env: "test", Level: "warn", File: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	WithTrace(logger, "", SystemSpanID).Warn("stock_low")
	logger.Info("dropped_below_level")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line at warn, got %q", raw)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if entry["msg"] != "stock_low" || entry["level"] != "warn" || entry["service"] != "pharmacy-checkout" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["trace_id"] != "unknown" || entry["span_id"] != SystemSpanID {
		t.Fatalf("trace fields = %v %v", entry["trace_id"], entry["span_id"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("want error for unknown level")
	}
}
