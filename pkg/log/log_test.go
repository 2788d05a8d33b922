package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("publish")
	logger.Info().Str("version", "0.1.0").Msg("Crate published")

	logger = WithCrate("serde")
	logger.Warn().Msg("Compensating delete failed")

	logger = WithRequestID("req-1")
	logger.Error().Msg("Failed to reach object store")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %q", len(lines), buf.String())
	}

	for i, want := range []map[string]string{
		{"component": "publish", "version": "0.1.0", "level": "info"},
		{"crate": "serde", "level": "warn"},
		{"request_id": "req-1", "level": "error"},
	} {
		var fields map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &fields); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		for k, v := range want {
			if fields[k] != v {
				t.Errorf("line %d: field %q = %v, want %q", i, k, fields[k], v)
			}
		}
		if _, ok := fields["time"]; !ok {
			t.Errorf("line %d: missing timestamp", i)
		}
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: ErrorLevel, JSONOutput: true, Output: &buf})

	Info("suppressed")
	Warn("suppressed")
	Error("surfaced")

	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("expected only the error line, got %d lines: %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "surfaced") {
		t.Fatalf("error line missing: %q", buf.String())
	}
}

func TestInitUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "verbose", JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("suppressed")
	Info("surfaced")

	if strings.Contains(buf.String(), "suppressed") {
		t.Fatalf("debug line should be filtered at info level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "surfaced") {
		t.Fatalf("info line missing: %q", buf.String())
	}
}
