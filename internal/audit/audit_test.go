package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/clawwork/livebench/internal/logger"
)

func TestJSONSink_Record(t *testing.T) {
	var buf bytes.Buffer
	sink := &jsonSink{out: &buf, log: logger.NewFromConfig("error", "text")}

	sink.Record(Event{
		Action: "simulation.start",
		Status: StatusError,
		Method: "POST",
		Path:   "/api/simulations",
		IPHash: HashIP("203.0.113.9"),
		Details: map[string]string{
			"error": "spawn failed",
		},
	})
	sink.Record(Event{Action: "auth.check", Status: StatusDenied})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not valid JSON: %v", err)
	}
	if first.Action != "simulation.start" || first.Status != StatusError {
		t.Errorf("unexpected first event: %+v", first)
	}
	if first.Timestamp.IsZero() {
		t.Error("timestamp was not stamped on record")
	}
	if time.Since(first.Timestamp) > time.Minute {
		t.Errorf("timestamp not recent: %v", first.Timestamp)
	}
}

func TestHashIP(t *testing.T) {
	h := HashIP("203.0.113.9")
	if h == "" || len(h) != 16 {
		t.Fatalf("unexpected hash %q", h)
	}
	if h == "203.0.113.9" || strings.Contains(h, ".") {
		t.Error("raw IP leaked into hash")
	}
	if HashIP("203.0.113.9") != h {
		t.Error("hash is not deterministic")
	}
	if HashIP("") != "" {
		t.Error("empty input should hash to empty string")
	}
}

func TestNew_Disabled(t *testing.T) {
	sink, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("disabled sink: %v", err)
	}
	// No-op sink accepts events without side effects.
	sink.Record(Event{Action: "noop"})
	if err := sink.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNew_UnsupportedSink(t *testing.T) {
	if _, err := New(Config{Enabled: true, Sink: "syslog"}, nil); err == nil {
		t.Error("expected error for unsupported sink")
	}
}
