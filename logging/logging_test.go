package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger("TEST", &buf)

	log.Debug("debug %d", 1)
	log.Info("info %s", "line")
	log.Warn("warn")
	log.Error("error: %v", "boom")

	out := buf.String()
	for _, want := range []string{"[DBG] TEST debug 1", "[INF] TEST info line", "[WRN] TEST warn", "[ERR] TEST error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDefaultSuppressesDebug(t *testing.T) {
	l, ok := Default("X").(*stdLogger)
	if !ok {
		t.Fatalf("expected *stdLogger")
	}
	var buf bytes.Buffer
	l.out = &buf

	l.Debug("hidden")
	l.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug output should be suppressed by default")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("info output missing")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	// Must not panic.
	OrNop(nil).Info("dropped %d", 42)

	log := Default("Y")
	if OrNop(log) != log {
		t.Error("OrNop should pass through non-nil loggers")
	}
}
