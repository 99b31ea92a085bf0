package logutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "frame built", "slots", 3)

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("Trace-Level fehlt in %q", out)
	}
	if !strings.Contains(out, "logutil_test.go") {
		t.Errorf("kurzer Quellpfad fehlt in %q", out)
	}
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, 0)
	logger.Log(t.Context(), LevelTrace, "hidden")
	logger.Debug("hidden too")

	if buf.Len() != 0 {
		t.Errorf("erwartet keine Ausgabe, bekommen %q", buf.String())
	}
}
