package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	log := NewLogger(Config{Level: LevelInfo}).WithOutput(&buf)
	log.Debugf("hidden %d", 1)
	log.Infof("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug line to be suppressed, got %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Fatalf("expected info line, got %q", out)
	}
}

func TestWithName(t *testing.T) {
	var buf bytes.Buffer

	NewLogger(Config{Level: LevelDebug}).WithOutput(&buf).WithName("gitsync").Debugf("x")

	if !strings.Contains(buf.String(), `"component":"gitsync"`) {
		t.Fatalf("expected component field, got %q", buf.String())
	}
}
