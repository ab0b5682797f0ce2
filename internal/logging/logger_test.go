package logging

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Options{App: "test", Dir: dir, Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Section("data")
	l.Info().Str("source", "synthetic").Msg("opened")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(console.String(), "opened") {
		t.Fatalf("console output missing message: %q", console.String())
	}
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, `"section":"data"`) || !strings.Contains(text, `"app":"test"`) {
		t.Fatalf("log file missing fields: %s", text)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Level: "warn", Console: &console})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("info message leaked at warn level: %q", console.String())
	}
	if !strings.Contains(console.String(), "shown") {
		t.Fatalf("warn message missing: %q", console.String())
	}
	if l.Path() != "" {
		t.Fatalf("expected no file, got %s", l.Path())
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := New(Options{Level: "loud", Console: io.Discard}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
