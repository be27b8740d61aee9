package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{" error ", zerolog.ErrorLevel, false},
		{"verbose", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewZerolog_UnknownFormat(t *testing.T) {
	if _, err := NewZerolog(Options{Format: "xml"}); err == nil {
		t.Fatal("NewZerolog() expected error for unknown format")
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestZerologAdapter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZerolog(Options{Output: &buf, Format: FormatJSON, Level: "debug"})
	if err != nil {
		t.Fatalf("NewZerolog() error = %v", err)
	}

	logger.Info("state transition",
		String("from", "Stopped"),
		Int("port", 5000),
		Bool("ready", true),
		Duration("delay", 2*time.Second),
		Err(errors.New("boom")),
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	got := lines[0]
	if got["message"] != "state transition" {
		t.Errorf("message = %v", got["message"])
	}
	if got["level"] != "info" {
		t.Errorf("level = %v, want info", got["level"])
	}
	if got["from"] != "Stopped" {
		t.Errorf("from = %v, want Stopped", got["from"])
	}
	if got["port"] != float64(5000) {
		t.Errorf("port = %v, want 5000", got["port"])
	}
	if got["error"] != "boom" {
		t.Errorf("error = %v, want boom", got["error"])
	}
}

func TestZerologAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZerolog(Options{Output: &buf, Format: FormatJSON, Level: "warn"})
	if err != nil {
		t.Fatalf("NewZerolog() error = %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Fatalf("got %d lines, want 1", n)
	}

	buf.Reset()
	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	logger.Debug("kept")
	if n := len(decodeLines(t, &buf)); n != 1 {
		t.Fatalf("after SetLevel got %d lines, want 1", n)
	}
	if logger.Level() != zerolog.DebugLevel {
		t.Errorf("Level() = %v, want debug", logger.Level())
	}
}

func TestZerologAdapter_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root, err := NewZerolog(Options{Output: &buf, Format: FormatJSON, Level: "info"})
	if err != nil {
		t.Fatalf("NewZerolog() error = %v", err)
	}
	child := root.With(String("component", "controller"))

	child.Info("hello")
	_ = root.SetLevel("error")
	child.Info("suppressed")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["component"] != "controller" {
		t.Errorf("component = %v, want controller", lines[0]["component"])
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NewNoopLogger()
	l.Info("x")
	if l.With(String("a", "b")) == nil {
		t.Fatal("With() returned nil")
	}
}
