package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestLineWriter_SplitsAndBuffers(t *testing.T) {
	var lines []string
	w := &LineWriter{Sink: func(l string) { lines = append(lines, l) }}

	w.Write([]byte("first\nsec"))
	w.Write([]byte("ond\r\nthird"))
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %q, want [first second]", lines)
	}
	w.Write([]byte("\n"))
	if len(lines) != 3 || lines[2] != "third" {
		t.Fatalf("lines = %q, want third flushed", lines)
	}
}

func TestToSink_OmitTime(t *testing.T) {
	var lines []string
	level := slog.LevelDebug
	logger := ToSink(func(l string) { lines = append(lines, l) }, Options{Level: &level, OmitTime: true})

	logger.Debug("polling", "attempt", 2)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if strings.Contains(lines[0], "time=") {
		t.Fatalf("line %q has a timestamp", lines[0])
	}
	if !strings.Contains(lines[0], "msg=polling") || !strings.Contains(lines[0], "attempt=2") {
		t.Fatalf("line %q missing message or attribute", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	if got := LevelFromEnv(); got != slog.LevelError {
		t.Fatalf("LevelFromEnv = %v, want error", got)
	}
}
