// Package logging builds the slog loggers shared by the GUI and the CLI.
// Output is split into lines and handed to a sink, so a log view can show
// each record as it is written.
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LineWriter is an io.Writer that calls Sink once per complete line.
type LineWriter struct {
	Sink func(line string)

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		if w.Sink != nil {
			w.Sink(strings.TrimRight(line, "\r\n"))
		}
	}
}

// Options configure New.
type Options struct {
	// Level defaults to the LOG_LEVEL environment variable.
	Level *slog.Level
	// OmitTime drops the timestamp for sinks that add their own.
	OmitTime bool
}

// New returns a text logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	level := LevelFromEnv()
	if opts.Level != nil {
		level = *opts.Level
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.OmitTime {
		hopts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// ToSink returns a logger whose lines go to sink.
func ToSink(sink func(string), opts Options) *slog.Logger {
	return New(&LineWriter{Sink: sink}, opts)
}

// LevelFromEnv reads LOG_LEVEL, defaulting to info.
func LevelFromEnv() slog.Level {
	return parseLevel(os.Getenv("LOG_LEVEL"))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
