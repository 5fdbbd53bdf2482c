// Package logging builds the daemon's structured loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process logger plus the file it rotates, if any.
type Logger struct {
	*slog.Logger
	LogFile string
	closer  io.Closer
}

// New returns a JSON logger. With an empty dir it writes to stderr,
// otherwise to a rotated aisguard.log inside dir.
func New(dir string, debug bool) *Logger {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	l := &Logger{}
	if dir != "" {
		lj := &lumberjack.Logger{
			Filename: filepath.Join(dir, "aisguard.log"),
			MaxSize:  64, // MB
			MaxAge:   14,
			Compress: true,
		}
		w, l.LogFile, l.closer = lj, lj.Filename, lj
	}
	l.Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	l.Info("logging started",
		slog.Time("start", time.Now()),
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.Int("NumCPUs", runtime.NumCPU()))
	return l
}

// Close flushes and closes the rotated log file, if one is open.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// FailedDecodes returns a logger that records every sentence that could
// not be decoded, one JSON object per line. An empty path discards.
func FailedDecodes(path string) (*slog.Logger, io.Closer) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    32, // MB
		MaxBackups: 3,
	}
	h := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), lj
}
