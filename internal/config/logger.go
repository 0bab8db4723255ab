package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink selects where log lines go.
type Sink int

const (
	// SinkFile writes JSON lines to the rotating log file. The TUI owns the
	// terminal, so it logs here.
	SinkFile Sink = iota
	// SinkConsole writes human-readable lines to stderr.
	SinkConsole
)

// NewLogger builds the application logger. The returned closer flushes and
// closes the log file; it is a no-op for the console sink.
func NewLogger(cfg *Config, sink Sink) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch sink {
	case SinkConsole:
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w, closer = lj, lj
	}

	logger := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "blockr").
		Logger()
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
