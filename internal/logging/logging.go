package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. DEV gets a human-readable console writer,
// every other environment emits JSON lines.
func New(env, level string) zerolog.Logger {
	return newWithWriter(env, level, os.Stderr)
}

func newWithWriter(env, level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if env == "DEV" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
