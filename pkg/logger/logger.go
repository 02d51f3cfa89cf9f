package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. Components derive from it with For.
func New(service, level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return NewWithWriter(out, service, level)
}

func NewWithWriter(out io.Writer, service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// For tags a logger with the component name, e.g. "Intake" or "Grouping".
func For(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
