// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger tagged with env.  level is a zerolog level
// name; an unknown or empty name means debug outside production and info in
// production.
func New(env, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, env, level string) zerolog.Logger {
	prod := env == "production" || env == "prod"
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    prod,
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.DebugLevel
		if prod {
			lvl = zerolog.InfoLevel
		}
	}

	return zerolog.New(output).Level(lvl).With().
		Timestamp().
		Str("env", env).
		Logger()
}
