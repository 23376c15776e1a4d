// Package logging configures the process-wide zerolog logger, matching the
// structured-logging conventions the example corpus uses (timestamp +
// service name fields, console writer for local development).
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for serviceName. console selects a
// human-readable writer (development); the default is JSON to stdout
// (production / log aggregation).
func New(serviceName string, console bool) zerolog.Logger {
	var w = os.Stdout
	base := zerolog.New(w).With().Timestamp().Str("service", serviceName)
	if console {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
			Timestamp().Str("service", serviceName).Logger()
	}
	return base.Logger()
}

// Level parses a level name (trace/debug/info/warn/error), defaulting to
// info on an unrecognized value rather than failing startup over a typo'd
// config key.
func Level(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
