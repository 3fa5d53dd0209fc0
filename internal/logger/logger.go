// Package logger provides structured logging for sqlsweep using zerolog.
// Human-readable report output goes to stdout via fmt; diagnostics go
// through this package to stderr.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var globalLogger zerolog.Logger

// Config controls log level and destination.
type Config struct {
	Level      string
	Output     string
	TimeFormat string
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	globalLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

// Init configures the global logger. An empty level means info.
func Init(config Config) error {
	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if config.Output == "stdout" {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	level := zerolog.InfoLevel
	if config.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	globalLogger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return nil
}

// Get returns the global logger for injection into components.
func Get() zerolog.Logger {
	return globalLogger
}

func Error() *zerolog.Event {
	return globalLogger.Error()
}
