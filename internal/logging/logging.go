// Package logging provides structured logging for querycache built on zerolog.
//
// Loggers travel on the context so library code can emit structured events
// without threading a logger through every constructor. FromContext always
// returns a usable logger; when none was attached, events are discarded.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format values accepted by Config.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Output values accepted by Config.Output.
const (
	OutputStderr = "stderr"
	OutputStdout = "stdout"
	OutputFile   = "file"
)

// Environment variables overriding logger settings.
const (
	// EnvLogLevel overrides the configured log level.
	EnvLogLevel = "QUERYCACHE_LOG_LEVEL"

	// EnvLogFormat overrides the configured log format.
	EnvLogFormat = "QUERYCACHE_LOG_FORMAT"
)

// ErrUnknownOutput is returned by New when Config.Output is not one of the
// supported destinations.
var ErrUnknownOutput = errors.New("unknown log output")

// Config controls how New builds a logger.
type Config struct {
	// Level is a zerolog level name ("trace", "debug", "info", "warn",
	// "error"). Empty or unparseable values fall back to info.
	Level string
	// Format selects console (human-readable, the default) or json output.
	Format string
	// Output selects the destination: stderr (default), stdout, or file.
	Output string
	// File is the log file path when Output is "file".
	File string
	// Caller annotates every event with the file:line of the call site.
	Caller bool
}

// New builds a zerolog.Logger from cfg. Unparseable levels fall back to
// info. When Output is "file" the file is opened in append mode and stays
// open for the life of the process.
func New(cfg Config) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer
	switch cfg.Output {
	case OutputStdout:
		out = os.Stdout
	case OutputFile:
		logFile, openErr := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if openErr != nil {
			return zerolog.Nop(), fmt.Errorf("opening log file: %w", openErr)
		}
		out = logFile
	case OutputStderr, "":
		out = os.Stderr
	default:
		return zerolog.Nop(), fmt.Errorf("%w: %q", ErrUnknownOutput, cfg.Output)
	}

	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	logCtx := zerolog.New(out).Level(lvl).With().Timestamp()
	if cfg.Caller {
		logCtx = logCtx.Caller()
	}
	return logCtx.Logger(), nil
}

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger attached to ctx. When ctx carries no logger
// a disabled logger is returned, so call sites never need to nil-check.
func FromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// ComponentLogger returns a child of logger tagged with a component name.
// Component names follow the package structure ("client", "query", "store").
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// Nop returns a logger that discards every event. It is the default for
// components constructed without a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
