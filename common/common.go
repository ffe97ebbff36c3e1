// Package common provides shared utilities used across the frontdoor
// service: logger construction and build metadata.
package common

import (
	"log/slog"
	"os"
)

// PackageName identifies this service in logs and discovery responses.
const PackageName = "agent-frontdoor"

// Version is the build version, overridden at link time.
var Version = "dev"

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug enables debug-level logging.
	Debug bool

	// JSON switches the handler from text to JSON output.
	JSON bool

	// Service is added as a "service" attribute to all records.
	Service string

	// Version is added as a "version" attribute to all records.
	Version string
}

// SetupLogger creates a slog.Logger according to the provided options.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}
