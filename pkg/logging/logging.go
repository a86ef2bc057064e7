// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for the assistant services.
//
// All services log JSON to stdout via log/slog so container runtimes can
// collect and ship them unmodified. The minimum level comes from LOG_LEVEL
// (debug, info, warn, error), defaulting to info.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide default logger and returns it.
//
// # Inputs
//
//   - service: Service name attached to every record.
func Setup(service string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromEnv(),
	})).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
