// go-eswifi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-eswifi.
//
// go-eswifi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-eswifi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-eswifi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package logger provides the structured logging interface used by the driver.
//
// Driver components log with key/value pairs ("socket", id, "cmd", line) so the
// output can be filtered per socket or per command. The default implementation
// writes JSON through log/slog, or human-readable console output when the ENV
// environment variable is "development".
//
// Log Levels:
//
//   - DebugLevel: every command and bus transaction, disabled by default.
//   - InfoLevel: module startup, network join, socket lifecycle.
//   - WarnLevel: soft failures such as a close the module did not acknowledge.
//   - ErrorLevel: failures the caller is expected to act on.
//   - FatalLevel: logs, then exits the process. Only used by command-line tools.
package logger

// Level indicates the logging severity level.
type Level int8

const (
	// DebugLevel logs are voluminous and usually disabled.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name as found in configuration files
func ParseLevel(name string) (Level, bool) {
	switch name {
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	case "fatal":
		return FatalLevel, true
	default:
		return InfoLevel, false
	}
}

// Logger defines a common interface for logging.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given key/values.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() Level
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level Level)
}
