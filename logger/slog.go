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

package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/phsym/console-slog"
)

// SlogLogger implements Logger on log/slog
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var _ Logger = (*SlogLogger)(nil)

// NewSlog creates a slog logger writing to stdout
func NewSlog(level Level, addSource bool) Logger {
	return NewSlogWriter(os.Stdout, level, addSource)
}

// NewSlogWriter creates a slog logger writing to w. Console output is
// selected with ENV=development, JSON otherwise.
func NewSlogWriter(w io.Writer, level Level, addSource bool) *SlogLogger {
	inst := &SlogLogger{level: &slog.LevelVar{}}
	inst.level.Set(toSlogLevel(level))

	var handler slog.Handler
	if os.Getenv("ENV") == "development" {
		handler = console.NewHandler(w, &console.HandlerOptions{
			AddSource: true,
			Level:     inst.level,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     inst.level,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	inst.logger = slog.New(handler)

	return inst
}

// Discard returns a logger that drops everything
func Discard() Logger {
	return NewSlogWriter(io.Discard, ErrorLevel, false)
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelError, msg, keysAndValues...)
}

func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.log(context.Background(), slog.LevelError, msg, keysAndValues...)
	os.Exit(1)
}

// With shares the level with its parent, so SetLevel on either affects both
func (l *SlogLogger) With(keyValues ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(keyValues...),
		level:  l.level,
	}
}

func (l *SlogLogger) Level() Level {
	switch l.level.Level() {
	case slog.LevelDebug:
		return DebugLevel
	case slog.LevelInfo:
		return InfoLevel
	case slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// log must be called directly by an exported logging method, because it
// uses a fixed call depth to obtain the pc.
func (l *SlogLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
