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

package eswifi

import (
	"time"

	"github.com/ZaparooProject/go-eswifi/logger"
)

// Config contains configuration options for the Stack and its command engine.
// Zero durations and sizes are replaced by the transport's tuned parameters.
type Config struct {
	// Logger receives driver logs; the package default logger when nil
	Logger logger.Logger
	// RetryConfig configures caller-side retry in DialTCP
	RetryConfig *RetryConfig
	// CloseRetryConfig configures how often a socket's close sequence is
	// attempted before the module is reset
	CloseRetryConfig *RetryConfig
	// StateObserver is notified of every socket state transition
	StateObserver StateObserver
	// CommandTimeout bounds one command when the caller's context has no deadline
	CommandTimeout time.Duration
	// GateWait bounds the wait for the shared command path
	GateWait time.Duration
	// ReadyTimeout bounds each wait for the module's ready signal
	ReadyTimeout time.Duration
	// ReadChunk is the number of bytes requested per read exchange
	ReadChunk int
	// Echo expects the module to echo each command line before its response
	Echo bool
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		RetryConfig:      DefaultRetryConfig(),
		CloseRetryConfig: DefaultCloseRetryConfig(),
		GateWait:         30 * time.Second,
		Echo:             true,
	}
}

// Option is a functional option for configuring a Stack
type Option func(*Config) error

// WithLogger sets the logger used by the driver
func WithLogger(log logger.Logger) Option {
	return func(c *Config) error {
		c.Logger = log
		return nil
	}
}

// WithRetryConfig sets the retry configuration used by DialTCP
func WithRetryConfig(config *RetryConfig) Option {
	return func(c *Config) error {
		c.RetryConfig = config
		return nil
	}
}

// WithCloseRetryConfig sets how a failed socket close is retried
func WithCloseRetryConfig(config *RetryConfig) Option {
	return func(c *Config) error {
		c.CloseRetryConfig = config
		return nil
	}
}

// WithMaxRetries sets the maximum number of attempts in DialTCP
func WithMaxRetries(maxAttempts int) Option {
	return func(c *Config) error {
		if c.RetryConfig == nil {
			c.RetryConfig = DefaultRetryConfig()
		}
		c.RetryConfig.MaxAttempts = maxAttempts
		return nil
	}
}

// WithCommandTimeout sets the default deadline of a single command
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return ErrInvalidParameter
		}
		c.CommandTimeout = timeout
		return nil
	}
}

// WithReadyTimeout sets how long a transaction waits for the ready signal
func WithReadyTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return ErrInvalidParameter
		}
		c.ReadyTimeout = timeout
		return nil
	}
}

// WithGateWait sets how long an operation waits for the shared command path
// before failing with ErrSocketBusy
func WithGateWait(wait time.Duration) Option {
	return func(c *Config) error {
		if wait < 0 {
			return ErrInvalidParameter
		}
		c.GateWait = wait
		return nil
	}
}

// WithReadChunk sets the number of bytes requested per read exchange
func WithReadChunk(size int) Option {
	return func(c *Config) error {
		if size < 0 || size > FrameCapacity {
			return ErrInvalidParameter
		}
		c.ReadChunk = size
		return nil
	}
}

// WithEcho sets whether the module echoes commands. The parser accepts
// responses without an echo either way.
func WithEcho(enabled bool) Option {
	return func(c *Config) error {
		c.Echo = enabled
		return nil
	}
}

// WithStateObserver registers a callback for socket state transitions
func WithStateObserver(observer StateObserver) Option {
	return func(c *Config) error {
		c.StateObserver = observer
		return nil
	}
}
