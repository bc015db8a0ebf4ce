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

package polling

import (
	"time"

	"github.com/ZaparooProject/go-eswifi/logger"
)

// Config holds configuration options for the Receiver
type Config struct {
	// Logger receives poll errors at debug level; the package default when nil
	Logger logger.Logger

	PollInterval time.Duration
	// MaxInterval caps the interval while the socket stays idle
	MaxInterval time.Duration
	// IdleAfter is how long without data before polling slows down
	IdleAfter time.Duration

	// BufferSize is the most data requested per poll
	BufferSize int
}

// DefaultConfig returns sensible default configuration values
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 50 * time.Millisecond,
		MaxInterval:  500 * time.Millisecond,
		IdleAfter:    2 * time.Second,
		BufferSize:   1024,
	}
}

func (c *Config) normalize() {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = defaults.MaxInterval
	}
	c.MaxInterval = max(c.MaxInterval, c.PollInterval)
	if c.IdleAfter <= 0 {
		c.IdleAfter = defaults.IdleAfter
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaults.BufferSize
	}
	if c.Logger == nil {
		c.Logger = logger.GetLogger()
	}
}
