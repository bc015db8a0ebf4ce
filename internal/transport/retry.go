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

// Package transport provides internal transport utilities
package transport

import (
	"context"
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
)

// RetryOperation represents a function that can be retried
// Returns: data, shouldRetry, error
// - data: the result if successful
// - shouldRetry: true if the operation should be retried
// - error: any permanent error that should stop retries
type RetryOperation[T any] func() (T, bool, error)

// RetryConfig configures retry behavior
type RetryConfig struct {
	OnRetry     func() error
	Description string
	Port        string
	MaxRetries  int
	RetryDelay  time.Duration
}

// WithRetry executes an operation with retry logic. When the retries run
// out a transient bus fault is returned.
func WithRetry[T any](ctx context.Context, config RetryConfig, operation RetryOperation[T]) (T, error) {
	var zero T

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result, shouldRetry, err := operation()
		if err != nil {
			return zero, err
		}

		if !shouldRetry {
			return result, nil
		}

		// If we should retry but we're at max attempts, break
		if attempt >= config.MaxRetries {
			break
		}

		if config.OnRetry != nil {
			if err := config.OnRetry(); err != nil {
				return zero, err
			}
		}

		if err := sleep(ctx, config.RetryDelay); err != nil {
			return zero, err
		}
	}

	return zero, eswifi.NewTransportError(config.Description, config.Port, eswifi.ErrBusFault, eswifi.ErrorTypeTransient)
}

// PollConfig configures Poll
type PollConfig struct {
	Op       string
	Port     string
	Timeout  time.Duration
	Interval time.Duration
}

// Poll repeats operation until it stops asking for a retry, the timeout
// passes or ctx is done. Common pattern for waiting on a ready line.
// Expiry of the timeout is reported as a transport timeout.
func Poll[T any](ctx context.Context, config PollConfig, operation RetryOperation[T]) (T, error) {
	var zero T
	deadline := time.Now().Add(config.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, shouldRetry, err := operation()
		if err != nil {
			return zero, err
		}
		if !shouldRetry {
			return result, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, eswifi.NewTimeoutError(config.Op, config.Port)
		}
		if err := sleep(ctx, min(config.Interval, remaining)); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
