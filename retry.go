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
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig configures caller-side retry of whole operations. The command
// engine itself never retries.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts; values below 1 mean one attempt
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each attempt
	BackoffMultiplier float64
	// Jitter randomizes each wait by up to this fraction of it
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used by DialTCP
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// DefaultCloseRetryConfig returns the policy for a socket's close sequence:
// three attempts 50ms apart
func DefaultCloseRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

// RetryWithConfig runs fn until it succeeds, returns an error IsRetryable
// rejects, the attempts run out, or ctx is done.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn func() error) error {
	return retryWhen(ctx, config, IsRetryable, fn)
}

func retryWhen(ctx context.Context, config *RetryConfig, retryable func(error) bool, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	attempts := max(config.MaxAttempts, 1)
	backoff := config.InitialBackoff

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= attempts || !retryable(err) {
			return err
		}

		timer := time.NewTimer(jittered(backoff, config.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(err, ctx.Err()))
		case <-timer.C:
		}

		backoff = nextBackoff(backoff, config)
	}
}

func nextBackoff(current time.Duration, config *RetryConfig) time.Duration {
	if config.BackoffMultiplier <= 0 {
		return current
	}
	next := time.Duration(float64(current) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return max(next, 0)
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if d <= 0 || jitter <= 0 {
		return max(d, 0)
	}
	jitter = min(jitter, 1)
	delta := (rand.Float64()*2 - 1) * jitter * float64(d)
	return max(d+time.Duration(delta), 0)
}

// isDialRetryable: a refused or failed connect may succeed later, but after
// a timeout the module's state is unknown and the socket must be re-queried
func isDialRetryable(err error) bool {
	if errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrCommandTimeout) {
		return false
	}
	return errors.Is(err, ErrConnectFailed) ||
		errors.Is(err, ErrProtocolRejected) ||
		errors.Is(err, ErrSocketBusy)
}
