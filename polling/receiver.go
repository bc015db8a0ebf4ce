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

// Package polling delivers socket data as it arrives. The module has no
// unsolicited data notification, so a Receiver polls the socket instead.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
)

// Source is what a Receiver polls; *eswifi.Socket satisfies it
type Source interface {
	Receive(ctx context.Context, buf []byte) (int, error)
}

// Callbacks defines callback functions for receiver events
type Callbacks struct {
	// OnData is called with each chunk received. data is only valid for the
	// duration of the call.
	OnData func(data []byte) error
	// OnError is called for every failed poll
	OnError func(err error)
}

// Metrics tracks operational metrics for a Receiver
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of failed polls
	BytesReceived   int64         // Bytes delivered to OnData
	CallbackErrors  int64         // Number of OnData errors
	LastPollLatency time.Duration // Duration of last poll
}

// Receiver errors
var (
	ErrNilSource      = errors.New("source cannot be nil")
	ErrAlreadyRunning = errors.New("receiver is already running")
)

// Receiver polls a socket and hands received data to its callbacks. Polling
// slows down while the socket stays idle and returns to full speed as soon
// as data arrives. The loop ends on Stop, when ctx is done, or when the
// socket is no longer connected.
type Receiver struct {
	source     Source
	config     *Config
	callbacks  Callbacks
	cancelFunc context.CancelFunc
	done       chan struct{}
	buf        []byte
	stopMutex  sync.Mutex
	running    atomic.Bool

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	bytesReceived   atomic.Int64
	callbackErrors  atomic.Int64
	lastPollLatency atomic.Int64
	currentInterval atomic.Int64
	lastData        atomic.Int64
}

// NewReceiver creates a receiver polling source
func NewReceiver(source Source, config *Config, callbacks Callbacks) (*Receiver, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.normalize()

	r := &Receiver{
		source:    source,
		config:    &cfg,
		callbacks: callbacks,
		buf:       make([]byte, cfg.BufferSize),
	}
	r.currentInterval.Store(int64(cfg.PollInterval))
	return r, nil
}

// Start begins polling (non-blocking)
func (r *Receiver) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.stopMutex.Lock()
	r.cancelFunc = cancel
	r.done = done
	r.stopMutex.Unlock()

	r.lastData.Store(time.Now().UnixNano())
	r.currentInterval.Store(int64(r.config.PollInterval))

	go func() {
		defer func() {
			cancel()
			r.running.Store(false)
			close(done)
		}()
		r.pollLoop(pollCtx)
	}()
	return nil
}

// Stop stops polling and waits for the loop to exit, or for ctx
func (r *Receiver) Stop(ctx context.Context) error {
	r.stopMutex.Lock()
	cancel, done := r.cancelFunc, r.done
	r.stopMutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether the receiver is currently polling
func (r *Receiver) IsRunning() bool {
	return r.running.Load()
}

func (r *Receiver) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !r.poll(ctx) {
			return
		}
		r.adjustPollInterval()
		timer.Reset(r.CurrentPollInterval())
	}
}

// poll runs one receive; false ends the loop
func (r *Receiver) poll(ctx context.Context) bool {
	start := time.Now()
	n, err := r.source.Receive(ctx, r.buf)
	r.pollCycles.Add(1)
	r.lastPollLatency.Store(int64(time.Since(start)))

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.pollErrors.Add(1)
		r.config.Logger.Debug("receive poll failed", "error", err)
		if r.callbacks.OnError != nil {
			r.callbacks.OnError(err)
		}
		// nothing more will arrive on a socket that is gone
		return !errors.Is(err, eswifi.ErrNotConnected) && !errors.Is(err, eswifi.ErrTransportClosed)
	}

	if n > 0 {
		r.lastData.Store(start.UnixNano())
		r.bytesReceived.Add(int64(n))
		if r.callbacks.OnData != nil {
			if err := r.callbacks.OnData(r.buf[:n]); err != nil {
				r.callbackErrors.Add(1)
			}
		}
	}
	return true
}

// adjustPollInterval doubles the interval while the socket stays idle and
// resets it once data arrived
func (r *Receiver) adjustPollInterval() {
	idle := time.Since(time.Unix(0, r.lastData.Load()))
	if idle < r.config.IdleAfter {
		r.currentInterval.Store(int64(r.config.PollInterval))
		return
	}
	next := min(2*time.Duration(r.currentInterval.Load()), r.config.MaxInterval)
	r.currentInterval.Store(int64(next))
}

// GetMetrics returns current operational metrics
func (r *Receiver) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      r.pollCycles.Load(),
		PollErrors:      r.pollErrors.Load(),
		BytesReceived:   r.bytesReceived.Load(),
		CallbackErrors:  r.callbackErrors.Load(),
		LastPollLatency: time.Duration(r.lastPollLatency.Load()),
	}
}

// CurrentPollInterval returns the current adaptive polling interval
func (r *Receiver) CurrentPollInterval() time.Duration {
	return time.Duration(r.currentInterval.Load())
}
