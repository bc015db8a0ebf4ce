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
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-eswifi/internal/frame"
	"github.com/ZaparooProject/go-eswifi/internal/response"
	"github.com/ZaparooProject/go-eswifi/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

// maxDrainExchanges bounds how many reads are spent discarding the rest of
// a response the parser already gave up on
const maxDrainExchanges = 16

// EngineStats is a snapshot of the engine counters
type EngineStats struct {
	Commands int64
	Failures int64
	Timeouts int64
	BytesOut int64
	BytesIn  int64
}

type engineStats struct {
	commands *xsync.Counter
	failures *xsync.Counter
	timeouts *xsync.Counter
	bytesOut *xsync.Counter
	bytesIn  *xsync.Counter
}

func newEngineStats() engineStats {
	return engineStats{
		commands: xsync.NewCounter(),
		failures: xsync.NewCounter(),
		timeouts: xsync.NewCounter(),
		bytesOut: xsync.NewCounter(),
		bytesIn:  xsync.NewCounter(),
	}
}

// Engine runs one command at a time over a Transport and parses the response.
//
// Thread Safety: Execute must be called with the gate held (Lock/Unlock);
// Do acquires it for a single command. Callers issuing command sequences that
// depend on module-side state (such as the selected socket) hold the gate for
// the whole sequence. The gate is FIFO, so waiters are served in order.
type Engine struct {
	transport      Transport
	log            logger.Logger
	gate           *semaphore.Weighted
	stats          engineStats
	parser         response.Parser
	commandTimeout time.Duration
	gateWait       time.Duration
	readChunk      int
	framed         bool
	echo           bool

	tx      [FrameCapacity]byte
	wire    [FrameCapacity]byte
	rx      [FrameCapacity]byte
	dec     [FrameCapacity]byte
	scratch [MaxReadChunk]byte
}

// NewEngine creates a command engine on transport. Zero values in config
// are filled from the transport's tuned parameters.
func NewEngine(transport Transport, config *Config) (*Engine, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultConfig()
	}

	params := transportParams(transport)
	e := &Engine{
		transport:      transport,
		log:            config.Logger,
		gate:           semaphore.NewWeighted(1),
		stats:          newEngineStats(),
		commandTimeout: config.CommandTimeout,
		gateWait:       config.GateWait,
		readChunk:      config.ReadChunk,
		framed:         HasCapability(transport, CapabilityWordFraming),
		echo:           config.Echo,
	}
	if e.log == nil {
		e.log = logger.GetLogger()
	}
	if e.commandTimeout <= 0 {
		e.commandTimeout = params.CommandTimeout
	}
	if e.readChunk <= 0 {
		e.readChunk = params.ReadChunk
	}
	e.readChunk = min(e.readChunk, len(e.rx))
	if e.framed {
		// whole words only
		e.readChunk -= e.readChunk % frame.WordSize
	}
	if e.readChunk < frame.WordSize {
		return nil, fmt.Errorf("%w: read chunk %d", ErrInvalidParameter, config.ReadChunk)
	}

	readyTimeout := config.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = params.ReadyTimeout
	}
	if err := transport.SetTimeout(readyTimeout); err != nil {
		return nil, fmt.Errorf("failed to set transport timeout: %w", err)
	}

	return e, nil
}

// Transport returns the underlying transport
func (e *Engine) Transport() Transport {
	return e.transport
}

// Lock acquires the command path. It waits at most the configured gate wait;
// when the path stays busy for longer ErrSocketBusy is returned. A done ctx
// returns its own error.
func (e *Engine) Lock(ctx context.Context) error {
	waitCtx := ctx
	if e.gateWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.gateWait)
		defer cancel()
	}

	if err := e.gate.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for command path: %w", ctx.Err())
		}
		return fmt.Errorf("waiting for command path: %w", ErrSocketBusy)
	}
	return nil
}

// Unlock releases the command path
func (e *Engine) Unlock() {
	e.gate.Release(1)
}

// Do acquires the command path, executes cmd and releases the path
func (e *Engine) Do(ctx context.Context, cmd Command, buf []byte) (Response, error) {
	if err := e.Lock(ctx); err != nil {
		return Response{}, err
	}
	defer e.Unlock()

	return e.Execute(ctx, cmd, buf)
}

// Execute sends cmd and parses the module's response into buf, or into the
// engine's scratch arena when buf is nil. The caller must hold the command
// path. Failed handshakes are not retried; the caller decides whether to
// repeat the whole command.
func (e *Engine) Execute(ctx context.Context, cmd Command, buf []byte) (Response, error) {
	if err := cmd.Err(); err != nil {
		return Response{}, fmt.Errorf("build command %q: %w", cmd.String(), err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	e.stats.commands.Inc()
	resp, err := e.execute(ctx, &cmd, buf)
	if err != nil {
		e.stats.failures.Inc()
		if errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrCommandTimeout) {
			e.stats.timeouts.Inc()
		}
		e.log.Debug("command failed", "cmd", cmd.String(), "error", err)
		return Response{}, err
	}

	e.log.Debug("command ok", "cmd", cmd.String(), "body", len(resp.Body))
	return resp, nil
}

func (e *Engine) execute(ctx context.Context, cmd *Command, buf []byte) (Response, error) {
	line := cmd.Line()
	n := len(line) + 1 + len(cmd.Payload())
	if n > len(e.tx) {
		return Response{}, fmt.Errorf("%s: %w", cmd, ErrPayloadTooLarge)
	}
	copy(e.tx[:], line)
	e.tx[len(line)] = frame.LineTerminator
	copy(e.tx[len(line)+1:], cmd.Payload())

	out := e.tx[:n]
	if e.framed {
		m, err := frame.Encode(e.wire[:], out)
		if err != nil {
			return Response{}, fmt.Errorf("%s: %w", cmd, ErrPayloadTooLarge)
		}
		out = e.wire[:m]
	}

	if buf == nil {
		buf = e.scratch[:]
	}
	var echo []byte
	if e.echo {
		echo = e.tx[:len(line)+1]
	}
	if err := e.parser.Reset(echo, buf, cmd.mode, cmd.size); err != nil {
		return Response{}, parseError(cmd.String(), err)
	}

	if _, _, err := e.transport.Exchange(ctx, out, nil); err != nil {
		return Response{}, transportError(ctx, cmd.String(), err, false)
	}
	e.stats.bytesOut.Add(int64(len(out)))

	return e.collect(ctx, cmd.String())
}

// collect reads the response until the module releases the link
func (e *Engine) collect(ctx context.Context, label string) (Response, error) {
	for {
		chunk, done, err := e.read(ctx)
		if err != nil {
			return Response{}, transportError(ctx, label, err, true)
		}

		if err := e.parser.Feed(chunk); err != nil {
			if !done {
				e.drain(ctx)
			}
			return Response{}, parseError(label, err)
		}
		if done {
			break
		}
	}

	res, err := e.parser.Finish()
	if err != nil {
		return Response{}, parseError(label, err)
	}
	return Response{Body: res.Body}, nil
}

// read performs one read exchange and returns the decoded bytes
func (e *Engine) read(ctx context.Context) (chunk []byte, done bool, err error) {
	n, done, err := e.transport.Exchange(ctx, nil, e.rx[:e.readChunk])
	if err != nil {
		return nil, false, err
	}

	chunk = e.rx[:n]
	if e.framed {
		chunk = e.dec[:frame.DecodeResponse(e.dec[:], chunk, done)]
	}
	e.stats.bytesIn.Add(int64(len(chunk)))
	return chunk, done, nil
}

// drain discards the remainder of a response so the next command starts
// on a clean link
func (e *Engine) drain(ctx context.Context) {
	for range maxDrainExchanges {
		_, done, err := e.read(ctx)
		if err != nil || done {
			return
		}
	}
	e.log.Warn("response still pending after drain")
}

// ReadPrompt consumes the prompt the module prints after reset. On a
// ready-signaled link it is the only exchange not preceded by a command.
// The caller must hold the path.
func (e *Engine) ReadPrompt(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	if !HasCapability(e.transport, CapabilityReadySignal) {
		// without a ready line the prompt may be long gone; an empty line
		// makes the module print it again
		if _, _, err := e.transport.Exchange(ctx, []byte{frame.LineTerminator}, nil); err != nil {
			return transportError(ctx, "prompt", err, false)
		}
	}

	total := 0
	for {
		chunk, done, err := e.read(ctx)
		if err != nil {
			return transportError(ctx, "prompt", err, false)
		}
		total += copy(e.scratch[total:], chunk)
		if done || total == len(e.scratch) {
			break
		}
	}

	if !bytes.Contains(e.scratch[:total], response.Prompt) {
		e.log.Debug("unexpected startup output", "data", string(e.scratch[:total]))
		return ErrModuleNotReady
	}
	return nil
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Commands: e.stats.commands.Value(),
		Failures: e.stats.failures.Value(),
		Timeouts: e.stats.timeouts.Value(),
		BytesOut: e.stats.bytesOut.Value(),
		BytesIn:  e.stats.bytesIn.Value(),
	}
}

// transportError maps a failed exchange. A deadline that expires once the
// command has been accepted is a command timeout; before that, the module
// never became ready.
func transportError(ctx context.Context, label string, err error, accepted bool) error {
	deadline := errors.Is(ctx.Err(), context.DeadlineExceeded)
	switch {
	case accepted && deadline:
		return fmt.Errorf("%s: %w", label, ErrCommandTimeout)
	case errors.Is(err, ErrTransportTimeout), errors.Is(err, ErrBusFault):
		return fmt.Errorf("%s: %w", label, err)
	case deadline:
		return fmt.Errorf("%s: %w", label, NewTimeoutError("exchange", ""))
	default:
		return fmt.Errorf("%s: %w", label, err)
	}
}

func parseError(label string, err error) error {
	var rejected *response.Rejected
	switch {
	case errors.As(err, &rejected):
		return &CommandError{Command: label, Diagnostic: rejected.Diagnostic}
	case errors.Is(err, response.ErrBufferOverflow):
		return fmt.Errorf("%s: %w", label, ErrPayloadTooLarge)
	default:
		return fmt.Errorf("%s: %w: %w", label, ErrMalformedResponse, err)
	}
}
