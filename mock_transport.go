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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-eswifi/internal/response"
)

// MockOK builds the success response for body
func MockOK(body string) string {
	if body == "" {
		return string(response.SuccessSentinel)
	}
	return "\r\n" + body + string(response.SuccessSentinel)
}

// MockError builds the error response with an optional diagnostic
func MockError(diagnostic string) string {
	if diagnostic == "" {
		return string(response.ErrorSentinel) + string(response.Prompt)
	}
	return string(response.ErrorSentinel) + ": " + diagnostic + string(response.Prompt)
}

type mockHandler struct {
	fn     func(line string, payload []byte) (string, error)
	prefix string
}

// MockTransport is a scripted module at the command level. It does not
// advertise word framing, so the engine exchanges plain bytes with it.
// Responses are registered per command prefix; the most recent matching
// registration wins. Unmatched commands answer with an empty success.
type MockTransport struct {
	err         error
	handlers    []mockHandler
	commands    []string
	payloads    [][]byte
	pending     []byte
	timeout     time.Duration
	delay       time.Duration
	chunkSize   int
	interleaved int
	overlaps    atomic.Int32
	active      atomic.Int32
	mu          sync.Mutex
	echo        bool
	neverReady  bool
	closed      bool
}

var _ Transport = (*MockTransport)(nil)

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{timeout: time.Second}
}

// On registers a fixed response stream for commands starting with prefix
func (m *MockTransport) On(prefix, resp string) *MockTransport {
	return m.OnFunc(prefix, func(string, []byte) (string, error) {
		return resp, nil
	})
}

// OnFunc registers a response function for commands starting with prefix.
// An error from fn is returned by the exchange that carried the command.
func (m *MockTransport) OnFunc(prefix string, fn func(line string, payload []byte) (string, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, mockHandler{prefix: prefix, fn: fn})
	return m
}

// SetError makes every following exchange fail with err; nil clears it
func (m *MockTransport) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetNeverReady simulates a module that never asserts its ready signal
func (m *MockTransport) SetNeverReady(neverReady bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.neverReady = neverReady
}

// SetEcho makes the mock echo each command line before its response
func (m *MockTransport) SetEcho(echo bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = echo
}

// SetChunkSize limits the bytes returned per read exchange
func (m *MockTransport) SetChunkSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSize = size
}

// SetDelay adds latency to every exchange
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// Exchange implements Transport
func (m *MockTransport) Exchange(ctx context.Context, tx, rx []byte) (int, bool, error) {
	if m.active.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.active.Add(-1)

	m.mu.Lock()
	closed, neverReady, delay, timeout := m.closed, m.neverReady, m.delay, m.timeout
	m.mu.Unlock()

	if closed {
		return 0, false, NewTransportError("exchange", "mock", ErrTransportClosed, ErrorTypePermanent)
	}
	if neverReady {
		return 0, false, waitTimeout(ctx, timeout)
	}
	if delay > 0 {
		if err := sleepContext(ctx, delay); err != nil {
			return 0, false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, false, m.err
	}
	if len(tx) > 0 {
		return 0, true, m.receive(tx)
	}
	if len(m.pending) == 0 {
		// nothing to send: the module keeps its ready line low
		return 0, false, NewTimeoutError("exchange", "mock")
	}

	limit := len(rx)
	if m.chunkSize > 0 {
		limit = min(limit, m.chunkSize)
	}
	n := copy(rx[:limit], m.pending)
	m.pending = m.pending[n:]
	return n, len(m.pending) == 0, nil
}

func (m *MockTransport) receive(tx []byte) error {
	line, payload, _ := strings.Cut(string(tx), "\r")
	if len(m.pending) > 0 {
		m.interleaved++
	}
	m.commands = append(m.commands, line)
	m.payloads = append(m.payloads, []byte(payload))

	resp := MockOK("")
	if line == "" {
		resp = string(response.Prompt)
	}
	for i := len(m.handlers) - 1; i >= 0; i-- {
		h := m.handlers[i]
		if line != "" && strings.HasPrefix(line, h.prefix) {
			var err error
			if resp, err = h.fn(line, []byte(payload)); err != nil {
				return err
			}
			break
		}
	}

	if m.echo && line != "" {
		resp = line + "\r" + resp
	}
	m.pending = []byte(resp)
	return nil
}

// Commands returns every command line received so far
func (m *MockTransport) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Payloads returns the payload sent with each command, in order
func (m *MockTransport) Payloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.payloads...)
}

// CallCount returns how many commands started with prefix
func (m *MockTransport) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.commands {
		if strings.HasPrefix(c, prefix) {
			count++
		}
	}
	return count
}

// Overlaps returns how many exchanges started while another was in progress
func (m *MockTransport) Overlaps() int {
	return int(m.overlaps.Load())
}

// Interleaved returns how many commands arrived before the previous
// response was fully read
func (m *MockTransport) Interleaved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interleaved
}

// SetTimeout implements Transport
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// waitTimeout blocks for timeout, or until ctx is done, and reports a ready timeout
func waitTimeout(ctx context.Context, timeout time.Duration) error {
	if err := sleepContext(ctx, timeout); err != nil {
		return err
	}
	return NewTimeoutError("exchange", "mock")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
