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
	"sync"
	"time"
)

// BlockingMockTransport holds every command write until Unblock is called.
// Once released, the command is answered by the embedded MockTransport.
// Used to test command path contention and context cancellation.
type BlockingMockTransport struct {
	*MockTransport
	blockChan chan struct{}
	started   chan struct{}
	timeout   time.Duration
	mu        sync.Mutex
	closed    bool
}

// NewBlockingMockTransport creates a new blocking mock transport
func NewBlockingMockTransport() *BlockingMockTransport {
	return &BlockingMockTransport{
		MockTransport: NewMockTransport(),
		blockChan:     make(chan struct{}),
		started:       make(chan struct{}, 16),
		timeout:       5 * time.Second,
	}
}

// Exchange blocks command writes until Unblock, the block timeout, ctx or Close
func (m *BlockingMockTransport) Exchange(ctx context.Context, tx, rx []byte) (int, bool, error) {
	if len(tx) == 0 {
		return m.MockTransport.Exchange(ctx, tx, rx)
	}

	m.mu.Lock()
	blockChan, closed, timeout := m.blockChan, m.closed, m.timeout
	m.mu.Unlock()

	if closed {
		return 0, false, NewTransportError("exchange", "mock", ErrTransportClosed, ErrorTypePermanent)
	}

	select {
	case m.started <- struct{}{}:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-blockChan:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	case <-timer.C:
		return 0, false, NewTimeoutError("exchange", "mock")
	}

	m.mu.Lock()
	closed = m.closed
	m.mu.Unlock()
	if closed {
		return 0, false, NewTransportError("exchange", "mock", ErrTransportClosed, ErrorTypePermanent)
	}
	return m.MockTransport.Exchange(ctx, tx, rx)
}

// Started is signaled each time a command write begins blocking
func (m *BlockingMockTransport) Started() <-chan struct{} {
	return m.started
}

// Unblock releases every blocked command write
func (m *BlockingMockTransport) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.blockChan)
		m.blockChan = make(chan struct{})
	}
}

// Close unblocks all operations and marks the transport closed
func (m *BlockingMockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.blockChan)
	}
	return m.MockTransport.Close()
}

// SetBlockTimeout sets how long a command write stays blocked at most
func (m *BlockingMockTransport) SetBlockTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
}
