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
	"io"
	"net/netip"
	"time"
)

const (
	// readPollMin and readPollMax bound the wait between receive attempts in Read
	readPollMin = 5 * time.Millisecond
	readPollMax = 200 * time.Millisecond
)

// Socket is a handle to one claim of a socket identifier. It holds no state
// of its own; the socket manager's table is authoritative. Once the socket is
// closed and its identifier reused, the handle reports closed and its
// operations fail with ErrNotConnected.
type Socket struct {
	stack *Stack
	id    int
	gen   uint64
}

var _ io.ReadWriteCloser = (*Socket)(nil)

// ID returns the module's identifier for this socket
func (s *Socket) ID() int {
	return s.id
}

func (s *Socket) handle() handle {
	return handle{id: s.id, gen: s.gen}
}

// State returns the socket's current state
func (s *Socket) State() SocketState {
	return s.stack.sockets.stateOf(s.handle())
}

// RemoteAddr returns the peer of a connected socket
func (s *Socket) RemoteAddr() netip.AddrPort {
	return s.stack.sockets.remoteOf(s.handle())
}

// Connect connects the socket to remote
func (s *Socket) Connect(remote netip.AddrPort) error {
	return s.ConnectContext(context.Background(), remote)
}

// ConnectContext connects the socket to remote with context support
func (s *Socket) ConnectContext(ctx context.Context, remote netip.AddrPort) error {
	return s.stack.sockets.connect(ctx, s.handle(), remote)
}

// Bind binds a UDP socket to a local port
func (s *Socket) Bind(port uint16) error {
	return s.BindContext(context.Background(), port)
}

// BindContext binds a UDP socket to a local port with context support
func (s *Socket) BindContext(ctx context.Context, port uint16) error {
	return s.stack.sockets.bind(ctx, s.handle(), port)
}

// Send writes data and returns the number of bytes the module accepted
func (s *Socket) Send(ctx context.Context, data []byte) (int, error) {
	return s.stack.sockets.sendTo(ctx, s.handle(), data, netip.AddrPort{})
}

// SendTo writes a datagram from a bound UDP socket to remote
func (s *Socket) SendTo(ctx context.Context, data []byte, remote netip.AddrPort) (int, error) {
	return s.stack.sockets.sendTo(ctx, s.handle(), data, remote)
}

// Receive reads whatever the module holds for this socket. It does not
// wait: zero bytes means nothing is pending.
func (s *Socket) Receive(ctx context.Context, buf []byte) (int, error) {
	return s.stack.sockets.receive(ctx, s.handle(), buf)
}

// Write implements io.Writer
func (s *Socket) Write(p []byte) (int, error) {
	return s.Send(context.Background(), p)
}

// Read implements io.Reader, waiting until data arrives
func (s *Socket) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext waits until data arrives or ctx is done. Polling slows down
// while the socket stays idle.
func (s *Socket) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	wait := readPollMin
	for {
		n, err := s.Receive(ctx, p)
		if err != nil || n > 0 {
			return n, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, readPollMax)
	}
}

// Close closes the socket. Closing a closed socket, or a handle whose
// identifier was reused, is a no-op.
func (s *Socket) Close() error {
	return s.CloseContext(context.Background())
}

// CloseContext closes the socket with context support
func (s *Socket) CloseContext(ctx context.Context) error {
	return s.stack.sockets.closeSocket(ctx, s.handle())
}

// Info queries the module's view of this socket
func (s *Socket) Info(ctx context.Context) (SocketInfo, error) {
	return s.stack.sockets.info(ctx, s.handle())
}
