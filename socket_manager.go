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
	"net/netip"
	"sync"
	"time"

	"github.com/ZaparooProject/go-eswifi/internal/response"
	"github.com/ZaparooProject/go-eswifi/logger"
)

const (
	// closeAttemptTimeout bounds one attempt of the close sequence
	closeAttemptTimeout = 10 * time.Second
	// recoveryTimeout bounds the module reset after a close that never succeeded
	recoveryTimeout = 30 * time.Second
)

// SocketManager owns the socket state table and sequences the per-socket
// command chains over the shared command path.
//
// The module keeps one "selected socket" for the whole link, so every
// operation holds the command path from the select command to its last
// command. The table itself is guarded by a separate mutex so State can be
// read while an operation is in flight.
type SocketManager struct {
	engine     *Engine
	log        logger.Logger
	observer   StateObserver
	closeRetry *RetryConfig
	// recoverModule reboots the module with the command path held
	recoverModule func(ctx context.Context) error
	table         [MaxSockets]socketEntry
	mu            sync.Mutex
}

// handle names one claim of an identifier. The zero generation matches
// whatever claim the identifier currently has.
type handle struct {
	id  int
	gen uint64
}

// NewSocketManager creates a manager issuing commands through engine
func NewSocketManager(engine *Engine, log logger.Logger, observer StateObserver) *SocketManager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &SocketManager{
		engine:     engine,
		log:        log,
		observer:   observer,
		closeRetry: DefaultCloseRetryConfig(),
	}
}

// State returns the current state of socket id
func (m *SocketManager) State(id int) SocketState {
	return m.stateOf(handle{id: id})
}

func (m *SocketManager) stateOf(h handle) SocketState {
	if !validID(h.id) {
		return SocketClosed
	}
	entry, ok := m.lookup(h)
	if !ok {
		return SocketClosed
	}
	return entry.state
}

// lookup returns the entry for h and whether h still names its current claim
func (m *SocketManager) lookup(h handle) (socketEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.table[h.id]
	return entry, h.gen == 0 || entry.generation == h.gen
}

// Remote returns the peer of a connected socket
func (m *SocketManager) Remote(id int) netip.AddrPort {
	return m.remoteOf(handle{id: id})
}

func (m *SocketManager) remoteOf(h handle) netip.AddrPort {
	if !validID(h.id) {
		return netip.AddrPort{}
	}
	entry, ok := m.lookup(h)
	if !ok {
		return netip.AddrPort{}
	}
	return entry.remote
}

// Open allocates the lowest free identifier and configures its protocol
func (m *SocketManager) Open(ctx context.Context, proto Protocol) (int, error) {
	h, err := m.open(ctx, proto)
	return h.id, err
}

func (m *SocketManager) open(ctx context.Context, proto Protocol) (handle, error) {
	if err := m.engine.Lock(ctx); err != nil {
		return handle{id: -1}, err
	}
	defer m.engine.Unlock()

	h := m.claimFree()
	if h.id < 0 {
		return h, fmt.Errorf("open socket: all %d identifiers in use: %w", MaxSockets, ErrSocketBusy)
	}
	if err := m.configure(ctx, h.id, proto); err != nil {
		return handle{id: -1}, err
	}
	return h, nil
}

// OpenID configures the protocol of a specific identifier, which must be closed
func (m *SocketManager) OpenID(ctx context.Context, id int, proto Protocol) error {
	if !validID(id) {
		return fmt.Errorf("open socket %d: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return err
	}
	defer m.engine.Unlock()

	if _, err := m.claim(id); err != nil {
		return fmt.Errorf("open socket %d: %w", id, err)
	}
	return m.configure(ctx, id, proto)
}

// configure runs the open sequence for a claimed identifier. Any failure,
// timeouts included, returns the identifier to closed.
func (m *SocketManager) configure(ctx context.Context, id int, proto Protocol) error {
	err := m.selectSocket(ctx, id)
	if err == nil {
		_, err = m.engine.Execute(ctx, SetIntCommand(cmdProtocol, int(proto)), nil)
	}
	if err != nil {
		m.transition(id, SocketClosed)
		return fmt.Errorf("open socket %d: %w", id, err)
	}

	m.mu.Lock()
	m.table[id].protocol = proto
	m.mu.Unlock()
	m.transition(id, SocketOpen)
	m.log.Info("socket open", "socket", id, "proto", proto)
	return nil
}

// Connect starts a client connection to remote. On failure the socket stays open.
func (m *SocketManager) Connect(ctx context.Context, id int, remote netip.AddrPort) error {
	return m.connect(ctx, handle{id: id}, remote)
}

func (m *SocketManager) connect(ctx context.Context, h handle, remote netip.AddrPort) error {
	id := h.id
	if !validID(id) || !remote.IsValid() {
		return fmt.Errorf("connect socket %d: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return err
	}
	defer m.engine.Unlock()

	entry, ok := m.lookup(h)
	if !ok {
		return staleHandle("connect", id)
	}
	if entry.state != SocketOpen {
		return fmt.Errorf("connect socket %d in state %s: %w", id, entry.state, ErrSocketBusy)
	}

	if err := m.startClient(ctx, id, remote); err != nil {
		m.log.Debug("connect failed", "socket", id, "remote", remote, "error", err)
		return fmt.Errorf("connect socket %d to %s: %w: %w", id, remote, ErrConnectFailed, err)
	}

	m.mu.Lock()
	m.table[id].remote = remote
	m.mu.Unlock()
	m.transition(id, SocketConnected)
	m.log.Info("socket connected", "socket", id, "remote", remote)
	return nil
}

func (m *SocketManager) startClient(ctx context.Context, id int, remote netip.AddrPort) error {
	if err := m.selectSocket(ctx, id); err != nil {
		return err
	}
	if err := m.setDestination(ctx, remote); err != nil {
		return err
	}
	_, err := m.engine.Execute(ctx, SetIntCommand(cmdClient, 1), nil)
	return err
}

// Bind starts a passive UDP socket on a local port
func (m *SocketManager) Bind(ctx context.Context, id int, port uint16) error {
	return m.bind(ctx, handle{id: id}, port)
}

func (m *SocketManager) bind(ctx context.Context, h handle, port uint16) error {
	id := h.id
	if !validID(id) || port == 0 {
		return fmt.Errorf("bind socket %d: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return err
	}
	defer m.engine.Unlock()

	entry, ok := m.lookup(h)
	if !ok {
		return staleHandle("bind", id)
	}
	if entry.state != SocketOpen {
		return fmt.Errorf("bind socket %d in state %s: %w", id, entry.state, ErrSocketBusy)
	}
	if entry.protocol != ProtocolUDP {
		return fmt.Errorf("bind socket %d: %s sockets cannot bind: %w", id, entry.protocol, ErrInvalidParameter)
	}

	err := m.selectSocket(ctx, id)
	if err == nil {
		_, err = m.engine.Execute(ctx, SetIntCommand(cmdLocalPort, int(port)), nil)
	}
	if err == nil {
		_, err = m.engine.Execute(ctx, SetIntCommand(cmdServer, 1), nil)
	}
	if err != nil {
		return fmt.Errorf("bind socket %d to port %d: %w", id, port, err)
	}

	m.mu.Lock()
	m.table[id].localPort = port
	m.mu.Unlock()
	m.transition(id, SocketBound)
	m.log.Info("socket bound", "socket", id, "port", port)
	return nil
}

// Send writes data on a connected socket. It returns the number of bytes
// the module accepted; a failure part way through is a *WriteError.
func (m *SocketManager) Send(ctx context.Context, id int, data []byte) (int, error) {
	return m.sendTo(ctx, handle{id: id}, data, netip.AddrPort{})
}

// SendTo writes data on a connected socket, or on a bound UDP socket when
// remote is valid.
func (m *SocketManager) SendTo(ctx context.Context, id int, data []byte, remote netip.AddrPort) (int, error) {
	return m.sendTo(ctx, handle{id: id}, data, remote)
}

func (m *SocketManager) sendTo(ctx context.Context, h handle, data []byte, remote netip.AddrPort) (int, error) {
	id := h.id
	if !validID(id) {
		return 0, fmt.Errorf("send on socket %d: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return 0, err
	}
	defer m.engine.Unlock()

	entry, ok := m.lookup(h)
	if !ok {
		return 0, staleHandle("send on", id)
	}
	if !entry.canSend(remote.IsValid()) {
		return 0, fmt.Errorf("send on socket %d in state %s: %w", id, entry.state, ErrNotConnected)
	}
	if len(data) == 0 {
		return 0, nil
	}

	if err := m.selectSocket(ctx, id); err != nil {
		return 0, &WriteError{Socket: id, Err: err}
	}
	if entry.state == SocketBound {
		if err := m.setDestination(ctx, remote); err != nil {
			return 0, &WriteError{Socket: id, Err: err}
		}
	}

	written := 0
	for written < len(data) {
		chunk := data[written:min(written+MaxWriteChunk, len(data))]

		accepted, err := m.write(ctx, chunk)
		written += accepted
		if err != nil {
			m.log.Debug("write failed", "socket", id, "written", written, "error", err)
			return written, &WriteError{Socket: id, Written: written, Err: err}
		}
	}

	m.log.Debug("socket write", "socket", id, "bytes", written)
	return written, nil
}

// write sends one chunk and returns the count the module reports accepted
func (m *SocketManager) write(ctx context.Context, chunk []byte) (int, error) {
	resp, err := m.engine.Execute(ctx, SetIntCommand(cmdWrite, len(chunk)).WithPayload(chunk), nil)
	if err != nil {
		return 0, err
	}

	accepted, err := resp.Int()
	switch {
	case err != nil:
		return 0, err
	case accepted > len(chunk):
		return 0, fmt.Errorf("module accepted %d of %d bytes: %w", accepted, len(chunk), ErrMalformedResponse)
	case accepted == 0:
		return 0, fmt.Errorf("module accepted no data: %w", ErrUnexpectedResponse)
	default:
		return accepted, nil
	}
}

// Receive reads the data the module holds for the socket into buf. Zero
// bytes means nothing is pending and is not an error.
func (m *SocketManager) Receive(ctx context.Context, id int, buf []byte) (int, error) {
	return m.receive(ctx, handle{id: id}, buf)
}

func (m *SocketManager) receive(ctx context.Context, h handle, buf []byte) (int, error) {
	id := h.id
	if !validID(id) {
		return 0, fmt.Errorf("receive on socket %d: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return 0, err
	}
	defer m.engine.Unlock()

	entry, ok := m.lookup(h)
	if !ok {
		return 0, staleHandle("receive on", id)
	}
	if !entry.canReceive() {
		return 0, fmt.Errorf("receive on socket %d in state %s: %w", id, entry.state, ErrNotConnected)
	}
	if len(buf) == 0 {
		return 0, nil
	}
	buf = buf[:min(len(buf), MaxReadChunk)]

	if err := m.selectSocket(ctx, id); err != nil {
		return 0, fmt.Errorf("receive on socket %d: %w", id, err)
	}
	if _, err := m.engine.Execute(ctx, SetIntCommand(cmdReadSize, len(buf)), nil); err != nil {
		return 0, fmt.Errorf("receive on socket %d: %w", id, err)
	}
	resp, err := m.engine.Execute(ctx, NewCommand(cmdReadData), buf)
	if err != nil {
		return 0, fmt.Errorf("receive on socket %d: %w", id, err)
	}
	return len(resp.Body), nil
}

// Close stops the socket and frees its identifier. Closing a closed socket
// is a no-op.
//
// The stop command is retried per the close retry policy. Once the close
// sequence has started the identifier is freed even when the module never
// acknowledges; that error is logged and returned for information only, and
// the module is reset when the transport can do so. If the command path is
// not free within the gate wait, Close fails with ErrSocketBusy before the
// sequence starts and the identifier stays allocated; call Close again.
func (m *SocketManager) Close(ctx context.Context, id int) error {
	return m.closeSocket(ctx, handle{id: id})
}

func (m *SocketManager) closeSocket(ctx context.Context, h handle) error {
	id := h.id
	if !validID(id) {
		return fmt.Errorf("close socket %d: %w", id, ErrInvalidParameter)
	}
	if m.stateOf(h) == SocketClosed {
		return nil
	}

	// an operation still holding the path owns the socket; leave it alone
	if err := m.engine.Lock(ctx); err != nil {
		return fmt.Errorf("close socket %d: %w", id, err)
	}
	defer m.engine.Unlock()

	entry, ok := m.lookup(h)
	if !ok || entry.state == SocketClosed {
		return nil
	}

	m.transition(id, SocketClosing)

	stop := SetIntCommand(cmdClient, 0)
	if entry.state == SocketBound {
		stop = SetIntCommand(cmdServer, 0)
	}
	err := retryWhen(ctx, m.closeRetry, isCloseRetryable, func() error {
		return m.stop(ctx, id, stop)
	})

	m.transition(id, SocketClosed)
	if err == nil {
		m.log.Info("socket closed", "socket", id)
		return nil
	}

	m.log.Warn("socket close not acknowledged", "socket", id, "error", err)
	if m.recoverModule != nil {
		recoverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
		defer cancel()
		if rerr := m.recoverModule(recoverCtx); rerr != nil {
			m.log.Error("module reset after failed close", "socket", id, "error", rerr)
		} else {
			m.log.Warn("module reset after failed close", "socket", id)
		}
	}
	return fmt.Errorf("close socket %d: %w", id, err)
}

// stop runs one attempt of the close sequence
func (m *SocketManager) stop(ctx context.Context, id int, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, closeAttemptTimeout)
	defer cancel()

	if err := m.selectSocket(ctx, id); err != nil {
		return err
	}
	_, err := m.engine.Execute(ctx, cmd, nil)
	return err
}

// isCloseRetryable: every module-side failure is worth another attempt, but
// not a cancelled caller or a closed link
func isCloseRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrTransportClosed)
}

// Info queries the module's view of the socket. It is the way to learn the
// real state after a timed-out command.
func (m *SocketManager) Info(ctx context.Context, id int) (SocketInfo, error) {
	return m.info(ctx, handle{id: id})
}

func (m *SocketManager) info(ctx context.Context, h handle) (SocketInfo, error) {
	id := h.id
	if !validID(id) {
		return SocketInfo{}, fmt.Errorf("socket %d info: %w", id, ErrInvalidParameter)
	}
	if err := m.engine.Lock(ctx); err != nil {
		return SocketInfo{}, err
	}
	defer m.engine.Unlock()

	if _, ok := m.lookup(h); !ok {
		return SocketInfo{}, staleHandle("query", id)
	}
	if err := m.selectSocket(ctx, id); err != nil {
		return SocketInfo{}, fmt.Errorf("socket %d info: %w", id, err)
	}
	resp, err := m.engine.Execute(ctx, NewCommand(cmdSocketInfo), nil)
	if err != nil {
		return SocketInfo{}, fmt.Errorf("socket %d info: %w", id, err)
	}

	info, err := parseSocketInfo(resp.Body)
	if err != nil {
		return SocketInfo{}, fmt.Errorf("socket %d info %q: %w", id, resp.Body, err)
	}
	info.ID = id
	return info, nil
}

// parseSocketInfo reads "proto,local ip,local port,remote ip,remote port[,active]"
func parseSocketInfo(body []byte) (SocketInfo, error) {
	var scratch [8][]byte
	f := response.Fields(scratch[:0], body)
	if len(f) < 5 {
		return SocketInfo{}, ErrMalformedResponse
	}

	proto, err := response.ParseInt(f[0])
	if err != nil {
		return SocketInfo{}, ErrMalformedResponse
	}
	local, err := response.ParsePort(f[2])
	if err != nil {
		return SocketInfo{}, ErrMalformedResponse
	}
	info := SocketInfo{Protocol: Protocol(proto), LocalPort: local}

	if addr, err := netip.ParseAddr(string(f[3])); err == nil {
		port, err := response.ParsePort(f[4])
		if err != nil {
			return SocketInfo{}, ErrMalformedResponse
		}
		info.Remote = netip.AddrPortFrom(addr, port)
	}
	if len(f) > 5 {
		info.Active = string(f[5]) == "1"
	}
	return info, nil
}

// Reset marks every identifier closed without talking to the module. Used
// after the module itself was reset.
func (m *SocketManager) Reset() {
	for id := range MaxSockets {
		m.transition(id, SocketClosed)
	}
}

func (m *SocketManager) selectSocket(ctx context.Context, id int) error {
	_, err := m.engine.Execute(ctx, SetIntCommand(cmdSocketSelect, id), nil)
	return err
}

func (m *SocketManager) setDestination(ctx context.Context, remote netip.AddrPort) error {
	if _, err := m.engine.Execute(ctx, SetAddrCommand(cmdRemoteHost, remote.Addr()), nil); err != nil {
		return err
	}
	_, err := m.engine.Execute(ctx, SetIntCommand(cmdRemotePort, int(remote.Port())), nil)
	return err
}

// claimFree claims the lowest closed identifier. The handle's id is -1 when
// none is free.
func (m *SocketManager) claimFree() handle {
	for id := range MaxSockets {
		if gen, err := m.claim(id); err == nil {
			return handle{id: id, gen: gen}
		}
	}
	return handle{id: -1}
}

// claim moves a closed id to configuring and returns its new generation
func (m *SocketManager) claim(id int) (uint64, error) {
	m.mu.Lock()
	entry := &m.table[id]
	if entry.state != SocketClosed {
		current := entry.state
		m.mu.Unlock()
		return 0, fmt.Errorf("socket %d is %s: %w", id, current, ErrSocketBusy)
	}
	entry.generation++
	entry.state = SocketConfiguring
	gen := entry.generation
	m.mu.Unlock()

	m.notify(id, SocketClosed, SocketConfiguring)
	return gen, nil
}

func (m *SocketManager) transition(id int, to SocketState) {
	m.mu.Lock()
	from := m.table[id].state
	if to == SocketClosed {
		m.table[id].reset()
	} else {
		m.table[id].state = to
	}
	m.mu.Unlock()

	if from != to {
		m.notify(id, from, to)
	}
}

func (m *SocketManager) notify(id int, from, to SocketState) {
	m.log.Debug("socket state", "socket", id, "from", from.String(), "to", to.String())
	if m.observer != nil {
		m.observer(id, from, to)
	}
}

func validID(id int) bool {
	return id >= 0 && id < MaxSockets
}

func staleHandle(op string, id int) error {
	return fmt.Errorf("%s socket %d: identifier was closed and reused: %w", op, id, ErrNotConnected)
}
