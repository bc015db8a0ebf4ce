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
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-eswifi/logger"
)

const (
	maxSSIDLength       = 32
	maxPassphraseLength = 63
	maxHostLength       = 100

	// cleanupTimeout bounds the close issued when a dial or listen fails
	cleanupTimeout = 5 * time.Second
)

// Stack is the network interface backed by one eS-WiFi module. It owns the
// command engine and the socket manager; sockets are handles into it.
//
// Thread Safety: Stack is safe for concurrent use. Operations from different
// goroutines are serialized on the module's single command path in the order
// they arrive.
type Stack struct {
	engine  *Engine
	sockets *SocketManager
	config  *Config
	log     logger.Logger
	network *network
	localIP netip.Addr
	mu      sync.RWMutex
}

// network is the last access point joined, kept for rejoining after a reset
type network struct {
	ssid       string
	passphrase string
	security   Security
}

// New creates a stack on transport. Start must be called before use.
func New(transport Transport, opts ...Option) (*Stack, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	if config.Logger == nil {
		config.Logger = logger.GetLogger()
	}

	engine, err := NewEngine(transport, config)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		engine:  engine,
		sockets: NewSocketManager(engine, config.Logger, config.StateObserver),
		config:  config,
		log:     config.Logger,
	}
	if config.CloseRetryConfig != nil {
		s.sockets.closeRetry = config.CloseRetryConfig
	}
	if _, ok := transport.(ModuleResetter); ok {
		s.sockets.recoverModule = s.recoverModule
	}
	return s, nil
}

// Start resets the module when the transport can, waits for its startup
// prompt and switches it to machine-readable responses. Socket state is
// cleared, since a module that just booted has no open sockets.
func (s *Stack) Start(ctx context.Context) error {
	if err := s.engine.Lock(ctx); err != nil {
		return err
	}
	defer s.engine.Unlock()

	return s.restart(ctx)
}

// restart brings the module back to a known state: no open sockets and no
// association. The caller holds the command path.
func (s *Stack) restart(ctx context.Context) error {
	if resetter, ok := s.engine.Transport().(ModuleResetter); ok {
		if err := resetter.ResetModule(ctx); err != nil {
			return fmt.Errorf("module reset: %w", err)
		}
	}
	if err := s.engine.ReadPrompt(ctx); err != nil {
		return fmt.Errorf("module startup: %w", err)
	}
	if _, err := s.engine.Execute(ctx, SetIntCommand(cmdMachineMode, 1), nil); err != nil {
		return fmt.Errorf("module startup: %w", err)
	}

	s.sockets.Reset()
	s.mu.Lock()
	s.localIP = netip.Addr{}
	s.network = nil
	s.mu.Unlock()
	s.log.Info("eS-WiFi module ready", "transport", s.engine.Transport().Type())
	return nil
}

// Join associates with an access point and returns the address the module
// obtained.
func (s *Stack) Join(ctx context.Context, ssid, passphrase string, security Security) (netip.Addr, error) {
	if ssid == "" || len(ssid) > maxSSIDLength || strings.ContainsAny(ssid, "\r\n") {
		return netip.Addr{}, ErrInvalidSSID
	}
	if len(passphrase) > maxPassphraseLength || strings.ContainsAny(passphrase, "\r\n") ||
		(passphrase == "" && security != SecurityOpen) {
		return netip.Addr{}, ErrInvalidPassword
	}

	if err := s.engine.Lock(ctx); err != nil {
		return netip.Addr{}, err
	}
	defer s.engine.Unlock()

	addr, err := s.join(ctx, ssid, passphrase, security)
	if err != nil {
		return netip.Addr{}, err
	}

	s.mu.Lock()
	s.localIP = addr
	s.network = &network{ssid: ssid, passphrase: passphrase, security: security}
	s.mu.Unlock()

	s.log.Info("joined network", "ssid", ssid, "ip", addr)
	return addr, nil
}

// join runs the association sequence; the caller holds the command path
func (s *Stack) join(ctx context.Context, ssid, passphrase string, security Security) (netip.Addr, error) {
	steps := []struct {
		fail error
		cmd  Command
	}{
		{cmd: SetIntCommand(cmdSecurityMode, 2), fail: ErrInvalidSSID},
		{cmd: SetCommand(cmdSSID, ssid), fail: ErrInvalidSSID},
		{cmd: SetCommand(cmdPassphrase, passphrase), fail: ErrInvalidPassword},
		{cmd: SetIntCommand(cmdSecurityType, int(security)), fail: ErrUnableToAssociate},
	}
	for _, step := range steps {
		if _, err := s.engine.Execute(ctx, step.cmd, nil); err != nil {
			return netip.Addr{}, fmt.Errorf("join %q: %w: %w", ssid, step.fail, err)
		}
	}

	resp, err := s.engine.Execute(ctx, NewCommand(cmdJoin), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("join %q: %w: %w", ssid, ErrUnableToAssociate, err)
	}
	addr, err := resp.Addr()
	if err != nil {
		s.log.Debug("join response without address", "body", string(resp.Body))
		return netip.Addr{}, fmt.Errorf("join %q: %w", ssid, ErrUnableToAssociate)
	}
	return addr, nil
}

// recoverModule restarts a module that stopped acknowledging commands and
// joins the last network again. The caller holds the command path.
func (s *Stack) recoverModule(ctx context.Context) error {
	s.mu.RLock()
	last := s.network
	s.mu.RUnlock()

	if err := s.restart(ctx); err != nil {
		return err
	}
	if last == nil {
		return nil
	}

	addr, err := s.join(ctx, last.ssid, last.passphrase, last.security)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.localIP = addr
	s.network = last
	s.mu.Unlock()
	s.log.Info("rejoined network", "ssid", last.ssid, "ip", addr)
	return nil
}

// LocalAddr returns the address obtained by the last successful Join
func (s *Stack) LocalAddr() netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localIP
}

// LookupHost resolves host through the module's resolver
func (s *Stack) LookupHost(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}
	if host == "" || len(host) > maxHostLength {
		return netip.Addr{}, fmt.Errorf("lookup %q: %w", host, ErrInvalidParameter)
	}

	resp, err := s.engine.Do(ctx, SetCommand(cmdDNSLookup, host), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("lookup %q: %w", host, err)
	}
	addr, err := resp.Addr()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("lookup %q: %w", host, err)
	}
	return addr, nil
}

// Firmware returns the module's identification string
func (s *Stack) Firmware(ctx context.Context) (string, error) {
	resp, err := s.engine.Do(ctx, NewCommand(cmdFirmwareQuery), nil)
	if err != nil {
		return "", fmt.Errorf("firmware query: %w", err)
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// Socket opens a socket of the given protocol on the lowest free identifier
func (s *Stack) Socket(ctx context.Context, proto Protocol) (*Socket, error) {
	h, err := s.sockets.open(ctx, proto)
	if err != nil {
		return nil, err
	}
	return &Socket{stack: s, id: h.id, gen: h.gen}, nil
}

// DialTCP opens a TCP socket and connects it to remote, retrying failed
// connects per the configured RetryConfig. Timeouts are not retried. The
// socket is closed when every attempt fails.
func (s *Stack) DialTCP(ctx context.Context, remote netip.AddrPort) (*Socket, error) {
	sock, err := s.Socket(ctx, ProtocolTCP)
	if err != nil {
		return nil, err
	}

	err = retryWhen(ctx, s.config.RetryConfig, isDialRetryable, func() error {
		return sock.ConnectContext(ctx, remote)
	})
	if err != nil {
		s.cleanup(ctx, sock)
		return nil, err
	}
	return sock, nil
}

// ListenUDP opens a UDP socket bound to port
func (s *Stack) ListenUDP(ctx context.Context, port uint16) (*Socket, error) {
	sock, err := s.Socket(ctx, ProtocolUDP)
	if err != nil {
		return nil, err
	}
	if err := sock.BindContext(ctx, port); err != nil {
		s.cleanup(ctx, sock)
		return nil, err
	}
	return sock, nil
}

// cleanup closes a socket after a failed dial even when ctx is already done
func (s *Stack) cleanup(ctx context.Context, sock *Socket) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	_ = sock.CloseContext(closeCtx)
}

// State returns the state of socket id
func (s *Stack) State(id int) SocketState {
	return s.sockets.State(id)
}

// Sockets returns the socket manager, for callers working with raw identifiers
func (s *Stack) Sockets() *SocketManager {
	return s.sockets
}

// Stats returns the command engine counters
func (s *Stack) Stats() EngineStats {
	return s.engine.Stats()
}

// Close closes the transport. Open sockets are not closed on the module.
func (s *Stack) Close() error {
	if err := s.engine.Transport().Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
