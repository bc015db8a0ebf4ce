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
	"net/netip"
)

// SocketState is the lifecycle state of one socket identifier
type SocketState uint8

const (
	// SocketClosed is the idle state; the identifier is free
	SocketClosed SocketState = iota
	// SocketConfiguring is held while the open sequence runs
	SocketConfiguring
	// SocketOpen has a protocol configured but no peer
	SocketOpen
	// SocketConnected is an active client connection
	SocketConnected
	// SocketBound is a passive UDP socket on a local port
	SocketBound
	// SocketClosing is held while the close sequence runs
	SocketClosing
)

func (s SocketState) String() string {
	switch s {
	case SocketClosed:
		return "closed"
	case SocketConfiguring:
		return "configuring"
	case SocketOpen:
		return "open"
	case SocketConnected:
		return "connected"
	case SocketBound:
		return "bound"
	case SocketClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StateObserver is notified of every socket state transition. It is called
// with the manager's table lock released but the command path held, so it
// must not issue socket operations.
type StateObserver func(id int, from, to SocketState)

// socketEntry is the authoritative record for one identifier
type socketEntry struct {
	remote netip.AddrPort
	// generation counts claims; handles from an earlier claim are stale
	generation uint64
	localPort  uint16
	protocol   Protocol
	state      SocketState
}

// canSend reports whether data may be written in the current state
func (e *socketEntry) canSend(hasDestination bool) bool {
	switch e.state {
	case SocketConnected:
		return true
	case SocketBound:
		return hasDestination
	default:
		return false
	}
}

// canReceive reports whether the module may hold data for this socket
func (e *socketEntry) canReceive() bool {
	return e.state == SocketConnected || e.state == SocketBound
}

// reset returns the entry to the idle state, keeping its generation
func (e *socketEntry) reset() {
	*e = socketEntry{generation: e.generation}
}

// SocketInfo is the module's view of a socket as reported by the info query
type SocketInfo struct {
	Remote    netip.AddrPort
	ID        int
	LocalPort uint16
	Protocol  Protocol
	Active    bool
}
