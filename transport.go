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
	"time"
)

// Transport defines the interface for bus transactions with an eS-WiFi module.
// This can be implemented by SPI or UART backends.
type Transport interface {
	// Exchange performs one bus transaction. tx is shifted out once the
	// module signals ready; while the module keeps data pending, up to
	// len(rx) bytes are captured into rx. done reports that the module has
	// no more data for the current response.
	Exchange(ctx context.Context, tx, rx []byte) (n int, done bool, err error)

	// SetTimeout sets how long a transaction waits for the module to become ready
	SetTimeout(timeout time.Duration) error

	// Close releases the bus and signal lines
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSPI represents the ready-signaled SPI link.
	TransportSPI TransportType = "spi"
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportCapability represents specific capabilities or behaviors of a transport
type TransportCapability string

const (
	// CapabilityWordFraming indicates the link shifts 16-bit words, so frames
	// must be padded to even length and byte-swapped per word
	CapabilityWordFraming TransportCapability = "word_framing"

	// CapabilityReadySignal indicates the transport waits on a hardware ready line
	CapabilityReadySignal TransportCapability = "ready_signal"
)

// TransportCapabilityChecker defines an interface for querying transport capabilities
type TransportCapabilityChecker interface {
	// HasCapability returns true if the transport has the specified capability
	HasCapability(capability TransportCapability) bool
}

// HasCapability reports whether t advertises capability
func HasCapability(t Transport, capability TransportCapability) bool {
	if checker, ok := t.(TransportCapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return false
}

// ModuleResetter is implemented by transports wired to the module's reset line
type ModuleResetter interface {
	// ResetModule reboots the module; it prints its prompt once ready
	ResetModule(ctx context.Context) error
}
