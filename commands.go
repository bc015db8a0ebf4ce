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

// eS-WiFi AT command codes
const (
	cmdMachineMode   = "MT" // 1 selects machine-readable responses
	cmdSecurityMode  = "CB"
	cmdSSID          = "C1"
	cmdPassphrase    = "C2"
	cmdSecurityType  = "C3"
	cmdJoin          = "C0"
	cmdDNSLookup     = "D0"
	cmdSocketSelect  = "P0"
	cmdProtocol      = "P1"
	cmdLocalPort     = "P2"
	cmdRemoteHost    = "P3"
	cmdRemotePort    = "P4"
	cmdServer        = "P5"
	cmdClient        = "P6"
	cmdSocketInfo    = "P?"
	cmdWrite         = "S3"
	cmdReadData      = "R0"
	cmdReadSize      = "R1"
	cmdFirmwareQuery = "I?"
)

// Buffer limits. Every buffer in the driver is a fixed array of one of these sizes.
const (
	// MaxCommandLength bounds one command line, without its terminator
	MaxCommandLength = 128
	// MaxWriteChunk is the largest payload the module accepts per write command
	MaxWriteChunk = 1200
	// FrameCapacity bounds one encoded bus transaction
	FrameCapacity = 1400
	// MaxReadChunk is the largest read the module serves per read command
	MaxReadChunk = 1460
	// MaxDiagnostic bounds the diagnostic text kept from an error response
	MaxDiagnostic = 64
	// MaxSockets is the number of socket identifiers the module supports
	MaxSockets = 4
)

// Protocol selects the transport protocol of a socket
type Protocol uint8

// Socket protocols, numbered as the module expects them
const (
	ProtocolTCP Protocol = 0
	ProtocolUDP Protocol = 1
	ProtocolTLS Protocol = 3
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Security is the WiFi security type passed to the join sequence
type Security uint8

// Security types
const (
	SecurityOpen    Security = 0
	SecurityWEP     Security = 1
	SecurityWPA     Security = 2
	SecurityWPA2    Security = 3
	SecurityWPAWPA2 Security = 4
)
