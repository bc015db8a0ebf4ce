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

// Package frame provides frame manipulation and protocol constants for eS-WiFi communication
package frame

// Wire filler bytes
const (
	Pad    = 0x0A // Appended by the host to odd-length frames ('\n', ignored by the module)
	Filler = 0x15 // Clocked out by the module when it has nothing to send (NAK)
)

// Command line markers
const (
	LineTerminator = '\r'     // Terminates every AT command line
	Prompt         = "\r\n> " // Module is idle and accepts a new command
)

// Frame size limits
const (
	WordSize      = 2    // The module shifts 16-bit words
	MaxFrameSize  = 1400 // Largest frame accepted in a single transaction
	MaxWriteChunk = 1200 // Largest payload accepted by one write command
)
