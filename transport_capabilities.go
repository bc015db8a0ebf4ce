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
	"time"
)

// TransportTuner lets a transport supply its own engine parameters
type TransportTuner interface {
	// TuneEngine returns transport-specific engine parameters
	TuneEngine() *TransportParams
}

// TransportParams contains transport-tuned engine parameters
type TransportParams struct {
	// ReadChunk is the number of bytes requested per read exchange
	ReadChunk int
	// CommandTimeout bounds one command when the caller set no deadline
	CommandTimeout time.Duration
	// ReadyTimeout is applied to the transport at engine construction
	ReadyTimeout time.Duration
}

// transportParams returns tuned parameters for t
func transportParams(t Transport) *TransportParams {
	if tuner, ok := t.(TransportTuner); ok {
		if params := tuner.TuneEngine(); params != nil {
			return params
		}
	}

	switch t.Type() {
	case TransportSPI:
		return spiParams()
	case TransportUART:
		return uartParams()
	case TransportMock:
		// Mock transport uses default parameters for testing
		return defaultParams()
	default:
		return defaultParams()
	}
}

// spiParams: the module streams one response per select, so large chunks
// keep the number of select cycles low
func spiParams() *TransportParams {
	return &TransportParams{
		ReadChunk:      FrameCapacity,
		CommandTimeout: 10 * time.Second,
		ReadyTimeout:   time.Second,
	}
}

// uartParams: serial reads return whatever arrived, smaller chunks suffice
func uartParams() *TransportParams {
	return &TransportParams{
		ReadChunk:      256,
		CommandTimeout: 15 * time.Second,
		ReadyTimeout:   2 * time.Second,
	}
}

func defaultParams() *TransportParams {
	return &TransportParams{
		ReadChunk:      256,
		CommandTimeout: 10 * time.Second,
		ReadyTimeout:   time.Second,
	}
}
