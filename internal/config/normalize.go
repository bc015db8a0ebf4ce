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

package config

import "strings"

// Defaults applied by Normalize
const (
	DefaultSPIReadyTimeoutMs  = 1000
	DefaultUARTReadyTimeoutMs = 2000
	DefaultBaudRate           = 115200
	DefaultCommandTimeoutMs   = 10000
	DefaultGateWaitMs         = 30000
)

// Normalize applies post-validation normalization.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Transport = strings.ToLower(cfg.Transport)
	cfg.Network.Security = strings.ToLower(cfg.Network.Security)

	if cfg.SPI.ReadyTimeoutMs == 0 {
		cfg.SPI.ReadyTimeoutMs = DefaultSPIReadyTimeoutMs
	}
	if cfg.UART.ReadyTimeoutMs == 0 {
		cfg.UART.ReadyTimeoutMs = DefaultUARTReadyTimeoutMs
	}
	if cfg.UART.BaudRate == 0 {
		cfg.UART.BaudRate = DefaultBaudRate
	}
	if cfg.Driver.CommandTimeoutMs == 0 {
		cfg.Driver.CommandTimeoutMs = DefaultCommandTimeoutMs
	}
	if cfg.Driver.GateWaitMs == 0 {
		cfg.Driver.GateWaitMs = DefaultGateWaitMs
	}
	if cfg.Driver.Echo == nil {
		echo := true
		cfg.Driver.Echo = &echo
	}
}
