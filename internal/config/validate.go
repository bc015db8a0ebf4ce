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

import (
	"fmt"
	"strings"

	eswifi "github.com/ZaparooProject/go-eswifi"
)

const (
	maxSSIDLength       = 32
	maxPassphraseLength = 63
)

var securityNames = map[string]eswifi.Security{
	"open":     eswifi.SecurityOpen,
	"wep":      eswifi.SecurityWEP,
	"wpa":      eswifi.SecurityWPA,
	"wpa2":     eswifi.SecurityWPA2,
	"wpa-wpa2": eswifi.SecurityWPAWPA2,
}

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty configuration", eswifi.ErrInvalidParameter)
	}

	switch strings.ToLower(cfg.Transport) {
	case TransportSPI:
		if cfg.SPI.ReadyPin == "" || cfg.SPI.SelectPin == "" {
			return fmt.Errorf("%w: spi: ready_pin and select_pin are required", eswifi.ErrInvalidParameter)
		}
		if cfg.SPI.SpeedHz < 0 {
			return fmt.Errorf("%w: spi: speed_hz must not be negative", eswifi.ErrInvalidParameter)
		}
	case TransportUART:
		if cfg.UART.Port == "" {
			return fmt.Errorf("%w: uart: port is required", eswifi.ErrInvalidParameter)
		}
		if cfg.UART.BaudRate < 0 {
			return fmt.Errorf("%w: uart: baud_rate must not be negative", eswifi.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%w: transport %q, want %q or %q",
			eswifi.ErrInvalidParameter, cfg.Transport, TransportSPI, TransportUART)
	}

	for name, ms := range map[string]int{
		"spi.ready_timeout_ms":      cfg.SPI.ReadyTimeoutMs,
		"uart.ready_timeout_ms":     cfg.UART.ReadyTimeoutMs,
		"driver.command_timeout_ms": cfg.Driver.CommandTimeoutMs,
		"driver.gate_wait_ms":       cfg.Driver.GateWaitMs,
	} {
		if ms < 0 {
			return fmt.Errorf("%w: %s must not be negative", eswifi.ErrInvalidParameter, name)
		}
	}

	return validateNetwork(cfg.Network)
}

// validateNetwork accepts an empty section; join needs an SSID only when used
func validateNetwork(n NetworkConfig) error {
	if len(n.SSID) > maxSSIDLength {
		return fmt.Errorf("network: %w: longer than %d bytes", eswifi.ErrInvalidSSID, maxSSIDLength)
	}
	if len(n.Passphrase) > maxPassphraseLength {
		return fmt.Errorf("network: %w: longer than %d bytes", eswifi.ErrInvalidPassword, maxPassphraseLength)
	}
	if n.Security == "" {
		return nil
	}
	if _, ok := securityNames[strings.ToLower(n.Security)]; !ok {
		return fmt.Errorf("%w: network: unknown security %q", eswifi.ErrInvalidParameter, n.Security)
	}
	return nil
}

// SecurityType returns the configured security type. Without an explicit type
// a passphrase implies WPA2 and no passphrase an open network.
func (n NetworkConfig) SecurityType() eswifi.Security {
	if sec, ok := securityNames[strings.ToLower(n.Security)]; ok {
		return sec
	}
	if n.Passphrase == "" {
		return eswifi.SecurityOpen
	}
	return eswifi.SecurityWPA2
}
