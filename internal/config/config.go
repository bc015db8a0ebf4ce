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

// Package config loads the YAML board file used by the command line tool
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names
const (
	TransportSPI  = "spi"
	TransportUART = "uart"
)

// Config describes how the module is wired and how the driver talks to it
type Config struct {
	Transport string        `yaml:"transport"`
	SPI       SPIConfig     `yaml:"spi"`
	UART      UARTConfig    `yaml:"uart"`
	Driver    DriverConfig  `yaml:"driver"`
	Network   NetworkConfig `yaml:"network"`
}

// ---- TRANSPORTS ----

// SPIConfig names the SPI port and control lines in the periph registries
type SPIConfig struct {
	Bus            string `yaml:"bus"`
	ReadyPin       string `yaml:"ready_pin"`
	SelectPin      string `yaml:"select_pin"`
	ResetPin       string `yaml:"reset_pin"`
	WakeupPin      string `yaml:"wakeup_pin"`
	SpeedHz        int64  `yaml:"speed_hz"`
	ReadyTimeoutMs int    `yaml:"ready_timeout_ms"`
}

// UARTConfig names the serial device
type UARTConfig struct {
	Port           string `yaml:"port"`
	BaudRate       int    `yaml:"baud_rate"`
	ReadyTimeoutMs int    `yaml:"ready_timeout_ms"`
}

// ---- DRIVER ----

// DriverConfig tunes the command engine
type DriverConfig struct {
	// Echo is optional; modules echo commands unless told otherwise
	Echo             *bool `yaml:"echo"`
	CommandTimeoutMs int   `yaml:"command_timeout_ms"`
	GateWaitMs       int   `yaml:"gate_wait_ms"`
	Debug            bool  `yaml:"debug"`
}

// ---- NETWORK ----

// NetworkConfig is the access point joined before socket commands
type NetworkConfig struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	Security   string `yaml:"security"`
}

// Load reads and decodes the YAML file at path. Unknown keys are rejected.
// The result is neither validated nor normalized.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode reads a configuration from r
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ReadyTimeout returns the ready timeout of the selected transport
func (c *Config) ReadyTimeout() time.Duration {
	if c.Transport == TransportUART {
		return millis(c.UART.ReadyTimeoutMs)
	}
	return millis(c.SPI.ReadyTimeoutMs)
}

// CommandTimeout returns the engine's per-command timeout
func (c *Config) CommandTimeout() time.Duration {
	return millis(c.Driver.CommandTimeoutMs)
}

// GateWait returns the engine's command path wait
func (c *Config) GateWait() time.Duration {
	return millis(c.Driver.GateWaitMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
