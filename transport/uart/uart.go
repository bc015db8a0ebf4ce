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

// Package uart provides the serial transport for eS-WiFi modules
package uart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
	"github.com/ZaparooProject/go-eswifi/internal/response"
	"github.com/ZaparooProject/go-eswifi/internal/transport"
	"go.bug.st/serial"
)

const (
	defaultBaudRate       = 115200
	defaultReadyTimeout   = 2 * time.Second
	defaultPollInterval   = 20 * time.Millisecond
	defaultOpenRetries    = 3
	defaultOpenRetryDelay = 100 * time.Millisecond
)

// Port is the part of serial.Port the transport uses
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Config configures the UART transport
type Config struct {
	// Port is the serial device, e.g. /dev/ttyUSB0
	Port     string
	BaudRate int
	// ReadyTimeout bounds how long a read waits for the first byte
	ReadyTimeout time.Duration
	// PollInterval is the serial read timeout used while waiting
	PollInterval time.Duration
	// OpenRetries is how often a busy port is retried
	OpenRetries    int
	OpenRetryDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.BaudRate <= 0 {
		c.BaudRate = defaultBaudRate
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.OpenRetries < 0 {
		c.OpenRetries = 0
	} else if c.OpenRetries == 0 {
		c.OpenRetries = defaultOpenRetries
	}
	if c.OpenRetryDelay <= 0 {
		c.OpenRetryDelay = defaultOpenRetryDelay
	}
}

// Transport implements the eswifi.Transport interface over a serial link.
// There is no ready line: a response is complete once the module prints
// its prompt.
type Transport struct {
	port   Port
	name   string
	config Config
	// tail holds the last bytes of the current response
	tail   [len("\r\n> ")]byte
	ntail  int
	mu     sync.Mutex
	closed bool
}

// New opens the serial port named in config. A busy port is retried.
func New(ctx context.Context, config Config) (*Transport, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("%w: serial port name is required", eswifi.ErrInvalidParameter)
	}
	config.setDefaults()

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := transport.WithRetry(ctx, transport.RetryConfig{
		Description: "open",
		Port:        config.Port,
		MaxRetries:  config.OpenRetries,
		RetryDelay:  config.OpenRetryDelay,
	}, func() (serial.Port, bool, error) {
		p, err := serial.Open(config.Port, mode)
		if err == nil {
			return p, false, nil
		}
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("failed to open serial port %q: %w", config.Port, err)
	})
	if err != nil {
		return nil, err
	}

	t, err := NewWithPort(port, config)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort creates a transport on an already open port
func NewWithPort(port Port, config Config) (*Transport, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil serial port", eswifi.ErrInvalidParameter)
	}
	config.setDefaults()

	if err := port.SetReadTimeout(config.PollInterval); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	// stale output from before the host attached
	if err := port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}

	return &Transport{
		port:   port,
		name:   config.Port,
		config: config,
	}, nil
}

// Exchange writes tx, or with tx empty reads whatever the module has sent
// into rx. A read waits up to the ready timeout for the first byte; done
// is reported once the prompt closing the response has been seen.
func (t *Transport) Exchange(ctx context.Context, tx, rx []byte) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false, eswifi.NewTransportError("exchange", t.name, eswifi.ErrTransportClosed, eswifi.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	if len(tx) > 0 {
		return 0, true, t.write(tx)
	}
	if len(rx) == 0 {
		return 0, false, fmt.Errorf("%w: empty exchange", eswifi.ErrInvalidParameter)
	}
	return t.read(ctx, rx)
}

func (t *Transport) write(tx []byte) error {
	t.ntail = 0
	for off := 0; off < len(tx); {
		n, err := t.port.Write(tx[off:])
		if err != nil {
			return eswifi.NewBusFaultError("write", t.name, err)
		}
		if n == 0 {
			return eswifi.NewBusFaultError("write", t.name, errors.New("short write"))
		}
		off += n
	}
	return nil
}

func (t *Transport) read(ctx context.Context, rx []byte) (int, bool, error) {
	n, err := transport.Poll(ctx, transport.PollConfig{
		Op:      "read",
		Port:    t.name,
		Timeout: t.config.ReadyTimeout,
	}, func() (int, bool, error) {
		// the port's own read timeout paces the loop
		n, err := t.port.Read(rx)
		if err != nil {
			return 0, false, eswifi.NewBusFaultError("read", t.name, err)
		}
		return n, n == 0, nil
	})
	if err != nil {
		return 0, false, err
	}

	t.track(rx[:n])
	return n, bytes.Equal(t.tail[:t.ntail], response.Prompt), nil
}

// track keeps the last len(tail) bytes seen since the last write
func (t *Transport) track(b []byte) {
	if len(b) >= len(t.tail) {
		t.ntail = copy(t.tail[:], b[len(b)-len(t.tail):])
		return
	}
	keep := min(t.ntail, len(t.tail)-len(b))
	copy(t.tail[:], t.tail[t.ntail-keep:t.ntail])
	t.ntail = keep + copy(t.tail[keep:], b)
}

// SetTimeout sets how long a read waits for the module to answer
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", eswifi.ErrInvalidParameter)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.ReadyTimeout = timeout
	return nil
}

// Close closes the serial port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() eswifi.TransportType {
	return eswifi.TransportUART
}

// HasCapability implements eswifi.TransportCapabilityChecker
func (*Transport) HasCapability(eswifi.TransportCapability) bool {
	return false
}

var (
	_ eswifi.Transport                  = (*Transport)(nil)
	_ eswifi.TransportCapabilityChecker = (*Transport)(nil)
	_ Port                              = (serial.Port)(nil)
)
