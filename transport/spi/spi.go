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

// Package spi provides the SPI transport for eS-WiFi modules
package spi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	eswifi "github.com/ZaparooProject/go-eswifi"
	"github.com/ZaparooProject/go-eswifi/internal/frame"
	"github.com/ZaparooProject/go-eswifi/internal/transport"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	defaultSpeed        = 10 * physic.MegaHertz
	defaultReadyTimeout = time.Second
	defaultPollInterval = 10 * time.Millisecond
	defaultSelectSetup  = time.Millisecond
	defaultSelectHold   = 15 * time.Microsecond

	// resetPulse is held on the reset and wakeup lines, and waited after release
	resetPulse = 50 * time.Millisecond
)

// Config configures the SPI transport. Pin names are looked up in the
// periph GPIO registry; Reset and Wakeup are optional.
type Config struct {
	// Bus is the SPI port name; empty selects the first registered port
	Bus       string
	ReadyPin  string
	SelectPin string
	ResetPin  string
	WakeupPin string
	// Speed caps the SPI clock
	Speed physic.Frequency
	// ReadyTimeout bounds each wait for the ready line
	ReadyTimeout time.Duration
	// PollInterval bounds each edge wait while the ready line is low
	PollInterval time.Duration
	// SelectSetup is waited after asserting select, before clocking
	SelectSetup time.Duration
	// SelectHold is waited after releasing select
	SelectHold time.Duration
}

func (c *Config) setDefaults() {
	if c.Speed == 0 {
		c.Speed = defaultSpeed
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SelectSetup == 0 {
		c.SelectSetup = defaultSelectSetup
	}
	if c.SelectHold == 0 {
		c.SelectHold = defaultSelectHold
	}
}

// Pins are the module's control lines
type Pins struct {
	// Ready is driven high by the module while it can take a command or has data
	Ready gpio.PinIn
	// Select is the active-low chip select
	Select gpio.PinOut
	// Reset is the optional active-low reset line
	Reset gpio.PinOut
	// Wakeup is the optional active-low wakeup line
	Wakeup gpio.PinOut
}

// Transport implements the eswifi.Transport interface for the SPI link.
// Each Exchange is one select cycle gated on the ready line.
type Transport struct {
	conn    spi.Conn
	port    io.Closer
	pins    Pins
	name    string
	config  Config
	discard [frame.MaxFrameSize]byte
	mu      sync.Mutex
	closed  bool
}

// New opens the SPI port and pins named in config
func New(config Config) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	config.setDefaults()

	port, err := spireg.Open(config.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", config.Bus, err)
	}
	// select is driven as a GPIO so it can span the whole word loop
	conn, err := port.Connect(config.Speed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to configure SPI port %q: %w", config.Bus, err)
	}

	pins, err := lookupPins(config)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	t, err := NewWithConn(conn, pins, config)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	t.port = port
	t.name = port.String()
	return t, nil
}

func lookupPins(config Config) (Pins, error) {
	var pins Pins
	ready := gpioreg.ByName(config.ReadyPin)
	if ready == nil {
		return pins, fmt.Errorf("%w: ready pin %q not found", eswifi.ErrInvalidParameter, config.ReadyPin)
	}
	sel := gpioreg.ByName(config.SelectPin)
	if sel == nil {
		return pins, fmt.Errorf("%w: select pin %q not found", eswifi.ErrInvalidParameter, config.SelectPin)
	}
	pins.Ready, pins.Select = ready, sel

	if config.ResetPin != "" {
		if pins.Reset = gpioreg.ByName(config.ResetPin); pins.Reset == nil {
			return pins, fmt.Errorf("%w: reset pin %q not found", eswifi.ErrInvalidParameter, config.ResetPin)
		}
	}
	if config.WakeupPin != "" {
		if pins.Wakeup = gpioreg.ByName(config.WakeupPin); pins.Wakeup == nil {
			return pins, fmt.Errorf("%w: wakeup pin %q not found", eswifi.ErrInvalidParameter, config.WakeupPin)
		}
	}
	return pins, nil
}

// NewWithConn creates a transport on an already connected SPI bus
func NewWithConn(conn spi.Conn, pins Pins, config Config) (*Transport, error) {
	if conn == nil || pins.Ready == nil || pins.Select == nil {
		return nil, fmt.Errorf("%w: SPI transport needs a bus, a ready pin and a select pin", eswifi.ErrInvalidParameter)
	}
	config.setDefaults()

	if err := pins.Ready.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to configure ready pin: %w", err)
	}
	if err := pins.Select.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to configure select pin: %w", err)
	}

	return &Transport{
		conn:   conn,
		pins:   pins,
		name:   conn.String(),
		config: config,
	}, nil
}

// Exchange performs one select cycle: it waits for the ready line, then
// either shifts out tx or, with tx empty, reads words into rx while the
// module keeps ready high. done is true once the module dropped ready.
func (t *Transport) Exchange(ctx context.Context, tx, rx []byte) (int, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false, eswifi.NewTransportError("exchange", t.name, eswifi.ErrTransportClosed, eswifi.ErrorTypePermanent)
	}
	if len(tx)%frame.WordSize != 0 || len(rx)%frame.WordSize != 0 {
		return 0, false, fmt.Errorf("%w: SPI frames must be whole words", eswifi.ErrInvalidParameter)
	}

	if err := t.waitReady(ctx); err != nil {
		return 0, false, err
	}

	if err := t.selectModule(); err != nil {
		return 0, false, err
	}
	n, done, err := t.transfer(tx, rx)
	if derr := t.deselect(); err == nil {
		err = derr
	}
	return n, done, err
}

func (t *Transport) transfer(tx, rx []byte) (int, bool, error) {
	if len(tx) > 0 {
		for off := 0; off < len(tx); off += len(t.discard) {
			chunk := tx[off:min(off+len(t.discard), len(tx))]
			if err := t.conn.Tx(chunk, t.discard[:len(chunk)]); err != nil {
				return 0, false, eswifi.NewBusFaultError("write", t.name, err)
			}
		}
		return 0, true, nil
	}

	fill := [frame.WordSize]byte{frame.Pad, frame.Pad}
	n := 0
	for n < len(rx) {
		if t.pins.Ready.Read() == gpio.Low {
			return n, true, nil
		}
		if err := t.conn.Tx(fill[:], rx[n:n+frame.WordSize]); err != nil {
			return n, false, eswifi.NewBusFaultError("read", t.name, err)
		}
		n += frame.WordSize
	}
	return n, t.pins.Ready.Read() == gpio.Low, nil
}

// waitReady waits for the module to raise the ready line
func (t *Transport) waitReady(ctx context.Context) error {
	_, err := transport.Poll(ctx, transport.PollConfig{
		Op:      "waitReady",
		Port:    t.name,
		Timeout: t.config.ReadyTimeout,
	}, func() (struct{}, bool, error) {
		if t.pins.Ready.Read() == gpio.High {
			return struct{}{}, false, nil
		}
		t.pins.Ready.WaitForEdge(t.config.PollInterval)
		return struct{}{}, true, nil
	})
	return err
}

func (t *Transport) selectModule() error {
	if err := t.pins.Select.Out(gpio.Low); err != nil {
		return eswifi.NewBusFaultError("select", t.name, err)
	}
	time.Sleep(t.config.SelectSetup)
	return nil
}

func (t *Transport) deselect() error {
	if err := t.pins.Select.Out(gpio.High); err != nil {
		return eswifi.NewBusFaultError("deselect", t.name, err)
	}
	time.Sleep(t.config.SelectHold)
	return nil
}

// ResetModule pulses the reset and wakeup lines when they are wired. The
// module boots and prints its prompt afterwards.
func (t *Transport) ResetModule(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, line := range []struct {
		pin  gpio.PinOut
		name string
	}{
		{pin: t.pins.Reset, name: "reset"},
		{pin: t.pins.Wakeup, name: "wakeup"},
	} {
		if line.pin == nil {
			continue
		}
		if err := pulse(ctx, line.pin); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return eswifi.NewBusFaultError(line.name, t.name, err)
		}
	}
	return nil
}

func pulse(ctx context.Context, pin gpio.PinOut) error {
	if err := pin.Out(gpio.Low); err != nil {
		return err
	}
	waitErr := sleep(ctx, resetPulse)
	if err := pin.Out(gpio.High); err != nil {
		return err
	}
	if waitErr != nil {
		return waitErr
	}
	return sleep(ctx, resetPulse)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetTimeout sets how long an exchange waits for the ready line
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", eswifi.ErrInvalidParameter)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.ReadyTimeout = timeout
	return nil
}

// Close releases the select line and the SPI port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	err := t.pins.Select.Out(gpio.High)
	if t.port != nil {
		err = errors.Join(err, t.port.Close())
	}
	if err != nil {
		return fmt.Errorf("failed to close SPI transport: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() eswifi.TransportType {
	return eswifi.TransportSPI
}

// HasCapability implements eswifi.TransportCapabilityChecker
func (*Transport) HasCapability(capability eswifi.TransportCapability) bool {
	switch capability {
	case eswifi.CapabilityWordFraming, eswifi.CapabilityReadySignal:
		return true
	default:
		return false
	}
}

// Ensure Transport implements eswifi.Transport
var (
	_ eswifi.Transport                  = (*Transport)(nil)
	_ eswifi.TransportCapabilityChecker = (*Transport)(nil)
	_ eswifi.ModuleResetter             = (*Transport)(nil)
)
