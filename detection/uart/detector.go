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

// Package uart detects eS-WiFi modules on serial ports
package uart

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	eswifi "github.com/ZaparooProject/go-eswifi"
	"github.com/ZaparooProject/go-eswifi/detection"
	uarttransport "github.com/ZaparooProject/go-eswifi/transport/uart"
	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"
)

// lister enumerates serial ports
type lister func() ([]*enumerator.PortDetails, error)

// prober confirms a module on a port and returns its firmware string
type prober func(ctx context.Context, port string, opts *detection.Options) (string, error)

// detector implements the Detector interface for serial ports
type detector struct {
	list  lister
	probe prober
}

// New creates a new serial port detector
func New() detection.Detector {
	return &detector{list: enumerator.GetDetailedPortsList, probe: probeModule}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(eswifi.TransportUART)
}

// Detect lists serial ports and, unless the mode is passive, probes each
// candidate. Ports that do not answer a probe are left out.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	candidates := make([]detection.DeviceInfo, 0, len(ports))
	for _, port := range ports {
		if device, ok := candidate(port, opts); ok {
			candidates = append(candidates, device)
		}
	}
	if opts.Mode == detection.Passive {
		return candidates, nil
	}

	var (
		mu     sync.Mutex
		g      errgroup.Group
		probed = make([]detection.DeviceInfo, 0, len(candidates))
	)
	g.SetLimit(opts.Concurrency)
	for _, device := range candidates {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()

			firmware, err := d.probe(probeCtx, device.Path, opts)
			if err != nil {
				opts.Logger.Debug("serial port did not answer", "port", device.Path, "error", err)
				return nil
			}
			device.Confidence = detection.High
			device.Metadata["firmware"] = firmware

			mu.Lock()
			probed = append(probed, device)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(probed, func(a, b detection.DeviceInfo) int { return cmp.Compare(a.Path, b.Path) })
	return probed, nil
}

// candidate applies the ignore list and the blocklist to one port
func candidate(port *enumerator.PortDetails, opts *detection.Options) (detection.DeviceInfo, bool) {
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	device := detection.DeviceInfo{
		Transport:  string(eswifi.TransportUART),
		Path:       port.Name,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   map[string]string{},
	}
	if !port.IsUSB {
		return device, true
	}

	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	if detection.IsBlocked(vidpid, opts.Blocklist) {
		opts.Logger.Debug("skipping blocklisted serial device", "port", port.Name, "vidpid", vidpid)
		return detection.DeviceInfo{}, false
	}
	if vidpid != "" {
		device.Metadata["vidpid"] = vidpid
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	if port.Product != "" {
		device.Name = fmt.Sprintf("%s (%s)", port.Product, port.Name)
	}
	if vendor, ok := detection.BridgeVendor(port.VID); ok {
		device.Confidence = detection.Medium
		device.Metadata["vendor"] = vendor
	}
	return device, true
}

// probeModule opens the port, waits for the prompt and asks for the
// firmware string
func probeModule(ctx context.Context, port string, opts *detection.Options) (string, error) {
	tr, err := uarttransport.New(ctx, uarttransport.Config{
		Port:         port,
		ReadyTimeout: opts.Timeout,
		OpenRetries:  -1,
	})
	if err != nil {
		return "", err
	}

	stack, err := eswifi.New(tr,
		eswifi.WithLogger(opts.Logger),
		eswifi.WithReadyTimeout(opts.Timeout),
		eswifi.WithCommandTimeout(opts.Timeout),
	)
	if err != nil {
		_ = tr.Close()
		return "", err
	}
	defer func() { _ = stack.Close() }()

	if err := stack.Start(ctx); err != nil {
		return "", err
	}
	return stack.Firmware(ctx)
}
