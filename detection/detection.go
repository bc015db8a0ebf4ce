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

// Package detection finds eS-WiFi modules attached to the host.
//
// Detectors register themselves on import. DetectAll runs every registered
// detector and merges what they found.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-eswifi/logger"
)

// Mode controls how intrusive detection is allowed to be
type Mode int

const (
	// Passive only lists ports; nothing is written to them
	Passive Mode = iota
	// Safe probes each candidate with the startup and firmware queries
	Safe
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a device is an eS-WiFi module
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// DeviceInfo describes a detected module
type DeviceInfo struct {
	Metadata   map[string]string
	Transport  string
	Path       string
	Name       string
	Confidence Confidence
}

// Firmware returns the identification string a probe read, if any
func (d DeviceInfo) Firmware() string {
	return d.Metadata["firmware"]
}

// Options configures detection
type Options struct {
	Logger logger.Logger
	// Blocklist holds VID:PID pairs that are never probed
	Blocklist []string
	// IgnorePaths holds device paths that are skipped entirely
	IgnorePaths []string
	Mode        Mode
	// Timeout bounds each probe
	Timeout time.Duration
	// Concurrency caps how many ports are probed at once
	Concurrency int
}

const (
	defaultProbeTimeout = 2 * time.Second
	defaultConcurrency  = 4
)

// DefaultOptions returns options for a safe, probing detection
func DefaultOptions() Options {
	return Options{
		Blocklist:   DefaultBlocklist(),
		Mode:        Safe,
		Timeout:     defaultProbeTimeout,
		Concurrency: defaultConcurrency,
	}
}

// WithDefaults returns a copy of o with zero values replaced by defaults
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.GetLogger()
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultProbeTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	return o
}

// Detector finds modules reachable over one transport
type Detector interface {
	Transport() string
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

// Detection errors
var (
	ErrNoDevicesFound      = errors.New("no eS-WiFi modules found")
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
)

var (
	detectorsMu sync.RWMutex
	detectors   = make(map[string]Detector)
)

// RegisterDetector makes a detector available to DetectAll. A later
// registration for the same transport replaces the earlier one.
func RegisterDetector(d Detector) {
	detectorsMu.Lock()
	defer detectorsMu.Unlock()
	detectors[d.Transport()] = d
}

// DetectAll runs every registered detector
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectorsMu.RLock()
	registered := make([]Detector, 0, len(detectors))
	for _, d := range detectors {
		registered = append(registered, d)
	}
	detectorsMu.RUnlock()

	return detectWith(ctx, opts, registered)
}

func detectWith(ctx context.Context, opts *Options, registered []Detector) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	resolved := opts.WithDefaults()

	var (
		found []DeviceInfo
		errs  []error
	)
	for _, d := range registered {
		devices, err := d.Detect(ctx, &resolved)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrUnsupportedPlatform) {
				errs = append(errs, fmt.Errorf("%s: %w", d.Transport(), err))
			}
			continue
		}
		found = append(found, devices...)
	}

	if len(found) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoDevicesFound
	}
	for _, err := range errs {
		resolved.Logger.Warn("detector failed", "error", err)
	}

	// most likely devices first, then by path for stable output
	slices.SortStableFunc(found, func(a, b DeviceInfo) int {
		if a.Confidence != b.Confidence {
			return int(b.Confidence) - int(a.Confidence)
		}
		return strings.Compare(a.Path, b.Path)
	})
	return found, nil
}
