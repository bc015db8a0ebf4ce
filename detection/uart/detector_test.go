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

package uart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-eswifi/detection"
	"github.com/ZaparooProject/go-eswifi/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

const firmware = "ISM43362-M3G-L44-UART,C3.5.2.5.STM"

func ports() []*enumerator.PortDetails {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "0483", PID: "374b", SerialNumber: "066DFF", Product: "STLink Virtual COM Port"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001"},
		{Name: "/dev/ttyAMA0"},
	}
}

func listPorts() ([]*enumerator.PortDetails, error) {
	return ports(), nil
}

func testOptions(mode detection.Mode) *detection.Options {
	opts := detection.Options{
		Logger:      logger.Discard(),
		Blocklist:   detection.DefaultBlocklist(),
		IgnorePaths: []string{"/dev/ttyAMA0"},
		Mode:        mode,
	}.WithDefaults()
	return &opts
}

func TestDetect_Passive(t *testing.T) {
	t.Parallel()

	d := &detector{list: listPorts, probe: func(context.Context, string, *detection.Options) (string, error) {
		t.Error("passive detection must not probe")
		return "", nil
	}}

	got, err := d.Detect(context.Background(), testOptions(detection.Passive))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "/dev/ttyACM0", got[0].Path)
	assert.Equal(t, "STLink Virtual COM Port (/dev/ttyACM0)", got[0].Name)
	assert.Equal(t, detection.Medium, got[0].Confidence)
	assert.Equal(t, "0483:374B", got[0].Metadata["vidpid"])
	assert.Equal(t, "066DFF", got[0].Metadata["serial"])
	assert.Equal(t, "STMicroelectronics", got[0].Metadata["vendor"])

	assert.Equal(t, "/dev/ttyUSB1", got[1].Path)
	assert.Equal(t, "uart", got[1].Transport)
}

func TestDetect_NonUSBPortIsLowConfidence(t *testing.T) {
	t.Parallel()

	d := &detector{list: listPorts}
	opts := testOptions(detection.Passive)
	opts.IgnorePaths = nil

	got, err := d.Detect(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "/dev/ttyAMA0", got[2].Path)
	assert.Equal(t, detection.Low, got[2].Confidence)
	assert.Empty(t, got[2].Metadata)
}

func TestDetect_Probe(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		probed []string
	)
	d := &detector{list: listPorts, probe: func(_ context.Context, port string, _ *detection.Options) (string, error) {
		mu.Lock()
		probed = append(probed, port)
		mu.Unlock()
		if port == "/dev/ttyUSB1" {
			return "", errors.New("no prompt")
		}
		return firmware, nil
	}}

	got, err := d.Detect(context.Background(), testOptions(detection.Safe))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/dev/ttyACM0", got[0].Path)
	assert.Equal(t, detection.High, got[0].Confidence)
	assert.Equal(t, firmware, got[0].Firmware())
	assert.ElementsMatch(t, []string{"/dev/ttyACM0", "/dev/ttyUSB1"}, probed)
}

func TestDetect_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	many := func() ([]*enumerator.PortDetails, error) {
		var out []*enumerator.PortDetails
		for _, name := range []string{"COM1", "COM2", "COM3", "COM4", "COM5", "COM6"} {
			out = append(out, &enumerator.PortDetails{Name: name})
		}
		return out, nil
	}
	var inFlight, peak atomic.Int32
	d := &detector{list: many, probe: func(context.Context, string, *detection.Options) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return firmware, nil
	}}

	opts := testOptions(detection.Safe)
	opts.Concurrency = 2
	got, err := d.Detect(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.Equal(t, "COM1", got[0].Path)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDetect_ProbeTimeout(t *testing.T) {
	t.Parallel()

	d := &detector{list: listPorts, probe: func(ctx context.Context, _ string, _ *detection.Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	opts := testOptions(detection.Safe)
	opts.Timeout = 5 * time.Millisecond

	got, err := d.Detect(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := &detector{list: listPorts, probe: func(context.Context, string, *detection.Options) (string, error) {
		cancel()
		return firmware, nil
	}}

	_, err := d.Detect(ctx, testOptions(detection.Safe))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDetect_ListError(t *testing.T) {
	t.Parallel()

	errEnum := errors.New("enumeration failed")
	d := &detector{list: func() ([]*enumerator.PortDetails, error) { return nil, errEnum }}
	_, err := d.Detect(context.Background(), testOptions(detection.Safe))
	require.ErrorIs(t, err, errEnum)
}

func TestProbeModule_MissingPort(t *testing.T) {
	t.Parallel()

	_, err := probeModule(context.Background(), "/dev/eswifi-does-not-exist", testOptions(detection.Safe))
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	d := New()
	assert.Equal(t, "uart", d.Transport())
}
