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

package detection

import (
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB devices that should not be probed. Writing
// to them is known to upset the attached hardware.
// Format: VID:PID in hexadecimal (case-insensitive).
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno: opening the port resets the board
		"2341:0001", // Arduino Uno (older firmware)
		"1366:0105", // SEGGER J-Link VCOM
	}
}

// IsBlocked checks if a USB device is in the blocklist
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// FormatVIDPID joins a USB vendor and product ID into the blocklist format.
// It returns "" unless both are hexadecimal.
func FormatVIDPID(vid, pid string) string {
	vid, pid = strings.TrimSpace(vid), strings.TrimSpace(pid)
	if !isHex(vid) || !isHex(pid) {
		return ""
	}
	return strings.ToUpper(vid + ":" + pid)
}

// knownBridges are USB serial bridges found on eS-WiFi evaluation boards
var knownBridges = map[string]string{
	"0483": "STMicroelectronics", // ST-LINK virtual COM port on the IoT nodes
	"0403": "FTDI",
	"10C4": "Silicon Labs",
	"1A86": "WCH",
}

// BridgeVendor names the vendor of a known USB serial bridge
func BridgeVendor(vid string) (string, bool) {
	name, ok := knownBridges[strings.ToUpper(strings.TrimSpace(vid))]
	return name, ok
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsPathIgnored checks if a device path should be ignored.
// Paths are compared after cleaning and case folding.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath || normalizedDevice == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

// normalizedPath normalizes a device path for comparison
func normalizedPath(path string) string {
	// COM ports are case-insensitive on Windows
	return strings.ToLower(filepath.Clean(path))
}
