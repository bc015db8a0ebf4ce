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

package response

import (
	"bytes"
	"errors"
	"net/netip"
	"strconv"
)

// ErrNoAddress is returned when a response body carries no IP address
var ErrNoAddress = errors.New("no address in response")

// Fields splits a comma-separated status line into its fields without
// allocating a new backing array. dst is reused and returned.
func Fields(dst [][]byte, line []byte) [][]byte {
	dst = dst[:0]
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return dst
	}
	for {
		i := bytes.IndexByte(line, ',')
		if i < 0 {
			return append(dst, bytes.TrimSpace(line))
		}
		dst = append(dst, bytes.TrimSpace(line[:i]))
		line = line[i+1:]
	}
}

// ParseInt parses a decimal integer body such as the accepted count of a write
func ParseInt(b []byte) (int, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, ErrMalformed
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrMalformed
		}
		n = n*10 + int(c-'0')
		if n > 1<<24 {
			return 0, ErrMalformed
		}
	}
	return n, nil
}

// ParseAddr returns the first field of body that is a valid IP address.
// Status lines such as "[JOIN   ] home,192.168.1.20,0,0" are accepted.
func ParseAddr(body []byte) (netip.Addr, error) {
	var scratch [8][]byte
	for _, line := range bytes.Split(bytes.TrimSpace(body), []byte("\r\n")) {
		if i := bytes.IndexByte(line, ']'); i >= 0 {
			line = line[i+1:]
		}
		for _, f := range Fields(scratch[:0], line) {
			if addr, err := netip.ParseAddr(string(f)); err == nil {
				return addr, nil
			}
		}
	}
	return netip.Addr{}, ErrNoAddress
}

// ParsePort parses a decimal port number
func ParsePort(b []byte) (uint16, error) {
	n, err := strconv.ParseUint(string(bytes.TrimSpace(b)), 10, 16)
	if err != nil {
		return 0, ErrMalformed
	}
	return uint16(n), nil
}
