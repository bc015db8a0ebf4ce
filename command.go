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

package eswifi

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-eswifi/internal/response"
)

// Command is one request to the module: an ASCII line plus an optional
// binary payload sent in the same transaction. The line lives in a fixed
// array; building past MaxCommandLength records ErrPayloadTooLarge, which
// Execute returns before any bus traffic.
type Command struct {
	err     error
	payload []byte
	line    [MaxCommandLength]byte
	n       int
	size    int
	mode    response.Mode
}

// NewCommand starts a command with the bare code, e.g. "C0"
func NewCommand(code string) Command {
	var c Command
	c.appendString(code)
	return c
}

// SetCommand builds "code=value"
func SetCommand(code, value string) Command {
	c := NewCommand(code)
	c.appendByte('=')
	c.appendValue(value)
	return c
}

// SetIntCommand builds "code=<decimal>"
func SetIntCommand(code string, value int) Command {
	c := NewCommand(code)
	c.appendByte('=')
	if c.err == nil && c.n+20 <= len(c.line) {
		c.n = len(strconv.AppendInt(c.line[:c.n], int64(value), 10))
		return c
	}
	c.err = ErrPayloadTooLarge
	return c
}

// SetAddrCommand builds "code=<ip>"
func SetAddrCommand(code string, addr netip.Addr) Command {
	c := NewCommand(code)
	c.appendByte('=')
	if !addr.IsValid() {
		c.err = ErrInvalidParameter
		return c
	}
	if c.err == nil && c.n+len("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff") <= len(c.line) {
		c.n = len(addr.AppendTo(c.line[:c.n]))
		return c
	}
	c.err = ErrPayloadTooLarge
	return c
}

// WithPayload attaches binary data sent right after the line terminator
func (c Command) WithPayload(payload []byte) Command {
	c.payload = payload
	return c
}

// expectCounted marks the response as carrying an in-band "<n>:" count
func (c Command) expectCounted() Command {
	c.mode = response.ModeCounted
	return c
}

// expectFixed marks the response as carrying exactly n payload bytes
func (c Command) expectFixed(n int) Command {
	c.mode = response.ModeFixed
	c.size = n
	return c
}

// Line returns the command line without its terminator
func (c *Command) Line() []byte {
	return c.line[:c.n]
}

// Payload returns the binary payload, if any
func (c *Command) Payload() []byte {
	return c.payload
}

// Err returns the first error recorded while building the command
func (c *Command) Err() error {
	return c.err
}

func (c *Command) String() string {
	return string(c.line[:c.n])
}

func (c *Command) appendString(s string) {
	if c.err != nil {
		return
	}
	if c.n+len(s) > len(c.line) {
		c.err = ErrPayloadTooLarge
		return
	}
	c.n += copy(c.line[c.n:], s)
}

func (c *Command) appendByte(b byte) {
	if c.err != nil {
		return
	}
	if c.n >= len(c.line) {
		c.err = ErrPayloadTooLarge
		return
	}
	c.line[c.n] = b
	c.n++
}

// appendValue refuses line terminators, which would split the command
func (c *Command) appendValue(v string) {
	if c.err != nil {
		return
	}
	if strings.ContainsAny(v, "\r\n") {
		c.err = ErrInvalidParameter
		return
	}
	c.appendString(v)
}

// Response is the successful result of a command. Body is a view into the
// buffer passed to Execute, or into the engine's scratch arena when none
// was given; in the latter case it is only valid until the next command.
type Response struct {
	Body []byte
}

// Int parses the body as a decimal integer
func (r Response) Int() (int, error) {
	n, err := response.ParseInt(r.Body)
	if err != nil {
		return 0, ErrMalformedResponse
	}
	return n, nil
}

// Addr returns the first IP address found in the body
func (r Response) Addr() (netip.Addr, error) {
	addr, err := response.ParseAddr(r.Body)
	if err != nil {
		return netip.Addr{}, ErrMalformedResponse
	}
	return addr, nil
}
