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

/*
Package eswifi drives Inventek eS-WiFi modules (ISM43362 and relatives)
through their AT command set.

The module runs the whole network stack itself. The host sends short text
commands such as "P3=203.0.113.5" and reads back a response that ends in a
"> " prompt. This library provides a socket-style Go interface on top of
that exchange, across SPI and serial links.

Features:
  - SPI transport with ready-line gating, via periph.io
  - UART transport for AT firmware on a serial link
  - Up to four concurrent module sockets, TCP and UDP
  - Access point association and DNS lookup
  - Retry logic with configurable backoff
  - Structured errors that carry the module's diagnostic text

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-eswifi"
	    "github.com/ZaparooProject/go-eswifi/transport/spi"
	)

	transport, err := spi.New(spi.Config{
	    Bus:       "/dev/spidev0.0",
	    ReadyPin:  "GPIO25",
	    SelectPin: "GPIO8",
	    ResetPin:  "GPIO24",
	})
	if err != nil {
	    log.Fatal(err)
	}

	stack, err := eswifi.New(transport, eswifi.WithCommandTimeout(10*time.Second))
	if err != nil {
	    log.Fatal(err)
	}
	defer stack.Close()

	if err := stack.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	if _, err := stack.Join(ctx, "home", "secret", eswifi.SecurityWPA2); err != nil {
	    log.Fatal(err)
	}

	sock, err := stack.DialTCP(ctx, netip.MustParseAddrPort("203.0.113.5:80"))
	if err != nil {
	    log.Fatal(err)
	}
	defer sock.CloseContext(ctx)

	if _, err := sock.Send(ctx, []byte("GET / HTTP/1.0\r\n\r\n")); err != nil {
	    log.Fatal(err)
	}
	buf := make([]byte, 512)
	n, err := sock.ReadContext(ctx, buf)

Transport Selection:

  - SPI: The module's native host interface. Commands are framed into
    16-bit words and every exchange waits for the ready line.
  - UART: For firmware builds that expose the command set on a serial
    port. The end of a response is found by its trailing prompt.

Error Handling:

Operations return errors that can be inspected with errors.Is and
errors.As:

	if errors.Is(err, eswifi.ErrConnectFailed) {
	    var cmdErr *eswifi.CommandError
	    if errors.As(err, &cmdErr) {
	        log.Printf("module said: %s", cmdErr.Diagnostic)
	    }
	}

Thread Safety:

A Stack and its sockets may be used from several goroutines. The module
executes one command at a time, so commands are serialized by the command
engine and interleaved between sockets.
*/
package eswifi
