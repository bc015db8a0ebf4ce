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

package testing

import "strconv"

// Response grammar of the module
const (
	okTrailer = "\r\nOK\r\n> "
	errPrefix = "\r\nERROR"
	prompt    = "\r\n> "
)

// BuildOKResponse creates a success response carrying body
func BuildOKResponse(body string) string {
	if body == "" {
		return okTrailer
	}
	return "\r\n" + body + okTrailer
}

// BuildErrorResponse creates an error response with an optional diagnostic
func BuildErrorResponse(diagnostic string) string {
	if diagnostic == "" {
		return errPrefix + prompt
	}
	return errPrefix + ": " + diagnostic + prompt
}

// BuildJoinResponse creates the status line printed after a successful join
func BuildJoinResponse(ssid, ip string) string {
	return BuildOKResponse("[JOIN   ] " + ssid + "," + ip + ",0,0")
}

// BuildSocketInfoResponse creates the status line of the socket info query
func BuildSocketInfoResponse(proto int, localIP string, localPort int, remoteIP string, remotePort int, active bool) string {
	state := "0"
	if active {
		state = "1"
	}
	return BuildOKResponse(strconv.Itoa(proto) + "," + localIP + "," + strconv.Itoa(localPort) + "," +
		remoteIP + "," + strconv.Itoa(remotePort) + "," + state)
}
