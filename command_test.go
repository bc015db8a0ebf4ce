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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		want    string
		cmd     Command
	}{
		{name: "Bare_Code", cmd: NewCommand(cmdJoin), want: "C0"},
		{name: "String_Value", cmd: SetCommand(cmdSSID, "home network"), want: "C1=home network"},
		{name: "Empty_Value", cmd: SetCommand(cmdPassphrase, ""), want: "C2="},
		{name: "Int_Value", cmd: SetIntCommand(cmdRemotePort, 8080), want: "P4=8080"},
		{name: "Negative_Int", cmd: SetIntCommand(cmdRemotePort, -1), want: "P4=-1"},
		{name: "IPv4_Addr", cmd: SetAddrCommand(cmdRemoteHost, netip.MustParseAddr("203.0.113.5")), want: "P3=203.0.113.5"},
		{name: "Invalid_Addr", cmd: SetAddrCommand(cmdRemoteHost, netip.Addr{}), wantErr: ErrInvalidParameter},
		{name: "Carriage_Return", cmd: SetCommand(cmdSSID, "a\rb"), wantErr: ErrInvalidParameter},
		{name: "Line_Feed", cmd: SetCommand(cmdDNSLookup, "a\nb"), wantErr: ErrInvalidParameter},
		{
			name:    "Line_Too_Long",
			cmd:     SetCommand(cmdDNSLookup, strings.Repeat("a", MaxCommandLength)),
			wantErr: ErrPayloadTooLarge,
		},
		{
			name: "Longest_Line",
			cmd:  SetCommand(cmdDNSLookup, strings.Repeat("a", MaxCommandLength-3)),
			want: "D0=" + strings.Repeat("a", MaxCommandLength-3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := tt.cmd
			if tt.wantErr != nil {
				require.ErrorIs(t, cmd.Err(), tt.wantErr)
				return
			}
			require.NoError(t, cmd.Err())
			assert.Equal(t, tt.want, string(cmd.Line()))
			assert.Equal(t, tt.want, cmd.String())
		})
	}
}

func TestCommand_Modifiers(t *testing.T) {
	t.Parallel()

	base := SetIntCommand(cmdWrite, 3)
	withPayload := base.WithPayload([]byte("abc"))
	assert.Nil(t, base.Payload())
	assert.Equal(t, []byte("abc"), withPayload.Payload())

	fixed := NewCommand(cmdReadData).expectFixed(16)
	assert.Equal(t, 16, fixed.size)
	counted := NewCommand(cmdReadData).expectCounted()
	assert.NotEqual(t, fixed.mode, counted.mode)
}

func TestResponse_Int(t *testing.T) {
	t.Parallel()

	n, err := Response{Body: []byte("1200")}.Int()
	require.NoError(t, err)
	assert.Equal(t, 1200, n)

	_, err = Response{Body: []byte("12x")}.Int()
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = Response{}.Int()
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestResponse_Addr(t *testing.T) {
	t.Parallel()

	addr, err := Response{Body: []byte("[JOIN   ] home,192.168.1.50,0,0")}.Addr()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.1.50"), addr)

	_, err = Response{Body: []byte("no address here")}.Addr()
	require.ErrorIs(t, err, ErrMalformedResponse)
}
