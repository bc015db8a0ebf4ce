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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields(t *testing.T) {
	t.Parallel()

	var scratch [8][]byte
	got := Fields(scratch[:0], []byte(" 0,TCP, 192.168.1.20 ,80\r\n"))
	require.Len(t, got, 4)
	assert.Equal(t, "0", string(got[0]))
	assert.Equal(t, "TCP", string(got[1]))
	assert.Equal(t, "192.168.1.20", string(got[2]))
	assert.Equal(t, "80", string(got[3]))

	assert.Empty(t, Fields(scratch[:0], []byte("  ")))
}

func TestParseInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "Simple", input: "18", want: 18},
		{name: "Whitespace", input: " 1200\r\n", want: 1200},
		{name: "Empty", input: "", wantErr: true},
		{name: "Letters", input: "1a", wantErr: true},
		{name: "Huge", input: "999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseInt([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "Bare", input: "203.0.113.5", want: "203.0.113.5"},
		{name: "JoinStatus", input: "[JOIN   ] home,192.168.1.20,0,0", want: "192.168.1.20"},
		{name: "MultiLine", input: "[JOIN   ] home\r\n[JOIN   ] 10.0.0.7,0", want: "10.0.0.7"},
		{name: "NoAddress", input: "home,0,0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAddr([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}
}

func TestParsePort(t *testing.T) {
	t.Parallel()

	port, err := ParsePort([]byte("8080"))
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)

	_, err = ParsePort([]byte("70000"))
	require.ErrorIs(t, err, ErrMalformed)
}
