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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, echo string, mode Mode, size int, stream string, buf []byte) (Result, error) {
	t.Helper()

	var p Parser
	if err := p.Reset([]byte(echo), buf, mode, size); err != nil {
		return Result{}, err
	}
	if err := p.Feed([]byte(stream)); err != nil {
		return Result{}, err
	}
	return p.Finish()
}

func TestParser_Success(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		echo   string
		stream string
		want   string
		mode   Mode
		size   int
	}{
		{
			name:   "Text_WithEcho",
			echo:   "D0=example.com\r",
			stream: "D0=example.com\r\r\n203.0.113.5\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "203.0.113.5",
		},
		{
			name:   "Text_EchoDisabled",
			echo:   "D0=example.com\r",
			stream: "\r\n203.0.113.5\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "203.0.113.5",
		},
		{
			name:   "Text_EmptyBody",
			stream: "\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "",
		},
		{
			name:   "Text_PartialEchoReplayed",
			echo:   "P0=1\r",
			stream: "P0=2\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "P0=2",
		},
		{
			name:   "Text_SentinelInsideBody",
			stream: "\r\nab\r\nOK\r\n> cd\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "ab\r\nOK\r\n> cd",
		},
		{
			name:   "Text_PartialSentinelFlushed",
			stream: "\r\nx\r\nO\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "x\r\nO",
		},
		{
			name:   "Text_ErrorInsideBody",
			stream: "\r\nline1\r\nERROR: boom\r\n> tail\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "line1\r\nERROR: boom\r\n> tail",
		},
		{
			name:   "Text_BodyStartsWithError",
			stream: "\r\n\r\nERROR\r\nOK\r\n> ",
			mode:   ModeText,
			want:   "\r\nERROR",
		},
		{
			name:   "Counted_Payload",
			stream: "\r\n5:hello\r\nOK\r\n> ",
			mode:   ModeCounted,
			want:   "hello",
		},
		{
			name:   "Counted_PayloadLooksLikeSentinel",
			stream: "\r\n8:\r\nOK\r\n> \r\nOK\r\n> ",
			mode:   ModeCounted,
			want:   "\r\nOK\r\n> ",
		},
		{
			name:   "Counted_Zero",
			stream: "0:\r\nOK\r\n> ",
			mode:   ModeCounted,
			want:   "",
		},
		{
			name:   "Fixed_WithPreamble",
			stream: "\r\nabc\r\nOK\r\n> ",
			mode:   ModeFixed,
			size:   3,
			want:   "abc",
		},
		{
			name:   "Fixed_WithoutPreamble",
			stream: "abc\r\nOK\r\n> ",
			mode:   ModeFixed,
			size:   3,
			want:   "abc",
		},
		{
			name:   "Fixed_BinaryPayload",
			stream: "\r\n\x00\x15\x0a\xff\r\nOK\r\n> ",
			mode:   ModeFixed,
			size:   4,
			want:   "\x00\x15\x0a\xff",
		},
		{
			name:   "Fixed_Zero",
			stream: "\r\nOK\r\n> ",
			mode:   ModeFixed,
			size:   0,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, 64)
			res, err := parseAll(t, tt.echo, tt.mode, tt.size, tt.stream, buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(res.Body))
		})
	}
}

func TestParser_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stream     string
		diagnostic string
		mode       Mode
		size       int
	}{
		{name: "Text_WithDiagnostic", stream: "\r\nERROR: invalid socket\r\n> ", mode: ModeText, diagnostic: "invalid socket"},
		{name: "Text_NoPrompt", stream: "\r\nERROR", mode: ModeText},
		{name: "Text_AfterBody", stream: "\r\npartial\r\nERROR:-1\r\n> ", mode: ModeText, diagnostic: "-1"},
		{name: "Counted", stream: "\r\nERROR\r\n> ", mode: ModeCounted},
		{name: "Fixed", stream: "\r\nERROR: no data\r\n> ", mode: ModeFixed, size: 10, diagnostic: "no data"},
		{name: "Fixed_ShortPayload", stream: "\r\nERROR\r\n> ", mode: ModeFixed, size: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseAll(t, "", tt.mode, tt.size, tt.stream, make([]byte, 32))
			var rejected *Rejected
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.diagnostic, rejected.Diagnostic)
		})
	}
}

func TestParser_DiagnosticTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2*MaxDiagnostic)
	_, err := parseAll(t, "", ModeText, 0, "\r\nERROR:"+long+"\r\n> ", make([]byte, 8))

	var rejected *Rejected
	require.ErrorAs(t, err, &rejected)
	assert.Len(t, rejected.Diagnostic, MaxDiagnostic-1)
}

func TestParser_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		stream  string
		mode    Mode
		size    int
		bufSize int
	}{
		{name: "Text_Incomplete", stream: "\r\nhel", mode: ModeText, bufSize: 16, wantErr: ErrIncomplete},
		{name: "Text_Overflow", stream: "\r\nhello world\r\nOK\r\n> ", mode: ModeText, bufSize: 4, wantErr: ErrBufferOverflow},
		{name: "Counted_Overflow", stream: "\r\n10:0123456789\r\nOK\r\n> ", mode: ModeCounted, bufSize: 4, wantErr: ErrBufferOverflow},
		{name: "Counted_NotANumber", stream: "\r\nxyz", mode: ModeCounted, bufSize: 4, wantErr: ErrMalformed},
		{name: "Counted_TooManyDigits", stream: "1234567:", mode: ModeCounted, bufSize: 4, wantErr: ErrMalformed},
		{name: "Fixed_TrailingJunk", stream: "\r\nabXY", mode: ModeFixed, size: 2, bufSize: 4, wantErr: ErrMalformed},
		{name: "Fixed_SizeExceedsBuffer", stream: "", mode: ModeFixed, size: 8, bufSize: 4, wantErr: ErrBufferOverflow},
		{name: "Counted_DataAfterDone", stream: "1:a\r\nOK\r\n> z", mode: ModeCounted, bufSize: 4, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseAll(t, "", tt.mode, tt.size, tt.stream, make([]byte, tt.bufSize))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParser_OverflowNeverWritesPastBuffer(t *testing.T) {
	t.Parallel()

	arena := make([]byte, 16)
	buf := arena[:4]

	var p Parser
	require.NoError(t, p.Reset(nil, buf, ModeText, 0))
	err := p.Feed([]byte("\r\nabcdefghij\r\nOK\r\n> "))
	require.ErrorIs(t, err, ErrBufferOverflow)

	assert.Equal(t, "abcd", string(arena[:4]))
	assert.Equal(t, make([]byte, 12), arena[4:])
	assert.Equal(t, StateFailed, p.State())

	_, err = p.Finish()
	require.ErrorIs(t, err, ErrBufferOverflow)
}

func TestParser_ResumesAcrossChunks(t *testing.T) {
	t.Parallel()

	stream := "S3=18\r\r\n18\r\nOK\r\n> "
	for split := 0; split <= len(stream); split++ {
		var p Parser
		buf := make([]byte, 16)
		require.NoError(t, p.Reset([]byte("S3=18\r"), buf, ModeText, 0))

		require.NoError(t, p.Feed([]byte(stream[:split])))
		require.NoError(t, p.Feed([]byte(stream[split:])))

		res, err := p.Finish()
		require.NoError(t, err, "split at %d", split)
		assert.Equal(t, "18", string(res.Body), "split at %d", split)
	}
}

func TestParser_ErrorInsideBodyAcrossChunks(t *testing.T) {
	t.Parallel()

	const data = "line1\r\nERROR: boom\r\n> tail"
	stream := "R0\r\r\n" + data + "\r\nOK\r\n> "
	for split := 0; split <= len(stream); split++ {
		var p Parser
		buf := make([]byte, 32)
		require.NoError(t, p.Reset([]byte("R0\r"), buf, ModeText, 0))

		require.NoError(t, p.Feed([]byte(stream[:split])))
		require.NoError(t, p.Feed([]byte(stream[split:])))

		res, err := p.Finish()
		require.NoError(t, err, "split at %d", split)
		assert.Equal(t, data, string(res.Body), "split at %d", split)
	}
}

func TestParser_ByteAtATime(t *testing.T) {
	t.Parallel()

	var p Parser
	buf := make([]byte, 16)
	require.NoError(t, p.Reset(nil, buf, ModeCounted, 0))

	for _, b := range []byte("\r\n4:\x15\x15\r\n\r\nOK\r\n> ") {
		require.NoError(t, p.Feed([]byte{b}))
	}
	assert.True(t, p.Done())

	res, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x15, 0x15, '\r', '\n'}, res.Body)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "echo", StateEcho.String())
	assert.Equal(t, "diagnostic", StateDiagnostic.String())
	assert.Equal(t, "unknown", State(99).String())
}
