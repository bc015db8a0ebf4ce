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

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("ENV", "")

	log := NewSlogWriter(&buf, InfoLevel, false)
	log.Debug("hidden")
	log.Info("socket open", "socket", 2, "proto", "tcp")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "socket open", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.InDelta(t, 2, rec["socket"], 0)
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_LevelSharedWithChild(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("ENV", "")

	parent := NewSlogWriter(&buf, WarnLevel, false)
	child := parent.With("socket", 1)
	assert.Equal(t, WarnLevel, child.Level())

	parent.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())

	child.Debug("command", "cmd", "P0=1")
	assert.Contains(t, buf.String(), `"socket":1`)
	assert.Contains(t, buf.String(), `"cmd":"P0=1"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Level
		ok    bool
	}{
		{input: "debug", want: DebugLevel, ok: true},
		{input: "", want: InfoLevel, ok: true},
		{input: "warning", want: WarnLevel, ok: true},
		{input: "error", want: ErrorLevel, ok: true},
		{input: "verbose", want: InfoLevel, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want.String(), got.String())
			}
		})
	}
}

func TestMockLogger(t *testing.T) {
	t.Parallel()

	m := NewMockLogger()
	m.On("Warn", "close not acknowledged", []any{"socket", 3}).Return()

	var log Logger = m
	log.Warn("close not acknowledged", "socket", 3)

	m.AssertExpectations(t)
}
