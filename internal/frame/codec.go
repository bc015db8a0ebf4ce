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

package frame

import "errors"

// ErrFrameTooLarge is returned when the destination cannot hold the frame
var ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")

// EncodedLen returns the length of the frame produced for n logical bytes
func EncodedLen(n int) int {
	return n + n%WordSize
}

// Encode writes src into dst as an even-length frame in module word order.
// A Pad byte is appended when src has odd length. Encode returns the number
// of bytes written to dst.
func Encode(dst, src []byte) (int, error) {
	n := EncodedLen(len(src))
	if n == 0 {
		return 0, nil
	}
	if n > len(dst) {
		return 0, ErrFrameTooLarge
	}

	copy(dst, src)
	if n != len(src) {
		dst[n-1] = Pad
	}
	swapWords(dst[:n])
	return n, nil
}

// Decode reverses Encode. When odd is true the logical content had odd
// length and the trailing Pad byte is dropped.
func Decode(dst, src []byte, odd bool) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	if len(src)%WordSize != 0 {
		return 0, errors.New("frame length is not word aligned")
	}
	if len(src) > len(dst) {
		return 0, ErrFrameTooLarge
	}

	copy(dst, src)
	swapWords(dst[:len(src)])

	n := len(src)
	if odd && dst[n-1] == Pad {
		n--
	}
	return n, nil
}

// DecodeResponse converts raw words clocked out of the module into logical
// bytes. When final is set the chunk ends the response: Filler in the low
// half of the last word marks an odd-length response and is dropped, and a
// last word made only of Filler is idle time. A trailing odd byte in src is
// ignored since it is not a complete word.
func DecodeResponse(dst, src []byte, final bool) int {
	words := len(src) / WordSize
	if words*WordSize > len(dst) {
		words = len(dst) / WordSize
		final = false
	}

	n := 0
	for i := 0; i < words; i++ {
		lo, hi := src[2*i], src[2*i+1]
		if final && i == words-1 && lo == Filler {
			if hi != Filler {
				dst[n] = hi
				n++
			}
			break
		}
		dst[n] = hi
		dst[n+1] = lo
		n += WordSize
	}
	return n
}

// swapWords swaps the two bytes of every 16-bit word in place
func swapWords(b []byte) {
	for i := 0; i+1 < len(b); i += WordSize {
		b[i], b[i+1] = b[i+1], b[i]
	}
}
