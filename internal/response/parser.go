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

// Package response implements an incremental parser for eS-WiFi AT command responses
package response

import (
	"bytes"
	"errors"
)

// Response grammar
var (
	SuccessSentinel = []byte("\r\nOK\r\n> ")
	ErrorSentinel   = []byte("\r\nERROR")
	Prompt          = []byte("\r\n> ")
	preamble        = []byte("\r\n")
)

const (
	// MaxDiagnostic bounds the diagnostic text kept after an error sentinel
	MaxDiagnostic = 64
	// maxCountDigits bounds an in-band payload count
	maxCountDigits = 5
	// pendingSize holds one success sentinel plus the byte that broke it
	pendingSize = 9
)

// Parser errors
var (
	ErrBufferOverflow = errors.New("response payload exceeds buffer capacity")
	ErrIncomplete     = errors.New("response ended before a terminator")
	ErrMalformed      = errors.New("malformed response")
)

// Rejected is returned by Finish when the module answered with its error sentinel
type Rejected struct {
	Diagnostic string
}

func (r *Rejected) Error() string {
	if r.Diagnostic == "" {
		return "module returned ERROR"
	}
	return "module returned ERROR: " + r.Diagnostic
}

// State is the position of the parser in the response grammar
type State uint8

// Parser states
const (
	StateEcho State = iota
	StateHeader
	StatePayload
	StateBody
	StateSentinel
	StateDiagnostic
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEcho:
		return "echo"
	case StateHeader:
		return "header"
	case StatePayload:
		return "payload"
	case StateBody:
		return "body"
	case StateSentinel:
		return "sentinel"
	case StateDiagnostic:
		return "diagnostic"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects how the data-bearing part of a response is delimited
type Mode uint8

const (
	// ModeText reads the body until the success or error sentinel
	ModeText Mode = iota
	// ModeFixed reads exactly the number of bytes the caller asked the module for
	ModeFixed
	// ModeCounted reads a decimal count terminated by ':' and then that many bytes
	ModeCounted
)

// Result is a fully recognized success response
type Result struct {
	Body []byte
}

// Parser recognizes one response at a time. It is fed successive chunks of
// the decoded byte stream and never re-scans bytes it has already consumed.
// The zero value is not usable; call Reset before each response.
type Parser struct {
	buf     []byte
	echo    []byte
	pending [pendingSize]byte
	diag    [MaxDiagnostic]byte

	n         int
	remaining int
	count     int
	digits    int
	echoN     int
	pendN     int
	preN      int
	promptN   int
	diagN     int
	errProbe  int
	mode      Mode
	state     State
	afterEcho State
	err       error
}

// Reset prepares the parser for a new response. echo is the command line
// the module may echo back, buf receives the body or payload. For ModeFixed,
// size is the number of payload bytes the caller requested.
func (p *Parser) Reset(echo, buf []byte, mode Mode, size int) error {
	*p = Parser{buf: buf, echo: echo, mode: mode}

	switch mode {
	case ModeFixed:
		if size > len(buf) {
			p.fail(ErrBufferOverflow)
			return ErrBufferOverflow
		}
		p.remaining = size
		p.afterEcho = StatePayload
		if size == 0 {
			p.afterEcho = StateSentinel
		}
	case ModeCounted:
		p.afterEcho = StateHeader
	case ModeText:
		p.afterEcho = StateBody
	default:
		p.fail(ErrMalformed)
		return ErrMalformed
	}

	p.state = p.afterEcho
	if len(echo) > 0 {
		p.state = StateEcho
	}
	return nil
}

// State returns the current parser state
func (p *Parser) State() State {
	return p.state
}

// Len returns the number of body or payload bytes written so far
func (p *Parser) Len() int {
	return p.n
}

// Done reports whether a terminator has been recognized. In ModeText a
// success sentinel followed by more data is treated as body, so Done may
// become false again while chunks keep arriving.
func (p *Parser) Done() bool {
	return p.state == StateDone || p.state == StateFailed
}

// Feed consumes the next chunk of the response stream
func (p *Parser) Feed(chunk []byte) error {
	for _, b := range chunk {
		if err := p.step(b); err != nil {
			return err
		}
	}
	return nil
}

// Finish is called when the module signals the end of the response
func (p *Parser) Finish() (Result, error) {
	switch {
	case p.err != nil:
		return Result{}, p.err
	case p.state == StateDone:
		return Result{Body: p.buf[:p.n]}, nil
	case p.state == StateDiagnostic || p.state == StateFailed:
		p.state = StateFailed
		return Result{}, &Rejected{Diagnostic: p.diagnostic()}
	case p.state == StateBody:
		if diag, ok := p.trailingError(); ok {
			p.state = StateFailed
			return Result{}, &Rejected{Diagnostic: diag}
		}
		return Result{}, ErrIncomplete
	default:
		return Result{}, ErrIncomplete
	}
}

func (p *Parser) step(b byte) error {
	switch p.state {
	case StateEcho:
		return p.stepEcho(b)
	case StateHeader:
		return p.stepHeader(b)
	case StatePayload:
		return p.stepPayload(b)
	case StateBody:
		return p.scan(b)
	case StateSentinel:
		return p.stepSentinel(b)
	case StateDiagnostic:
		p.stepDiagnostic(b)
		return nil
	case StateDone:
		if p.mode != ModeText {
			return p.fail(ErrMalformed)
		}
		// the sentinel was part of the body
		p.state = StateBody
		copy(p.pending[:], SuccessSentinel)
		p.pendN = len(SuccessSentinel)
		return p.scan(b)
	default:
		return p.err
	}
}

func (p *Parser) stepEcho(b byte) error {
	if b == p.echo[p.echoN] {
		p.echoN++
		if p.echoN == len(p.echo) {
			p.state = p.afterEcho
		}
		return nil
	}

	// no echo after all: replay what was taken for one
	matched := p.echoN
	p.state = p.afterEcho
	for _, e := range p.echo[:matched] {
		if err := p.step(e); err != nil {
			return err
		}
	}
	return p.step(b)
}

func (p *Parser) stepHeader(b byte) error {
	if p.digits == 0 && p.errProbe == 0 && p.preN < len(preamble) {
		if b == preamble[p.preN] {
			p.preN++
			return nil
		}
		if p.preN > 0 {
			return p.fail(ErrMalformed)
		}
	}

	switch {
	case b >= '0' && b <= '9':
		if p.digits == maxCountDigits {
			return p.fail(ErrMalformed)
		}
		p.count = p.count*10 + int(b-'0')
		p.digits++
		return nil
	case b == ':' && p.digits > 0:
		if p.count > len(p.buf) {
			return p.fail(ErrBufferOverflow)
		}
		p.remaining = p.count
		p.preN = len(preamble)
		p.state = StatePayload
		if p.remaining == 0 {
			p.state = StateSentinel
		}
		return nil
	case p.digits == 0:
		// "\r\nERROR" arrives where the count would be
		return p.probeError(b)
	default:
		return p.fail(ErrMalformed)
	}
}

func (p *Parser) stepPayload(b byte) error {
	if p.n == 0 && p.preN < len(preamble) {
		if b == preamble[p.preN] {
			p.preN++
			return nil
		}
		// a partial preamble was payload
		held := p.preN
		p.preN = len(preamble)
		for _, c := range preamble[:held] {
			if err := p.step(c); err != nil {
				return err
			}
		}
		return p.step(b)
	}

	if p.mode == ModeFixed && p.errProbe >= 0 {
		if err := p.probeError(b); err != nil || p.state == StateDiagnostic {
			return err
		}
	}

	if p.n >= len(p.buf) {
		return p.fail(ErrBufferOverflow)
	}
	p.buf[p.n] = b
	p.n++
	p.remaining--
	if p.remaining == 0 {
		p.state = StateSentinel
	}
	return nil
}

// probeError recognizes "ERROR" at the start of a length-delimited payload,
// where the module reports failure instead of data.
func (p *Parser) probeError(b byte) error {
	word := ErrorSentinel[len(preamble):]
	if p.errProbe < 0 || p.errProbe >= len(word) || word[p.errProbe] != b {
		p.errProbe = -1
		if p.state == StateHeader {
			return p.fail(ErrMalformed)
		}
		return nil
	}
	p.errProbe++
	if p.errProbe == len(word) {
		p.n = 0
		p.state = StateDiagnostic
	}
	return nil
}

func (p *Parser) stepSentinel(b byte) error {
	if p.errProbe > 0 {
		// a short fixed payload may have been the start of "ERROR"
		if err := p.probeError(b); err != nil || p.state == StateDiagnostic {
			return err
		}
		if p.errProbe > 0 {
			return nil
		}
	}

	p.pending[p.pendN] = b
	p.pendN++
	pend := p.pending[:p.pendN]

	switch {
	case bytes.Equal(pend, SuccessSentinel):
		p.pendN = 0
		p.state = StateDone
	case bytes.Equal(pend, ErrorSentinel):
		p.pendN = 0
		p.state = StateDiagnostic
	case bytes.HasPrefix(SuccessSentinel, pend), bytes.HasPrefix(ErrorSentinel, pend):
	default:
		return p.fail(ErrMalformed)
	}
	return nil
}

// scan runs text-mode sentinel recognition. Bytes that may begin a sentinel
// are held in pending; once they cannot, the oldest byte is emitted as body.
// The error sentinel only counts before any body byte: "\r\nERROR" inside
// socket data is data.
func (p *Parser) scan(b byte) error {
	p.pending[p.pendN] = b
	p.pendN++

	for p.pendN > 0 {
		pend := p.pending[:p.pendN]
		leading := p.n == 0 && p.preN == 0
		switch {
		case bytes.Equal(pend, SuccessSentinel):
			p.pendN = 0
			p.state = StateDone
			return nil
		case leading && bytes.Equal(pend, ErrorSentinel):
			p.pendN = 0
			p.state = StateDiagnostic
			return nil
		case bytes.HasPrefix(SuccessSentinel, pend), leading && bytes.HasPrefix(ErrorSentinel, pend):
			return nil
		}

		if err := p.emit(p.pending[0]); err != nil {
			return err
		}
		copy(p.pending[:], p.pending[1:p.pendN])
		p.pendN--
	}
	return nil
}

// emit appends a body byte, dropping the leading "\r\n" preamble
func (p *Parser) emit(b byte) error {
	if p.n == 0 && p.preN < len(preamble) {
		if b == preamble[p.preN] {
			p.preN++
			return nil
		}
		held := p.preN
		p.preN = len(preamble)
		for _, c := range preamble[:held] {
			if err := p.put(c); err != nil {
				return err
			}
		}
	}
	p.preN = len(preamble)
	return p.put(b)
}

func (p *Parser) put(b byte) error {
	if p.n >= len(p.buf) {
		return p.fail(ErrBufferOverflow)
	}
	p.buf[p.n] = b
	p.n++
	return nil
}

func (p *Parser) stepDiagnostic(b byte) {
	if b == Prompt[p.promptN] {
		p.promptN++
		if p.promptN == len(Prompt) {
			p.state = StateFailed
		}
		return
	}
	// flush a broken prompt match into the diagnostic
	for _, c := range Prompt[:p.promptN] {
		p.addDiag(c)
	}
	p.promptN = 0
	if b == Prompt[0] {
		p.promptN = 1
		return
	}
	p.addDiag(b)
}

// trailingError recognizes a text response that ended with an error after
// some output: "...\r\nERROR[: diag]\r\n> " with no success sentinel.
func (p *Parser) trailingError() (string, bool) {
	body := p.buf[:p.n]
	if p.pendN > 0 || !bytes.HasSuffix(body, Prompt) {
		return "", false
	}
	i := bytes.LastIndex(body, ErrorSentinel)
	if i < 0 {
		return "", false
	}
	d := body[i+len(ErrorSentinel) : len(body)-len(Prompt)]
	d = bytes.TrimSpace(bytes.TrimLeft(d, ": "))
	return string(d[:min(len(d), MaxDiagnostic)]), true
}

func (p *Parser) addDiag(b byte) {
	if p.diagN < len(p.diag) {
		p.diag[p.diagN] = b
		p.diagN++
	}
}

func (p *Parser) diagnostic() string {
	d := bytes.TrimLeft(p.diag[:p.diagN], ": ")
	return string(bytes.TrimSpace(d))
}

func (p *Parser) fail(err error) error {
	p.state = StateFailed
	p.err = err
	return err
}
