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
	"errors"
	"fmt"
)

// Transport errors
var (
	ErrTransportTimeout = errors.New("ready signal not asserted in time")
	ErrBusFault         = errors.New("bus fault")
	ErrTransportClosed  = errors.New("transport closed")
)

// Command errors
var (
	ErrPayloadTooLarge    = errors.New("payload exceeds buffer capacity")
	ErrProtocolRejected   = errors.New("module rejected command")
	ErrCommandTimeout     = errors.New("command deadline exceeded")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrModuleNotReady     = errors.New("module did not send its prompt")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Socket errors
var (
	ErrSocketBusy    = errors.New("socket busy")
	ErrNotConnected  = errors.New("socket not connected")
	ErrConnectFailed = errors.New("connect failed")
	ErrWriteFailed   = errors.New("write failed")
)

// Network errors
var (
	ErrInvalidSSID       = errors.New("invalid SSID")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrUnableToAssociate = errors.New("unable to associate with access point")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent errors will not go away on retry
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient errors may succeed on a later attempt
	ErrorTypeTransient
	// ErrorTypeTimeout errors are timeouts
	ErrorTypeTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// TransportError is returned by transports with the failing operation and port
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error of the given type
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Err:       err,
		Op:        op,
		Port:      port,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewTimeoutError creates a transport error for a ready-signal timeout
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewBusFaultError wraps a bus or pin failure reported by the peripheral layer
func NewBusFaultError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrBusFault, err), ErrorTypeTransient)
}

// CommandError is returned when the module answers a command with its error sentinel
type CommandError struct {
	Command    string
	Diagnostic string
}

func (e *CommandError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("command %q: %v", e.Command, ErrProtocolRejected)
	}
	return fmt.Sprintf("command %q: %v: %s", e.Command, ErrProtocolRejected, e.Diagnostic)
}

func (*CommandError) Unwrap() error {
	return ErrProtocolRejected
}

// WriteError reports a send that failed after part of the data was accepted
type WriteError struct {
	Err     error
	Socket  int
	Written int
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("socket %d: %v after %d bytes: %v", e.Socket, ErrWriteFailed, e.Written, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}

// IsRetryable reports whether repeating the whole operation may succeed
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrBusFault),
		errors.Is(err, ErrSocketBusy),
		errors.Is(err, ErrConnectFailed):
		return true
	default:
		return false
	}
}

// GetErrorType classifies err
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrTransportTimeout), errors.Is(err, ErrCommandTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrBusFault),
		errors.Is(err, ErrSocketBusy),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrMalformedResponse):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
