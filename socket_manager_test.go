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
	"context"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-eswifi/logger"
	"github.com/stretchr/testify/assert"
	testmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testRemote = netip.MustParseAddrPort("203.0.113.5:80")

// newModule returns a mock that acknowledges every command and reports
// every write as fully accepted
func newModule() *MockTransport {
	m := NewMockTransport()
	m.OnFunc("S3=", func(_ string, payload []byte) (string, error) {
		return MockOK(strconv.Itoa(len(payload))), nil
	})
	return m
}

func newTestStack(t *testing.T, transport Transport, opts ...Option) *Stack {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	stack, err := New(transport, opts...)
	require.NoError(t, err)
	require.NoError(t, stack.Start(context.Background()))
	return stack
}

// transitionRecorder collects state transitions reported to the observer
type transitionRecorder struct {
	seen []SocketState
	mu   sync.Mutex
}

func (r *transitionRecorder) observe(_ int, from, to SocketState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		r.seen = append(r.seen, from)
	}
	r.seen = append(r.seen, to)
}

func (r *transitionRecorder) states() []SocketState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SocketState(nil), r.seen...)
}

func TestSocketManager_Open(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	for want := range MaxSockets {
		id, err := sockets.Open(ctx, ProtocolTCP)
		require.NoError(t, err)
		assert.Equal(t, want, id)
		assert.Equal(t, SocketOpen, sockets.State(id))
	}

	_, err := sockets.Open(ctx, ProtocolTCP)
	require.ErrorIs(t, err, ErrSocketBusy)

	require.NoError(t, sockets.Close(ctx, 2))
	id, err := sockets.Open(ctx, ProtocolUDP)
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	assert.Contains(t, mock.Commands(), "P1=1")
}

func TestSocketManager_Open_FailureReleasesID(t *testing.T) {
	t.Parallel()

	mock := newModule()
	mock.On("P1=", MockError("Invalid protocol"))
	stack := newTestStack(t, mock)

	_, err := stack.Sockets().Open(context.Background(), ProtocolTLS)
	require.ErrorIs(t, err, ErrProtocolRejected)
	assert.Equal(t, SocketClosed, stack.State(0))
}

func TestSocketManager_Open_TimeoutReleasesID(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock, WithReadyTimeout(10*time.Millisecond))
	mock.SetNeverReady(true)

	_, err := stack.Sockets().Open(context.Background(), ProtocolTCP)
	require.ErrorIs(t, err, ErrTransportTimeout)
	for id := range MaxSockets {
		assert.Equal(t, SocketClosed, stack.State(id))
	}
}

func TestSocketManager_OpenID(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t, newModule())
	sockets := stack.Sockets()
	ctx := context.Background()

	require.NoError(t, sockets.OpenID(ctx, 3, ProtocolUDP))
	assert.Equal(t, SocketOpen, sockets.State(3))

	err := sockets.OpenID(ctx, 3, ProtocolUDP)
	require.ErrorIs(t, err, ErrSocketBusy)
	assert.Equal(t, SocketOpen, sockets.State(3))

	require.ErrorIs(t, sockets.OpenID(ctx, MaxSockets, ProtocolTCP), ErrInvalidParameter)
	require.ErrorIs(t, sockets.OpenID(ctx, -1, ProtocolTCP), ErrInvalidParameter)
}

func TestSocketManager_Connect(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	start := len(mock.Commands())

	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	assert.Equal(t, SocketConnected, sockets.State(id))
	assert.Equal(t, testRemote, sockets.Remote(id))
	assert.Equal(t, []string{"P0=0", "P3=203.0.113.5", "P4=80", "P6=1"}, mock.Commands()[start:])

	err = sockets.Connect(ctx, id, testRemote)
	require.ErrorIs(t, err, ErrSocketBusy)
}

func TestSocketManager_Connect_Failures(t *testing.T) {
	t.Parallel()

	t.Run("Rejected_Stays_Open", func(t *testing.T) {
		t.Parallel()

		mock := newModule()
		mock.On("P6=1", MockError("Connection refused"))
		stack := newTestStack(t, mock)
		sockets := stack.Sockets()

		id, err := sockets.Open(context.Background(), ProtocolTCP)
		require.NoError(t, err)

		err = sockets.Connect(context.Background(), id, testRemote)
		require.ErrorIs(t, err, ErrConnectFailed)
		require.ErrorIs(t, err, ErrProtocolRejected)
		assert.Equal(t, SocketOpen, sockets.State(id))
		assert.False(t, sockets.Remote(id).IsValid())
	})

	t.Run("Closed_Socket", func(t *testing.T) {
		t.Parallel()

		stack := newTestStack(t, newModule())
		err := stack.Sockets().Connect(context.Background(), 1, testRemote)
		require.ErrorIs(t, err, ErrSocketBusy)
	})

	t.Run("Invalid_Remote", func(t *testing.T) {
		t.Parallel()

		stack := newTestStack(t, newModule())
		err := stack.Sockets().Connect(context.Background(), 0, netip.AddrPort{})
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestSocketManager_Bind(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	tcp, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.ErrorIs(t, sockets.Bind(ctx, tcp, 5000), ErrInvalidParameter)
	assert.Equal(t, SocketOpen, sockets.State(tcp))

	udp, err := sockets.Open(ctx, ProtocolUDP)
	require.NoError(t, err)
	require.ErrorIs(t, sockets.Bind(ctx, udp, 0), ErrInvalidParameter)

	start := len(mock.Commands())
	require.NoError(t, sockets.Bind(ctx, udp, 5000))
	assert.Equal(t, SocketBound, sockets.State(udp))
	assert.Equal(t, []string{"P0=1", "P2=5000", "P5=1"}, mock.Commands()[start:])
}

func TestSocketManager_Send_NotConnected(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	_, err := sockets.Send(ctx, 0, []byte("data"))
	require.ErrorIs(t, err, ErrNotConnected)

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	start := len(mock.Commands())

	_, err = sockets.Send(ctx, id, []byte("data"))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Len(t, mock.Commands(), start)
}

func TestSocketManager_Send_Chunks(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	start := len(mock.Commands())

	data := make([]byte, 2*MaxWriteChunk+100)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := sockets.Send(ctx, id, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, []string{"P0=0", "S3=1200", "S3=1200", "S3=100"}, mock.Commands()[start:])

	var sent []byte
	for _, p := range mock.Payloads()[start:] {
		sent = append(sent, p...)
	}
	assert.Equal(t, data, sent)

	n, err = sockets.Send(ctx, id, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSocketManager_Send_PartialAccept(t *testing.T) {
	t.Parallel()

	mock := newModule()
	first := true
	mock.OnFunc("S3=", func(_ string, payload []byte) (string, error) {
		if first {
			first = false
			return MockOK(strconv.Itoa(len(payload) - 200)), nil
		}
		return MockOK(strconv.Itoa(len(payload))), nil
	})
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	start := len(mock.Commands())

	n, err := sockets.Send(ctx, id, make([]byte, 1500))
	require.NoError(t, err)
	assert.Equal(t, 1500, n)
	assert.Equal(t, []string{"P0=0", "S3=1200", "S3=500"}, mock.Commands()[start:])
}

func TestSocketManager_Send_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr     error
		handler     func(calls int, payload []byte) string
		name        string
		wantWritten int
	}{
		{
			name: "Rejected_Mid_Stream",
			handler: func(calls int, payload []byte) string {
				if calls > 1 {
					return MockError("Socket closed")
				}
				return MockOK(strconv.Itoa(len(payload)))
			},
			wantErr:     ErrProtocolRejected,
			wantWritten: MaxWriteChunk,
		},
		{
			name:    "Nothing_Accepted",
			handler: func(int, []byte) string { return MockOK("0") },
			wantErr: ErrUnexpectedResponse,
		},
		{
			name:    "Count_Exceeds_Chunk",
			handler: func(int, []byte) string { return MockOK("5000") },
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "Count_Not_Numeric",
			handler: func(int, []byte) string { return MockOK("many") },
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := newModule()
			calls := 0
			mock.OnFunc("S3=", func(_ string, payload []byte) (string, error) {
				calls++
				return tt.handler(calls, payload), nil
			})
			stack := newTestStack(t, mock)
			sockets := stack.Sockets()
			ctx := context.Background()

			id, err := sockets.Open(ctx, ProtocolTCP)
			require.NoError(t, err)
			require.NoError(t, sockets.Connect(ctx, id, testRemote))

			n, err := sockets.Send(ctx, id, make([]byte, 2*MaxWriteChunk))
			require.ErrorIs(t, err, ErrWriteFailed)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantWritten, n)

			var writeErr *WriteError
			require.ErrorAs(t, err, &writeErr)
			assert.Equal(t, id, writeErr.Socket)
			assert.Equal(t, tt.wantWritten, writeErr.Written)
			assert.Equal(t, SocketConnected, sockets.State(id))
		})
	}
}

func TestSocketManager_SendTo(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolUDP)
	require.NoError(t, err)
	require.NoError(t, sockets.Bind(ctx, id, 5000))

	_, err = sockets.Send(ctx, id, []byte("ping"))
	require.ErrorIs(t, err, ErrNotConnected)

	start := len(mock.Commands())
	peer := netip.MustParseAddrPort("192.168.1.10:6000")
	n, err := sockets.SendTo(ctx, id, []byte("ping"), peer)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"P0=0", "P3=192.168.1.10", "P4=6000", "S3=4"}, mock.Commands()[start:])
}

func TestSocketManager_Receive(t *testing.T) {
	t.Parallel()

	mock := newModule()
	mock.On("R0", MockOK("HTTP/1.1 200 OK"))
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	buf := make([]byte, 64)
	_, err := sockets.Receive(ctx, 0, buf)
	require.ErrorIs(t, err, ErrNotConnected)

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	start := len(mock.Commands())

	n, err := sockets.Receive(ctx, id, buf)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK", string(buf[:n]))
	assert.Equal(t, []string{"P0=0", "R1=64", "R0"}, mock.Commands()[start:])

	mock.On("R0", MockOK(""))
	n, err = sockets.Receive(ctx, id, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSocketManager_Receive_CapsRequest(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))

	_, err = sockets.Receive(ctx, id, make([]byte, 4*MaxReadChunk))
	require.NoError(t, err)
	assert.Equal(t, 1, mock.CallCount("R1="+strconv.Itoa(MaxReadChunk)))
}

func TestSocketManager_Close(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	start := len(mock.Commands())

	require.NoError(t, sockets.Close(ctx, id))
	assert.Equal(t, SocketClosed, sockets.State(id))
	assert.Equal(t, []string{"P0=0", "P6=0"}, mock.Commands()[start:])

	// closing again is a no-op
	require.NoError(t, sockets.Close(ctx, id))
	assert.Len(t, mock.Commands(), start+2)
}

func TestSocketManager_Close_Bound(t *testing.T) {
	t.Parallel()

	mock := newModule()
	stack := newTestStack(t, mock)
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolUDP)
	require.NoError(t, err)
	require.NoError(t, sockets.Bind(ctx, id, 5000))

	require.NoError(t, sockets.Close(ctx, id))
	assert.Equal(t, 1, mock.CallCount("P5=0"))
	assert.Zero(t, mock.CallCount("P6=0"))
}

func TestSocketManager_Close_NotAcknowledged(t *testing.T) {
	t.Parallel()

	log := logger.NewMockLogger()
	log.On("Debug", testmock.Anything, testmock.Anything).Maybe()
	log.On("Info", testmock.Anything, testmock.Anything).Maybe()

	module := newModule()
	module.On("P6=0", MockError("Not connected"))
	stack := newTestStack(t, module, WithLogger(log))
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))

	log.On("Warn", "socket close not acknowledged", testmock.MatchedBy(func(kv []any) bool {
		return len(kv) == 4 && kv[0] == "socket" && kv[1] == id && kv[2] == "error"
	})).Once()

	err = sockets.Close(ctx, id)
	require.ErrorIs(t, err, ErrProtocolRejected)
	assert.Equal(t, SocketClosed, sockets.State(id))
	assert.Equal(t, 3, module.CallCount("P6=0"))
	log.AssertExpectations(t)
}

// resettableModule is a mock module wired to a reset line
type resettableModule struct {
	*MockTransport
	resets atomic.Int32
}

func (r *resettableModule) ResetModule(context.Context) error {
	r.resets.Add(1)
	return nil
}

func TestSocketManager_Close_Retry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failures   int
		wantStops  int
		wantResets int32
		wantErr    bool
	}{
		{name: "First_Attempt", failures: 0, wantStops: 1, wantResets: 1},
		{name: "Second_Attempt", failures: 1, wantStops: 2, wantResets: 1},
		{name: "Never_Acknowledged", failures: 3, wantStops: 2, wantResets: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			module := &resettableModule{MockTransport: newModule()}
			failures := tt.failures
			module.OnFunc("P6=0", func(string, []byte) (string, error) {
				if failures > 0 {
					failures--
					return MockError("Not connected"), nil
				}
				return MockOK(""), nil
			})
			stack := newTestStack(t, module, WithCloseRetryConfig(&RetryConfig{
				MaxAttempts:    2,
				InitialBackoff: time.Millisecond,
			}))
			sockets := stack.Sockets()
			ctx := context.Background()

			id, err := sockets.Open(ctx, ProtocolTCP)
			require.NoError(t, err)
			require.NoError(t, sockets.Connect(ctx, id, testRemote))
			bystander, err := sockets.Open(ctx, ProtocolUDP)
			require.NoError(t, err)
			require.NoError(t, sockets.Bind(ctx, bystander, 5000))

			err = sockets.Close(ctx, id)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrProtocolRejected)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, SocketClosed, sockets.State(id))
			assert.Equal(t, tt.wantStops, module.CallCount("P6=0"))
			assert.Equal(t, tt.wantResets, module.resets.Load())
			assert.Equal(t, int(tt.wantResets), module.CallCount("MT=1"))

			// a module reset takes every other socket down with it
			want := SocketBound
			if tt.wantErr {
				want = SocketClosed
			}
			assert.Equal(t, want, sockets.State(bystander))
		})
	}
}

func TestSocketManager_Info(t *testing.T) {
	t.Parallel()

	mock := newModule()
	mock.On("P?", MockOK("0,192.168.1.50,49152,203.0.113.5,80,1"))
	stack := newTestStack(t, mock)

	info, err := stack.Sockets().Info(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, SocketInfo{
		ID:        1,
		Protocol:  ProtocolTCP,
		LocalPort: 49152,
		Remote:    testRemote,
		Active:    true,
	}, info)
	assert.Equal(t, 1, mock.CallCount("P0=1"))
}

func TestParseSocketInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want    SocketInfo
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "Idle_Socket",
			body: "1,0.0.0.0,5000,0.0.0.0,0",
			want: SocketInfo{Protocol: ProtocolUDP, LocalPort: 5000, Remote: netip.MustParseAddrPort("0.0.0.0:0")},
		},
		{name: "Too_Few_Fields", body: "0,1.2.3.4", wantErr: true},
		{name: "Bad_Protocol", body: "x,1.2.3.4,1,1.2.3.4,1", wantErr: true},
		{name: "Bad_Port", body: "0,1.2.3.4,99999,1.2.3.4,1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info, err := parseSocketInfo([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, info)
		})
	}
}

func TestSocketManager_Observer(t *testing.T) {
	t.Parallel()

	recorder := &transitionRecorder{}
	stack := newTestStack(t, newModule(), WithStateObserver(recorder.observe))
	sockets := stack.Sockets()
	ctx := context.Background()

	id, err := sockets.Open(ctx, ProtocolTCP)
	require.NoError(t, err)
	require.NoError(t, sockets.Connect(ctx, id, testRemote))
	require.NoError(t, sockets.Close(ctx, id))

	assert.Equal(t, []SocketState{
		SocketClosed, SocketConfiguring, SocketOpen, SocketConnected, SocketClosing, SocketClosed,
	}, recorder.states())
}

func TestSocketManager_Close_WaitsForInFlightOperation(t *testing.T) {
	t.Parallel()

	mock := NewBlockingMockTransport()
	mock.SetBlockTimeout(time.Second)
	defer func() { _ = mock.Close() }()

	stack, err := New(mock, WithLogger(logger.Discard()), WithGateWait(20*time.Millisecond))
	require.NoError(t, err)
	sockets := stack.Sockets()

	opened := make(chan error, 1)
	go func() {
		_, err := sockets.Open(context.Background(), ProtocolTCP)
		opened <- err
	}()
	<-mock.Started()

	err = sockets.Close(context.Background(), 0)
	require.ErrorIs(t, err, ErrSocketBusy)
	assert.Equal(t, SocketConfiguring, sockets.State(0))

	// select, then protocol
	mock.Unblock()
	<-mock.Started()
	mock.Unblock()
	require.NoError(t, <-opened)
	assert.Equal(t, SocketOpen, sockets.State(0))
}

func TestSocketState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", SocketClosed.String())
	assert.Equal(t, "configuring", SocketConfiguring.String())
	assert.Equal(t, "open", SocketOpen.String())
	assert.Equal(t, "connected", SocketConnected.String())
	assert.Equal(t, "bound", SocketBound.String())
	assert.Equal(t, "closing", SocketClosing.String())
	assert.Equal(t, "unknown", SocketState(42).String())
}
