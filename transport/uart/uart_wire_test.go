// go-ecr
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-ecr.
//
// go-ecr is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-ecr is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-ecr; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package uart

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	ecr "github.com/ZaparooProject/go-ecr"
	virt "github.com/ZaparooProject/go-ecr/internal/testing"
	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
)

var errPortClosed = errors.New("mock port closed")

// MockSerialPort wraps a simulated terminal to implement serial.Port.
type MockSerialPort struct {
	backend     io.ReadWriter
	unplugErr   error
	readTimeout time.Duration
	reads       atomic.Int64
	mu          sync.Mutex
	closed      bool
}

// NewMockSerialPort creates a mock serial port backed by backend.
func NewMockSerialPort(backend io.ReadWriter) *MockSerialPort {
	return &MockSerialPort{
		backend:     backend,
		readTimeout: 2 * time.Millisecond,
	}
}

func (*MockSerialPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.reads.Add(1)
	m.mu.Lock()
	closed, unplugErr, timeout := m.closed, m.unplugErr, m.readTimeout
	m.mu.Unlock()
	if closed {
		return 0, errPortClosed
	}
	if unplugErr != nil {
		return 0, unplugErr
	}

	n, err := m.backend.Read(p)
	if err != nil {
		return n, err //nolint:wrapcheck // Pass-through mock
	}
	if n == 0 {
		time.Sleep(timeout)
	}
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, errPortClosed
	}
	return m.backend.Write(p) //nolint:wrapcheck // Pass-through mock
}

func (*MockSerialPort) Drain() error {
	return nil
}

func (*MockSerialPort) ResetInputBuffer() error {
	return nil
}

func (*MockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*MockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (*MockSerialPort) SetRTS(_ bool) error {
	return nil
}

func (*MockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTimeout = t
	return nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (*MockSerialPort) Break(_ time.Duration) error {
	return nil
}

// Unplug makes every further read fail with err.
func (m *MockSerialPort) Unplug(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unplugErr = err
}

func (m *MockSerialPort) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ serial.Port = (*MockSerialPort)(nil)

// recordingHandler is a PortHandler that records what it is told.
type recordingHandler struct {
	disconnected chan error
	chunks       [][]byte
	connected    []ecr.Port
	mu           sync.Mutex
	reject       bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{disconnected: make(chan error, 1)}
}

func (h *recordingHandler) HandleConnected(p ecr.Port) {
	h.mu.Lock()
	h.connected = append(h.connected, p)
	reject := h.reject
	h.mu.Unlock()
	if reject {
		_ = p.Close()
	}
}

func (h *recordingHandler) HandleChunk(_ ecr.Port, chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks = append(h.chunks, chunk)
}

func (h *recordingHandler) HandleDisconnected(_ ecr.Port, err error) {
	h.disconnected <- err
}

func (h *recordingHandler) received() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []byte
	for _, c := range h.chunks {
		out = append(out, c...)
	}
	return out
}

func (h *recordingHandler) connectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connected)
}

// attach starts a Port over mock the way Open does, without the device lookup.
func attach(t *testing.T, mock *MockSerialPort, h ecr.PortHandler) *Port {
	t.Helper()
	p := newPort(mock, "/dev/ttyMOCK0", DefaultConfig(), h)
	h.HandleConnected(p)
	p.start()
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testPolicy() ecr.RetryPolicy {
	return ecr.RetryPolicy{
		MaxRetries:         2,
		AckTimeout:         500 * time.Millisecond,
		ResponseTimeout:    2 * time.Second,
		ImplicitAckOnFrame: true,
	}
}

func logonHex(t *testing.T) string {
	t.Helper()
	h, err := ecrmsg.Logon(time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)).Hex()
	require.NoError(t, err)
	return h
}

func newController(t *testing.T) *ecr.Controller {
	t.Helper()
	c := ecr.New(ecr.WithTransactionPolicy(testPolicy()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUART_TransactionRoundTrip(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	mock := NewMockSerialPort(virt.NewJitteryConnection(sim, virt.DefaultJitterConfig()))
	c := newController(t)
	attach(t, mock, c)
	require.True(t, c.IsCableConnected())

	respHex, err := c.SendDataAndAwaitTransaction(context.Background(), logonHex(t))
	require.NoError(t, err)

	resp, err := ecrmsg.DecodeHex(respHex)
	require.NoError(t, err)
	assert.True(t, resp.Successful())
	assert.Equal(t, ecrmsg.FunctionLogon, resp.Header.FunctionCode)

	require.Eventually(t, func() bool {
		return string(sim.HostTokens()) == string([]byte{0x06})
	}, time.Second, 5*time.Millisecond, "host must ACK the response")
	assert.Len(t, sim.Received(), 1)
}

func TestUART_RetriesAfterTerminalNAK(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	sim.InjectNAK(2)
	c := newController(t)
	attach(t, NewMockSerialPort(sim), c)

	respHex, err := c.SendDataAndAwaitTransaction(context.Background(), logonHex(t))
	require.NoError(t, err)
	assert.True(t, ecrmsg.IsSuccessful(respHex))
	assert.Len(t, sim.Received(), 1)
}

func TestUART_CorruptResponseIsRetransmitted(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	sim.InjectChecksumError(1)
	c := newController(t)
	attach(t, NewMockSerialPort(sim), c)

	respHex, err := c.SendDataAndAwaitTransaction(context.Background(), logonHex(t))
	require.NoError(t, err)
	assert.True(t, ecrmsg.IsSuccessful(respHex))
	require.Eventually(t, func() bool {
		return string(sim.HostTokens()) == string([]byte{0x15, 0x06})
	}, time.Second, 5*time.Millisecond)
}

func TestUART_DeclinedResponse(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	sim.SetResponder(virt.DeclineAll(virt.ResponseDecline))
	c := newController(t)
	attach(t, NewMockSerialPort(sim), c)

	respHex, err := c.SendDataAndAwaitTransaction(context.Background(), logonHex(t))
	require.NoError(t, err)
	assert.False(t, ecrmsg.IsSuccessful(respHex))
}

func TestUART_UnplugReportsDisconnect(t *testing.T) {
	t.Parallel()

	mock := NewMockSerialPort(virt.NewVirtualTerminal())
	h := newRecordingHandler()
	p := attach(t, mock, h)

	mock.Unplug(syscall.EIO)

	select {
	case err := <-h.disconnected:
		assert.True(t, ecr.IsFatal(err))
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
	require.Error(t, p.Wait())
	assert.True(t, mock.isClosed())

	err := p.Write([]byte{0x06}, nil)
	require.ErrorIs(t, err, ecr.ErrPortClosed)
}

func TestUART_TransientReadErrorBacksOff(t *testing.T) {
	t.Parallel()

	mock := NewMockSerialPort(virt.NewVirtualTerminal())
	h := newRecordingHandler()
	attach(t, mock, h)

	mock.Unplug(errors.New("framing glitch"))
	start := mock.reads.Load()
	time.Sleep(100 * time.Millisecond)
	failed := mock.reads.Load() - start
	mock.Unplug(nil)

	assert.LessOrEqual(t, failed, int64(20), "reads must be spaced out after a transient error")
	select {
	case err := <-h.disconnected:
		t.Fatalf("transient error reported as disconnect: %v", err)
	default:
	}
}

func TestUART_ControllerSeesUnplug(t *testing.T) {
	t.Parallel()

	mock := NewMockSerialPort(virt.NewVirtualTerminal())
	c := newController(t)
	attach(t, mock, c)

	mock.Unplug(syscall.ENODEV)
	require.Eventually(t, func() bool { return !c.IsCableConnected() }, time.Second, 5*time.Millisecond)
}

func TestUART_ForwardsUnsolicitedBytes(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	require.NoError(t, sim.SendUnsolicited([]byte("HELLO")))
	h := newRecordingHandler()
	attach(t, NewMockSerialPort(sim), h)

	require.Eventually(t, func() bool {
		return strings.Contains(string(h.received()), "HELLO")
	}, time.Second, 5*time.Millisecond)
}

func TestUART_CloseStopsLoops(t *testing.T) {
	t.Parallel()

	mock := NewMockSerialPort(virt.NewVirtualTerminal())
	h := newRecordingHandler()
	p := attach(t, mock, h)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, p.Wait())
	assert.True(t, mock.isClosed())

	select {
	case err := <-h.disconnected:
		t.Fatalf("Close must not report a disconnect, got %v", err)
	default:
	}
}

func TestUART_WriteAcceptedCallback(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualTerminal()
	p := attach(t, NewMockSerialPort(sim), newRecordingHandler())

	done := make(chan error, 1)
	require.NoError(t, p.Write([]byte{0x06}, func(err error) { done <- err }))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("accepted callback not called")
	}
	assert.Equal(t, []byte{0x06}, sim.HostTokens())
	assert.Equal(t, "/dev/ttyMOCK0", p.Name())
}

func TestUART_WriteQueueFull(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WriteQueue = 1
	p := newPort(NewMockSerialPort(virt.NewVirtualTerminal()), "/dev/ttyMOCK1", cfg, newRecordingHandler())

	require.NoError(t, p.Write([]byte{0x01}, nil))
	err := p.Write([]byte{0x02}, nil)
	require.ErrorIs(t, err, ecr.ErrPortWrite)
	assert.True(t, ecr.IsRetryable(err))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err       error
		wantIs    error
		name      string
		op        string
		wantFatal bool
	}{
		{name: "device gone on read", op: "read", err: syscall.EIO, wantIs: syscall.EIO, wantFatal: true},
		{name: "other read error", op: "read", err: errors.New("glitch"), wantIs: ecr.ErrPortRead},
		{name: "other write error", op: "write", err: errors.New("glitch"), wantIs: ecr.ErrPortWrite},
		{
			name:      "already classified",
			op:        "write",
			err:       ecr.NewTransportError("write", "x", ecr.ErrPortClosed, ecr.ErrorTypePermanent),
			wantIs:    ecr.ErrPortClosed,
			wantFatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := classifyError(tt.op, "/dev/ttyUSB0", tt.err)
			require.ErrorIs(t, got, tt.wantIs)
			assert.Equal(t, tt.wantFatal, ecr.IsFatal(got))
		})
	}
}

//nolint:paralleltest // Replaces the package-level openPort
func TestOpen(t *testing.T) {
	original := openPort
	t.Cleanup(func() { openPort = original })

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		openPort = func(string, *serial.Mode) (serial.Port, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("resource temporarily unavailable")
			}
			return NewMockSerialPort(virt.NewVirtualTerminal()), nil
		}

		h := newRecordingHandler()
		p, err := Open(context.Background(), "/dev/ttyUSB0", Config{}, h)
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		assert.Equal(t, 3, calls)
		assert.Equal(t, 1, h.connectedCount())
	})

	t.Run("device gone is not retried", func(t *testing.T) {
		calls := 0
		openPort = func(string, *serial.Mode) (serial.Port, error) {
			calls++
			return nil, syscall.ENODEV
		}

		_, err := Open(context.Background(), "/dev/ttyUSB9", DefaultConfig(), newRecordingHandler())
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, ecr.IsFatal(err))
	})

	t.Run("rejected port is not started", func(t *testing.T) {
		mock := NewMockSerialPort(virt.NewVirtualTerminal())
		openPort = func(_ string, mode *serial.Mode) (serial.Port, error) {
			assert.Equal(t, DefaultBaudRate, mode.BaudRate)
			assert.Equal(t, 8, mode.DataBits)
			return mock, nil
		}

		h := newRecordingHandler()
		h.reject = true
		p, err := Open(context.Background(), "/dev/ttyUSB1", DefaultConfig(), h)
		require.NoError(t, err)
		assert.True(t, mock.isClosed())
		require.NoError(t, p.Wait())
	})
}
