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

package ecr

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-ecr/internal/syncutil"
)

// Port is an open byte link to a terminal.
type Port interface {
	// Write queues data for transmission. accepted, if non-nil, is called
	// exactly once with nil when the bytes have been handed to the device,
	// or with the write error. It may be called before Write returns.
	Write(data []byte, accepted func(error)) error

	// Close releases the port. Further writes fail with ErrPortClosed.
	Close() error

	// Name identifies the port, e.g. /dev/ttyUSB0.
	Name() string
}

// PortHandler receives port lifecycle events and inbound bytes. Chunks from
// one port are delivered from a single goroutine in arrival order.
type PortHandler interface {
	HandleConnected(p Port)
	HandleChunk(p Port, chunk []byte)
	HandleDisconnected(p Port, err error)
}

// Discoverer finds terminals and reports them to a PortHandler. Discover
// starts or re-triggers discovery and returns without waiting for a result.
type Discoverer interface {
	Discover(ctx context.Context, h PortHandler) error
}

// MockPort is an in-memory Port for tests. Writes are recorded, and an
// optional OnWrite hook lets a test script the terminal's replies.
type MockPort struct {
	writeErr   error
	acceptErr  error
	onWrite    func(data []byte)
	name       string
	writes     [][]byte
	mu         syncutil.Mutex
	closeCount int
	holdAccept bool
	closed     bool
}

// NewMockPort creates a mock port with the given name
func NewMockPort(name string) *MockPort {
	return &MockPort{name: name}
}

// Write implements Port
func (m *MockPort) Write(data []byte, accepted func(error)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return NewTransportError("write", m.name, ErrPortClosed, ErrorTypePermanent)
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	hold := m.holdAccept
	acceptErr := m.acceptErr
	hook := m.onWrite
	m.mu.Unlock()

	if accepted != nil && !hold {
		accepted(acceptErr)
	}
	if hook != nil {
		hook(buf)
	}
	return nil
}

// Close implements Port
func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

// Name implements Port
func (m *MockPort) Name() string {
	return m.name
}

// Test helper methods

// SetOnWrite installs a hook called after each successful write.
func (m *MockPort) SetOnWrite(hook func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = hook
}

// SetWriteError makes Write fail synchronously with err.
func (m *MockPort) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetAcceptError makes the accepted callback report err.
func (m *MockPort) SetAcceptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acceptErr = err
}

// HoldAccept suppresses the accepted callback, simulating a stalled device.
func (m *MockPort) HoldAccept(hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdAccept = hold
}

// Writes returns a copy of everything written so far.
func (m *MockPort) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// WriteCount returns the number of writes equal to data.
func (m *MockPort) WriteCount(data []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.writes {
		if string(w) == string(data) {
			n++
		}
	}
	return n
}

// IsClosed reports whether Close was called.
func (m *MockPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears recorded writes and injected errors.
func (m *MockPort) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
	m.writeErr = nil
	m.acceptErr = nil
	m.holdAccept = false
}

// errDiscoveryUnavailable is returned by StartDiscovery without a Discoverer.
var errDiscoveryUnavailable = errors.New("no discoverer configured")

func wrapWriteError(err error) error {
	if errors.Is(err, ErrWriteNotAccepted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrWriteNotAccepted, err)
}
