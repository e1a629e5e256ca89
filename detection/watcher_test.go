// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//nolint:paralleltest // Tests share the detector registry
package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-ecr"
)

// mockOpener announces a MockPort for every path not listed in fail.
type mockOpener struct {
	fail   map[string]bool
	opened chan *ecr.MockPort
	calls  atomic.Int32
}

func newMockOpener(fail ...string) *mockOpener {
	m := &mockOpener{fail: make(map[string]bool), opened: make(chan *ecr.MockPort, 16)}
	for _, p := range fail {
		m.fail[p] = true
	}
	return m
}

func (m *mockOpener) open(_ context.Context, path string, h ecr.PortHandler) error {
	m.calls.Add(1)
	if m.fail[path] {
		return errors.New("device busy")
	}
	port := ecr.NewMockPort(path)
	h.HandleConnected(port)
	m.opened <- port
	return nil
}

func newTestController(t *testing.T) *ecr.Controller {
	t.Helper()
	c := ecr.New()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWatcher_FixedPort(t *testing.T) {
	withRegistry(t)
	opener := newMockOpener()
	w := NewWatcher(opener.open, WithFixedPort("/dev/ttyUSB7"), WithPollInterval(10*time.Millisecond))
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Discover(ctx, c))

	select {
	case port := <-opener.opened:
		assert.Equal(t, "/dev/ttyUSB7", port.Name())
	case <-time.After(time.Second):
		t.Fatal("port was not opened")
	}
	assert.True(t, c.IsCableConnected())
	assert.Equal(t, "/dev/ttyUSB7", c.PortName())
}

func TestWatcher_FallsBackToNextCandidate(t *testing.T) {
	withRegistry(t, &mockDetector{transport: "uart", devices: []DeviceInfo{
		{Transport: "uart", Path: "/dev/ttyUSB1", Confidence: Medium},
		{Transport: "uart", Path: "/dev/ttyACM0", Confidence: High},
	}})
	opener := newMockOpener("/dev/ttyACM0")
	w := NewWatcher(opener.open, WithPollInterval(time.Hour))
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Discover(ctx, c))

	select {
	case port := <-opener.opened:
		assert.Equal(t, "/dev/ttyUSB1", port.Name())
	case <-time.After(time.Second):
		t.Fatal("port was not opened")
	}
	assert.Equal(t, int32(2), opener.calls.Load())
}

func TestWatcher_IdleWhileConnected(t *testing.T) {
	withRegistry(t)
	opener := newMockOpener()
	w := NewWatcher(opener.open, WithFixedPort("/dev/ttyUSB0"), WithPollInterval(5*time.Millisecond))
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Discover(ctx, c))

	<-opener.opened
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), opener.calls.Load())
}

func TestWatcher_RediscoverAfterUnplug(t *testing.T) {
	withRegistry(t)
	opener := newMockOpener()
	w := NewWatcher(opener.open, WithFixedPort("/dev/ttyUSB0"), WithPollInterval(time.Hour))
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Discover(ctx, c))
	port := <-opener.opened

	c.HandleDisconnected(port, errors.New("unplugged"))
	require.False(t, c.IsCableConnected())

	// A second Discover wakes the running watcher instead of starting another.
	require.NoError(t, w.Discover(ctx, c))
	select {
	case <-opener.opened:
	case <-time.After(time.Second):
		t.Fatal("watcher did not rescan")
	}
	assert.True(t, c.IsCableConnected())
}

func TestWatcher_StopsWithContext(t *testing.T) {
	withRegistry(t)
	w := NewWatcher(newMockOpener("/dev/ttyUSB0").open,
		WithFixedPort("/dev/ttyUSB0"), WithPollInterval(5*time.Millisecond))
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Discover(ctx, c))
	assert.True(t, w.Running())

	cancel()
	assert.Eventually(t, func() bool { return !w.Running() }, time.Second, 5*time.Millisecond)
}

func TestWatcher_CancelledContext(t *testing.T) {
	w := NewWatcher(newMockOpener().open)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Discover(ctx, newTestController(t)), context.Canceled)
	assert.False(t, w.Running())
}

func TestWatcher_NoCandidates(t *testing.T) {
	withRegistry(t, &mockDetector{transport: "uart"})
	opener := newMockOpener()
	w := NewWatcher(opener.open, WithPollInterval(time.Hour))

	assert.False(t, w.scan(context.Background(), newTestController(t)))
	assert.Equal(t, int32(0), opener.calls.Load())
}
