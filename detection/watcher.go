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

package detection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/internal/syncutil"
)

// DefaultPollInterval is how often a Watcher looks for a terminal while
// no cable is connected.
const DefaultPollInterval = time.Second

// Opener opens the port at path and announces it to h with HandleConnected.
type Opener func(ctx context.Context, path string, h ecr.PortHandler) error

// cableState is implemented by handlers that know whether they already
// hold a port, such as *ecr.Controller.
type cableState interface {
	IsCableConnected() bool
}

// Watcher polls for terminal cables and opens the best candidate. It
// implements ecr.Discoverer: the first Discover starts polling, later
// calls trigger an immediate scan with a fresh enumeration.
type Watcher struct {
	open     Opener
	logger   *zap.Logger
	trigger  chan struct{}
	port     string
	opts     Options
	interval time.Duration
	mu       syncutil.Mutex
	running  bool
}

var _ ecr.Discoverer = (*Watcher)(nil)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithOptions sets the detection options used for each scan.
func WithOptions(opts Options) WatcherOption {
	return func(w *Watcher) { w.opts = opts }
}

// WithPollInterval sets the delay between scans.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithFixedPort skips detection and only ever opens path.
func WithFixedPort(path string) WatcherOption {
	return func(w *Watcher) { w.port = path }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a Watcher that opens ports with open.
func NewWatcher(open Opener, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		open:     open,
		opts:     DefaultOptions(),
		interval: DefaultPollInterval,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Discover implements ecr.Discoverer. Polling stops when ctx is done.
func (w *Watcher) Discover(ctx context.Context, h ecr.PortHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		select {
		case w.trigger <- struct{}{}:
		default:
		}
		return nil
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx, h)
	return nil
}

// Running reports whether the polling goroutine is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) log() *zap.Logger {
	if w.logger != nil {
		return w.logger
	}
	return ecr.Logger()
}

func (w *Watcher) run(ctx context.Context, h ecr.PortHandler) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.scan(ctx, h)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			ClearDetectionCache()
			w.scan(ctx, h)
		case <-ticker.C:
			w.scan(ctx, h)
		}
	}
}

// scan opens the first candidate that succeeds. It does nothing while h
// already holds a port.
func (w *Watcher) scan(ctx context.Context, h ecr.PortHandler) bool {
	if cs, ok := h.(cableState); ok && cs.IsCableConnected() {
		return false
	}

	paths, err := w.candidates(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoDevicesFound) {
			w.log().Debug("port detection failed", zap.Error(err))
		}
		return false
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			return false
		}
		if err := w.open(ctx, path, h); err != nil {
			w.log().Debug("candidate port did not open", zap.String("port", path), zap.Error(err))
			continue
		}
		w.log().Info("opened terminal port", zap.String("port", path))
		return true
	}
	return false
}

func (w *Watcher) candidates(ctx context.Context) ([]string, error) {
	if w.port != "" {
		return []string{w.port}, nil
	}
	devices, err := DetectAll(ctx, &w.opts)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(devices))
	for _, d := range devices {
		paths = append(paths, d.Path)
	}
	return paths, nil
}
