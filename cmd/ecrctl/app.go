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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	ecr "github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/detection"
	detuart "github.com/ZaparooProject/go-ecr/detection/uart"
	"github.com/ZaparooProject/go-ecr/internal/config"
	"github.com/ZaparooProject/go-ecr/internal/syncutil"
	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
)

var errNotConnected = errors.New("terminal cable not connected")

// app wires a controller to a port watcher and prints what happens.
type app struct {
	out       io.Writer
	cfg       *config.Config
	ctrl      *ecr.Controller
	watcher   *detection.Watcher
	now       func() time.Time
	cableHook func(ecr.CableStatus)
	mu        syncutil.Mutex
	jsonOut   bool
}

func newApp(cfg *config.Config, out io.Writer, jsonOut bool) *app {
	a := &app{out: out, cfg: cfg, jsonOut: jsonOut, now: time.Now}
	a.watcher = detuart.NewWatcher(cfg.UART(), cfg.WatcherOptions()...)

	opts := cfg.ControllerOptions()
	opts = append(opts,
		ecr.WithDiscoverer(a.watcher),
		ecr.WithCallbacks(a.callbacks()),
	)
	a.ctrl = ecr.New(opts...)
	return a
}

func (a *app) start(ctx context.Context) error {
	if err := a.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	return a.ctrl.Close()
}

func (a *app) setCableHook(hook func(ecr.CableStatus)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cableHook = hook
}

func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *app) callbacks() ecr.Callbacks {
	return ecr.Callbacks{
		OnCableStatusChanged: func(s ecr.CableStatus) {
			a.printf("[cable] %s\n", s.Message)
			a.mu.Lock()
			hook := a.cableHook
			a.mu.Unlock()
			if hook != nil {
				hook(s)
			}
		},
		OnDataReceived: func(d ecr.DataReceived) {
			a.printf("[unsolicited] %s\n", d.Hex)
		},
		OnTransactionProgress: func(p ecr.TransactionProgress) {
			if p.Reason != "" {
				a.printf("[tx] %s attempt %d: %s\n", p.Status, p.Attempt, p.Reason)
				return
			}
			a.printf("[tx] %s attempt %d\n", p.Status, p.Attempt)
		},
		OnError: func(e ecr.ErrorEvent) {
			a.printf("[error] %s: %s\n", e.Code, e.Message)
		},
	}
}

// waitConnected blocks until the watcher has opened a port.
func (a *app) waitConnected(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !a.ctrl.IsCableConnected() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", errNotConnected, timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// transact sends msg and prints the decoded response.
func (a *app) transact(ctx context.Context, msg *ecrmsg.Message) error {
	cmdHex, err := msg.Hex()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := a.ctrl.SendDataAndAwaitTransaction(ctx, cmdHex)
	if err != nil {
		return err
	}
	return a.printResponse(resp)
}

type jsonResponse struct {
	Hex        string        `json:"hex"`
	Fields     []ecrmsg.Pair `json:"fields"`
	Successful bool          `json:"successful"`
}

func (a *app) printResponse(respHex string) error {
	resp, err := ecrmsg.DecodeHex(respHex)
	if err != nil {
		a.printf("Response: %s\n", respHex)
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if a.jsonOut {
		out, err := json.Marshal(jsonResponse{Hex: respHex, Fields: resp.Pairs(), Successful: resp.Successful()})
		if err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
		a.printf("%s\n", out)
		return nil
	}

	for _, p := range resp.Pairs() {
		a.printf("  %-32s %s\n", p.Label, p.Data)
	}
	if resp.Successful() {
		a.printf("Result: approved\n")
	} else {
		a.printf("Result: not approved (response code %s)\n", resp.Header.ResponseCode)
	}
	return nil
}

// listPorts prints every serial port with its confidence rating.
func listPorts(ctx context.Context, out io.Writer, cfg *config.Config) error {
	opts := cfg.DetectionOptions()
	opts.MinConfidence = detection.Low
	opts.EnableCache = false

	devices, err := detection.DetectAll(ctx, &opts)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(out, "No serial ports found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("port detection failed: %w", err)
	}
	for _, d := range devices {
		_, _ = fmt.Fprintln(out, d.String())
		for _, key := range []string{"product", "vidpid", "serial"} {
			if v, ok := d.Metadata[key]; ok {
				_, _ = fmt.Fprintf(out, "    %-8s %s\n", key, v)
			}
		}
	}
	return nil
}
