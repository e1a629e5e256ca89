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

// Package uart implements ecr.Port over a serial device using
// go.bug.st/serial. A Port runs one reader and one writer goroutine and
// reports inbound bytes and disconnection to an ecr.PortHandler.
package uart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ecr "github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/internal/syncutil"
)

// Serial line defaults for ECR terminals: 9600 baud, 8N1.
const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 50 * time.Millisecond
	DefaultWriteQueue  = 16
	readBufferSize     = 1024
	// readErrorBackoff spaces out reads after a transient read error.
	readErrorBackoff   = 10 * time.Millisecond
)

// Config describes how to open a serial port.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
	WriteQueue  int
}

// DefaultConfig returns the 9600 8N1 configuration.
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		WriteQueue:  DefaultWriteQueue,
	}
}

func (c Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

type writeRequest struct {
	accepted func(error)
	data     []byte
}

// Port is an open serial link to a terminal. It implements ecr.Port.
type Port struct {
	port    serial.Port
	handler ecr.PortHandler
	group   *errgroup.Group
	cancel  context.CancelFunc
	writes  chan writeRequest
	name    string
	mu      syncutil.Mutex
	closed  bool
}

var _ ecr.Port = (*Port)(nil)

// Open opens name, retrying transient failures, announces the port to h
// with HandleConnected and starts its I/O loops. If h rejects the port by
// closing it, the loops are not started.
func Open(ctx context.Context, name string, cfg Config, h ecr.PortHandler) (*Port, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteQueue <= 0 {
		cfg.WriteQueue = DefaultWriteQueue
	}

	var sp serial.Port
	err := ecr.RetryWithConfig(ctx, ecr.DefaultOpenRetryConfig(), func() error {
		p, err := openPort(name, cfg.mode())
		if err != nil {
			return classifyError("open", name, err)
		}
		sp = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := sp.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	if err := sp.ResetInputBuffer(); err != nil {
		ecr.Logger().Debug("failed to reset input buffer", zap.String("port", name), zap.Error(err))
	}

	p := newPort(sp, name, cfg, h)
	h.HandleConnected(p)
	if p.isClosed() {
		return p, nil
	}
	p.start()
	return p, nil
}

func newPort(sp serial.Port, name string, cfg Config, h ecr.PortHandler) *Port {
	return &Port{
		port:    sp,
		name:    name,
		handler: h,
		writes:  make(chan writeRequest, cfg.WriteQueue),
	}
}

func (p *Port) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	p.group = group
	group.Go(func() error { return p.readLoop(gctx) })
	group.Go(func() error { return p.writeLoop(gctx) })
}

// Name implements ecr.Port.
func (p *Port) Name() string {
	return p.name
}

// Write implements ecr.Port. Data is queued for the writer goroutine; a
// full queue is reported as a transient write error.
func (p *Port) Write(data []byte, accepted func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ecr.NewTransportError("write", p.name, ecr.ErrPortClosed, ecr.ErrorTypePermanent)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.writes <- writeRequest{data: buf, accepted: accepted}:
		return nil
	default:
		return ecr.NewTransportError("write", p.name,
			fmt.Errorf("%w: write queue full", ecr.ErrPortWrite), ecr.ErrorTypeTransient)
	}
}

// Close implements ecr.Port. It does not report a disconnect to the handler.
func (p *Port) Close() error {
	if !p.shutdown() {
		return nil
	}
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial close failed: %w", err)
	}
	return nil
}

// Wait blocks until the I/O loops have exited and returns the error that
// stopped them, if any.
func (p *Port) Wait() error {
	p.mu.Lock()
	group := p.group
	p.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// shutdown marks the port closed and stops the loops. It reports whether
// this call did the closing.
func (p *Port) shutdown() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// fail closes the port after an I/O error and tells the handler.
func (p *Port) fail(err error) {
	if !p.shutdown() {
		return
	}
	_ = p.port.Close()
	ecr.Logger().Warn("serial port lost", zap.String("port", p.name), zap.Error(err))
	p.handler.HandleDisconnected(p, err)
}

func (p *Port) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := p.port.Read(buf)
		if err != nil {
			if p.isClosed() {
				return nil
			}
			if isInterruptedSystemCall(err) {
				continue
			}
			terr := classifyError("read", p.name, err)
			if ecr.IsFatal(terr) {
				p.fail(terr)
				return terr
			}
			ecr.Logger().Debug("serial read error", zap.String("port", p.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		ecr.Debugf("RX %s: % X", p.name, chunk)
		p.handler.HandleChunk(p, chunk)
	}
}

func (p *Port) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.rejectQueued()
			return nil
		case req := <-p.writes:
			err := p.writeAll(req.data)
			if req.accepted != nil {
				req.accepted(err)
			}
			if err != nil && ecr.IsFatal(err) {
				p.fail(err)
				p.rejectQueued()
				return err
			}
		}
	}
}

// rejectQueued fails writes still queued once the port is closed.
func (p *Port) rejectQueued() {
	for {
		select {
		case req := <-p.writes:
			if req.accepted != nil {
				req.accepted(ecr.NewTransportError("write", p.name, ecr.ErrPortClosed, ecr.ErrorTypePermanent))
			}
		default:
			return
		}
	}
}

func (p *Port) writeAll(data []byte) error {
	ecr.Debugf("TX %s: % X", p.name, data)
	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return classifyError("write", p.name, err)
		}
		data = data[n:]
	}
	return p.drainWithRetry()
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for the output buffer to be transmitted, retrying
// interrupted system calls.
func (p *Port) drainWithRetry() error {
	baseDelay := 2 * time.Millisecond

	for attempt := range ecr.PortDrainRetries {
		err := p.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < ecr.PortDrainRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
			continue
		}
		return classifyError("drain", p.name, err)
	}
	return ecr.NewTransportError("drain", p.name,
		fmt.Errorf("%w: drain failed after %d retries", ecr.ErrPortWrite, ecr.PortDrainRetries),
		ecr.ErrorTypeTransient)
}

// classifyError maps go.bug.st/serial errors onto transport errors.
func classifyError(op, name string, err error) error {
	var te *ecr.TransportError
	if errors.As(err, &te) {
		return err
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		//nolint:exhaustive // Remaining codes are treated as transient
		switch portErr.Code() {
		case serial.PortNotFound:
			return ecr.NewTransportError(op, name, fmt.Errorf("%w: %w", ecr.ErrDeviceNotFound, err), ecr.ErrorTypePermanent)
		case serial.PortClosed:
			return ecr.NewTransportError(op, name, fmt.Errorf("%w: %w", ecr.ErrPortClosed, err), ecr.ErrorTypePermanent)
		case serial.PermissionDenied, serial.InvalidSerialPort, serial.InvalidSpeed,
			serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
			return ecr.NewTransportError(op, name, err, ecr.ErrorTypePermanent)
		case serial.PortBusy:
			return ecr.NewTransportError(op, name, fmt.Errorf("%w: %w", ecr.ErrPortTimeout, err), ecr.ErrorTypeTransient)
		}
	}

	if ecr.IsFatal(err) {
		return ecr.NewTransportError(op, name, err, ecr.ErrorTypePermanent)
	}
	sentinel := ecr.ErrPortRead
	if op != "read" {
		sentinel = ecr.ErrPortWrite
	}
	return ecr.NewTransportError(op, name, fmt.Errorf("%w: %w", sentinel, err), ecr.ErrorTypeTransient)
}
