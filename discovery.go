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

package ecr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Start begins automatic discovery, if a Discoverer is configured, and
// arms the initial cable status report. If no port has connected once the
// initial status delay elapses, OnCableStatusChanged receives
// MsgCableInitiallyMissing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrModuleTornDown
	}
	if !c.statusReported && c.port == nil && c.initialTimer == nil {
		c.initialTimer = time.AfterFunc(c.initialStatusDelay, c.reportInitialStatus)
	}
	d := c.discoverer
	c.mu.Unlock()

	if d == nil {
		return nil
	}
	if err := d.Discover(ctx, c); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	return nil
}

func (c *Controller) reportInitialStatus() {
	var fx effects
	c.mu.Lock()
	if c.closed || c.statusReported || c.port != nil {
		c.mu.Unlock()
		return
	}
	c.statusReported = true
	c.log().Info("no cable detected at startup")
	c.queueCableStatus(&fx, nil, false, MsgCableInitiallyMissing)
	c.mu.Unlock()
	fx.run()
}

// StartDiscovery re-triggers discovery on request. With a port already
// active it reports MsgCableCheckedConnected at once; otherwise it reports
// MsgNoCableAfterDiscovery if still no port is active after the settle
// delay.
func (c *Controller) StartDiscovery(ctx context.Context) error {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrModuleTornDown
	}
	d := c.discoverer
	if d == nil {
		c.mu.Unlock()
		return errDiscoveryUnavailable
	}

	if c.port != nil {
		c.queueCableStatus(&fx, c.port, true, MsgCableCheckedConnected)
	} else {
		stopTimer(c.discoveryTimer)
		c.discoverySeq++
		seq := c.discoverySeq
		c.discoveryTimer = time.AfterFunc(c.settleDelay, func() { c.discoverySettled(seq) })
	}
	c.mu.Unlock()
	fx.run()

	if err := d.Discover(ctx, c); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	return nil
}

func (c *Controller) discoverySettled(seq uint64) {
	var fx effects
	c.mu.Lock()
	if c.closed || seq != c.discoverySeq {
		c.mu.Unlock()
		return
	}
	if c.port != nil {
		c.mu.Unlock()
		return
	}
	c.log().Info("manual discovery found no port", zap.Duration("settle", c.settleDelay))
	c.queueCableStatus(&fx, nil, false, MsgNoCableAfterDiscovery)
	c.mu.Unlock()
	fx.run()
}
