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

import "time"

// Terminal protocol timing.
const (
	// DefaultAckTimeout is the protocol-mandated wait for ACK/NAK after a command.
	DefaultAckTimeout = 2 * time.Second
	// DefaultTransactionResponseTimeout bounds the wait for the terminal's
	// response frame once a command has been acknowledged. Card-present
	// transactions wait on the customer, so this is long.
	DefaultTransactionResponseTimeout = 60 * time.Second
	// DefaultSimpleSendResponseTimeout is the response wait for single-attempt sends.
	DefaultSimpleSendResponseTimeout = 5 * time.Second
	// DefaultMaxRetries is the number of resends after a NAK or ack timeout.
	DefaultMaxRetries = 2
	// DefaultMaxInvalidFrames fails a transaction after this many consecutive
	// frames with a bad checksum.
	DefaultMaxInvalidFrames = 2
)

// Port handling timing.
const (
	// DefaultWriteAcceptTimeout bounds SendRaw's wait for the port to accept bytes.
	DefaultWriteAcceptTimeout = 2 * time.Second
	// DefaultDiscoverySettleDelay is how long a manual discovery waits before
	// reporting that no cable was found.
	DefaultDiscoverySettleDelay = 2500 * time.Millisecond
	// DefaultInitialStatusDelay is how long Start waits before reporting the
	// initial cable status.
	DefaultInitialStatusDelay = 2 * time.Second
	// DefaultTraceSize is the number of wire events kept per transaction.
	DefaultTraceSize = 32
)

// Port open retry constants control how opening a serial device is retried.
const (
	// DefaultOpenRetries is the number of attempts to open a port.
	DefaultOpenRetries = 3
	// OpenInitialBackoff is the initial delay between open attempts.
	OpenInitialBackoff = 100 * time.Millisecond
	// OpenMaxBackoff is the maximum delay between open attempts.
	OpenMaxBackoff = 500 * time.Millisecond
	// OpenBackoffMultiplier is the exponential backoff multiplier.
	OpenBackoffMultiplier = 2.0
	// OpenJitter is the random jitter factor (0.0-1.0).
	OpenJitter = 0.1
	// OpenRetryTimeout is the overall timeout for all open attempts.
	OpenRetryTimeout = 5 * time.Second
	// PortDrainRetries is the number of attempts to drain the output buffer.
	PortDrainRetries = 3
)
