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

import "github.com/google/uuid"

// Cable status messages.
const (
	MsgCableConnected        = "Cable connected, port ready."
	MsgCableDisconnected     = "Cable disconnected."
	MsgNoCableAfterDiscovery = "No cable detected after manual discovery attempt."
	MsgCableInitiallyMissing = "Cable initially not detected."
	MsgCableCheckedConnected = "Cable status checked via manual discovery: Connected."
)

// CableStatus reports a change in port availability.
type CableStatus struct {
	Port      string
	Message   string
	Connected bool
}

// DataReceived carries a valid frame that arrived with no transaction pending.
type DataReceived struct {
	Hex     string
	Payload []byte
}

// TransactionStatus names a step of the transaction lifecycle.
type TransactionStatus string

// Transaction statuses.
const (
	StatusAwaitingAck      TransactionStatus = "awaiting_ack"
	StatusRetrying         TransactionStatus = "retrying"
	StatusAwaitingResponse TransactionStatus = "awaiting_response"
	StatusCompleted        TransactionStatus = "completed"
	StatusFailed           TransactionStatus = "failed"
	StatusCancelled        TransactionStatus = "cancelled"
)

// TransactionProgress is emitted on every transaction state transition.
// Attempt is the send attempt number, starting at 1.
type TransactionProgress struct {
	Status     TransactionStatus
	Command    string
	Reason     string
	ID         uuid.UUID
	Attempt    int
	InProgress bool
}

// ErrorEvent is emitted for every surfaced failure.
type ErrorEvent struct {
	Err     error
	Message string
	Code    ErrorCode
}

// Callbacks receive controller notifications. Any field may be nil.
// Callbacks run on the goroutine that caused the event, after the
// controller has released its lock, so they may call back into it.
type Callbacks struct {
	OnCableStatusChanged  func(CableStatus)
	OnDataReceived        func(DataReceived)
	OnTransactionProgress func(TransactionProgress)
	OnError               func(ErrorEvent)
}
