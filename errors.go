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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Transaction errors. Every failed request resolves with one of these,
// wrapped in a *TransactionError.
var (
	ErrPortNotConnected           = errors.New("port not connected or ready for sending")
	ErrInvalidHexInput            = errors.New("invalid hex string provided for sending")
	ErrConcurrentOperation        = errors.New("another transaction is already in progress")
	ErrCommandAckTimeout          = errors.New("command not acknowledged by terminal")
	ErrTransactionResponseTimeout = errors.New("timed out waiting for transaction response")
	ErrMaxInvalidFrames           = errors.New("too many invalid frames received")
	ErrUserCancelled              = errors.New("transaction cancelled by user")
	ErrModuleTornDown             = errors.New("controller closed")
	ErrPortDisconnected           = errors.New("port disconnected during transaction")
	ErrInternalState              = errors.New("internal state inconsistency")
	ErrWriteNotAccepted           = errors.New("port did not accept the written bytes")
)

// Transport errors
var (
	ErrPortClosed     = errors.New("port is closed")
	ErrPortWrite      = errors.New("port write failed")
	ErrPortRead       = errors.New("port read failed")
	ErrPortTimeout    = errors.New("port timeout")
	ErrDeviceNotFound = errors.New("device not found")
)

// ErrorCode is a stable identifier for an error, reported in error
// notifications and CLI output.
type ErrorCode string

// Error codes.
const (
	CodePortNotConnected           ErrorCode = "PORT_NOT_CONNECTED"
	CodeInvalidHexInput            ErrorCode = "INVALID_HEX_INPUT"
	CodeConcurrentOperation        ErrorCode = "CONCURRENT_OPERATION_REJECTED"
	CodeCommandAckTimeout          ErrorCode = "COMMAND_ACK_TIMEOUT_EXCEEDED"
	CodeTransactionResponseTimeout ErrorCode = "TRANSACTION_RESPONSE_TIMEOUT"
	CodeMaxInvalidFrames           ErrorCode = "MAX_INVALID_FRAMES_EXCEEDED"
	CodeUserCancelled              ErrorCode = "USER_CANCELLED"
	CodeModuleTornDown             ErrorCode = "MODULE_TORN_DOWN"
	CodePortDisconnected           ErrorCode = "PORT_DISCONNECTED_DURING_TRANSACTION"
	CodeInternalState              ErrorCode = "INTERNAL_STATE_INCONSISTENCY"
	CodeWriteNotAccepted           ErrorCode = "WRITE_NOT_ACCEPTED"
	CodeTransport                  ErrorCode = "TRANSPORT_ERROR"
	CodeUnknown                    ErrorCode = "UNKNOWN"
)

var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrPortNotConnected, CodePortNotConnected},
	{ErrInvalidHexInput, CodeInvalidHexInput},
	{ErrConcurrentOperation, CodeConcurrentOperation},
	{ErrCommandAckTimeout, CodeCommandAckTimeout},
	{ErrTransactionResponseTimeout, CodeTransactionResponseTimeout},
	{ErrMaxInvalidFrames, CodeMaxInvalidFrames},
	{ErrUserCancelled, CodeUserCancelled},
	{ErrModuleTornDown, CodeModuleTornDown},
	{ErrPortDisconnected, CodePortDisconnected},
	{ErrInternalState, CodeInternalState},
	{ErrWriteNotAccepted, CodeWriteNotAccepted},
}

// CodeOf maps err to its ErrorCode. It returns "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) && txErr.Code != "" {
		return txErr.Code
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return CodeTransport
	}
	return CodeUnknown
}

// TransactionError describes why a request did not complete.
type TransactionError struct {
	Err      error
	Op       string
	Command  string // hex of the command that was sent
	Code     ErrorCode
	Attempts int
}

func (e *TransactionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %v (after %d attempts)", e.Op, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func newTransactionError(op, command string, attempts int, err error) *TransactionError {
	return &TransactionError{
		Op:       op,
		Command:  command,
		Attempts: attempts,
		Err:      err,
		Code:     CodeOf(err),
	}
}

// ErrorType represents the category of a transport error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps port-level errors with the port name and category.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrPortTimeout),
		errors.Is(err, ErrPortRead),
		errors.Is(err, ErrPortWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device is gone and the
// port should be treated as disconnected.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrPortClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB serial
// adapter is unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError carries the wire exchange of a failed transaction so that
// applications can report what was actually sent and received.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the terminal
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the terminal
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level event
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data.
//
//	var te *ecr.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	TxID  string
	Trace []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s %s] (no trace data)", e.Port, e.TxID)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s %s] Wire trace (%d entries):\n", e.Port, e.TxID, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	const limit = 32
	if len(data) == 0 {
		return "(empty)"
	}
	shown := data
	if len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, len(shown))
	for i, b := range shown {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	out := strings.Join(parts, " ")
	if len(data) > limit {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer collects wire events for one transaction in a fixed-size
// ring. It is not safe for concurrent use; the controller guards it.
type TraceBuffer struct {
	port    string
	txID    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a trace buffer holding at most maxSize entries.
func NewTraceBuffer(port, txID string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		port:    port,
		txID:    txID,
	}
}

// RecordTX records bytes written to the terminal
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes received from the terminal
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timer expiry
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Len returns the number of recorded entries
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// WrapError wraps err with a copy of the collected trace. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)
	return &TraceableError{
		Err:   err,
		Trace: entriesCopy,
		Port:  tb.port,
		TxID:  tb.txID,
	}
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
