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
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ZaparooProject/go-ecr/internal/frame"
	"github.com/ZaparooProject/go-ecr/internal/syncutil"
	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
)

// Operation names used in errors and logs.
const (
	opTransaction = "SendDataAndAwaitTransaction"
	opSendData    = "SendData"
	opSendRaw     = "SendRaw"
)

// State is the transaction state.
type State int

// Transaction states. Idle is both initial and resting.
const (
	StateIdle State = iota
	StateAwaitingCommandAck
	StateAwaitingTransactionResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingCommandAck:
		return "AwaitingCommandAck"
	case StateAwaitingTransactionResponse:
		return "AwaitingTransactionResponse"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type txResult struct {
	err error
	hex string
}

// transaction is the single in-flight request. It is only touched with
// Controller.mu held.
type transaction struct {
	port          Port
	timer         *time.Timer
	result        chan txResult
	trace         *TraceBuffer
	op            string
	commandHex    string
	command       []byte
	policy        RetryPolicy
	gen           uint64
	timerSeq      uint64
	state         State
	retryCount    int
	attempts      int
	invalidStreak int
	id            uuid.UUID
}

// effects are actions deferred until the controller lock is released:
// port writes and callback notifications, run in the order queued.
type effects []func()

func (fx *effects) add(f func()) {
	*fx = append(*fx, f)
}

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

// Controller drives the ECR link: it owns the active port, the frame
// decoder and at most one pending transaction. It implements PortHandler so
// a transport or Discoverer can feed it directly.
type Controller struct {
	discoverer         Discoverer
	port               Port
	logger             *zap.Logger
	decoder            *frame.Decoder
	tx                 *transaction
	initialTimer       *time.Timer
	discoveryTimer     *time.Timer
	callbacks          Callbacks
	ackQueue           []byte
	txPolicy           RetryPolicy
	simplePolicy       RetryPolicy
	gen                uint64
	discoverySeq       uint64
	maxInvalidFrames   int
	traceSize          int
	writeTimeout       time.Duration
	settleDelay        time.Duration
	initialStatusDelay time.Duration
	mu                 syncutil.Mutex
	closed             bool
	statusReported     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger. Defaults to Logger().
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithCallbacks sets the notification callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Controller) { c.callbacks = cb }
}

// WithTransactionPolicy sets the policy for SendDataAndAwaitTransaction.
func WithTransactionPolicy(p RetryPolicy) Option {
	return func(c *Controller) { c.txPolicy = p }
}

// WithSimpleSendPolicy sets the policy for SendData.
func WithSimpleSendPolicy(p RetryPolicy) Option {
	return func(c *Controller) { c.simplePolicy = p }
}

// WithDiscoverer sets the Discoverer used by Start and StartDiscovery.
func WithDiscoverer(d Discoverer) Option {
	return func(c *Controller) { c.discoverer = d }
}

// WithSettleDelay sets how long StartDiscovery waits before reporting no cable.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settleDelay = d }
}

// WithInitialStatusDelay sets how long Start waits before reporting that no
// cable is present.
func WithInitialStatusDelay(d time.Duration) Option {
	return func(c *Controller) { c.initialStatusDelay = d }
}

// WithWriteTimeout sets SendRaw's wait for the port to accept bytes.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Controller) { c.writeTimeout = d }
}

// WithMaxInvalidFrames sets the consecutive invalid frame limit.
func WithMaxInvalidFrames(n int) Option {
	return func(c *Controller) { c.maxInvalidFrames = n }
}

// WithTraceSize sets the number of wire events kept per transaction.
func WithTraceSize(n int) Option {
	return func(c *Controller) { c.traceSize = n }
}

// New creates an idle controller with no port.
func New(opts ...Option) *Controller {
	c := &Controller{
		txPolicy:           DefaultTransactionPolicy(),
		simplePolicy:       DefaultSimpleSendPolicy(),
		maxInvalidFrames:   DefaultMaxInvalidFrames,
		traceSize:          DefaultTraceSize,
		writeTimeout:       DefaultWriteAcceptTimeout,
		settleDelay:        DefaultDiscoverySettleDelay,
		initialStatusDelay: DefaultInitialStatusDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxInvalidFrames < 1 {
		c.maxInvalidFrames = 1
	}
	c.decoder = frame.NewDecoder(func(code byte) {
		c.ackQueue = append(c.ackQueue, code)
	})
	return c
}

func (c *Controller) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return Logger()
}

// IsCableConnected reports whether a port is active.
func (c *Controller) IsCableConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// PortName returns the active port's name, or "".
func (c *Controller) PortName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return ""
	}
	return c.port.Name()
}

// IsTransactionInProgress reports whether a request is pending.
func (c *Controller) IsTransactionInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// State returns the current transaction state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return StateIdle
	}
	return c.tx.state
}

// SetTransactionTimeout sets the response timeout used by subsequent
// SendDataAndAwaitTransaction calls. A pending transaction keeps its timer.
func (c *Controller) SetTransactionTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: transaction timeout must be positive, got %s", ErrInvalidPolicy, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txPolicy.ResponseTimeout = d
	return nil
}

// TransactionPolicy returns the policy used by SendDataAndAwaitTransaction.
func (c *Controller) TransactionPolicy() RetryPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txPolicy
}

// SendDataAndAwaitTransaction writes a framed command given as hex and waits
// for the terminal's response frame, retrying on NAK or ack timeout. It
// returns the response payload as uppercase hex. Cancelling ctx cancels the
// transaction.
func (c *Controller) SendDataAndAwaitTransaction(ctx context.Context, hexData string) (string, error) {
	return c.transact(ctx, opTransaction, hexData, false)
}

// SendData is SendDataAndAwaitTransaction with the single-attempt policy.
func (c *Controller) SendData(ctx context.Context, hexData string) (string, error) {
	return c.transact(ctx, opSendData, hexData, true)
}

// CancelPendingTransaction fails the pending transaction with
// ErrUserCancelled. It returns false when nothing was pending.
func (c *Controller) CancelPendingTransaction() bool {
	var fx effects
	c.mu.Lock()
	if c.tx == nil {
		c.mu.Unlock()
		return false
	}
	c.fail(&fx, ErrUserCancelled)
	c.mu.Unlock()
	fx.run()
	return true
}

// Close tears the controller down. A pending transaction fails with
// ErrModuleTornDown and the active port is closed.
func (c *Controller) Close() error {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stopTimer(c.initialTimer)
	stopTimer(c.discoveryTimer)
	if c.tx != nil {
		c.fail(&fx, ErrModuleTornDown)
	}
	p := c.port
	c.port = nil
	c.decoder.Reset()
	c.mu.Unlock()
	fx.run()

	if p == nil {
		return nil
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close port %s: %w", p.Name(), err)
	}
	return nil
}

// SendRaw writes hex-encoded bytes without framing or transaction
// tracking. It reports whether the port accepted the bytes within the
// write timeout.
func (c *Controller) SendRaw(ctx context.Context, hexData string) (bool, error) {
	data, err := ecrmsg.ParseHex(hexData)
	if err != nil {
		return false, c.reject(opSendRaw, hexData, fmt.Errorf("%w: %w", ErrInvalidHexInput, err))
	}

	c.mu.Lock()
	p, closed, timeout := c.port, c.closed, c.writeTimeout
	c.mu.Unlock()

	switch {
	case closed:
		return false, c.reject(opSendRaw, hexData, ErrModuleTornDown)
	case p == nil:
		return false, c.reject(opSendRaw, hexData, ErrPortNotConnected)
	}

	done := make(chan error, 1)
	if err := p.Write(data, func(err error) { done <- err }); err != nil {
		return false, c.reject(opSendRaw, hexData, wrapWriteError(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return false, c.reject(opSendRaw, hexData, wrapWriteError(err))
		}
		return true, nil
	case <-timer.C:
		c.log().Warn("port did not accept write in time",
			zap.String("port", p.Name()), zap.Duration("timeout", timeout))
		return false, c.reject(opSendRaw, hexData, ErrWriteNotAccepted)
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", opSendRaw, ctx.Err())
	}
}

func (c *Controller) transact(ctx context.Context, op, hexData string, simple bool) (string, error) {
	data, err := ecrmsg.ParseHex(hexData)
	if err != nil {
		return "", c.reject(op, hexData, fmt.Errorf("%w: %w", ErrInvalidHexInput, err))
	}

	var fx effects
	c.mu.Lock()
	tx, err := c.begin(&fx, op, data, simple)
	c.mu.Unlock()
	fx.run()
	if err != nil {
		return "", err
	}

	select {
	case res := <-tx.result:
		return res.hex, res.err
	case <-ctx.Done():
		c.abort(tx.gen, fmt.Errorf("%w: %w", ErrUserCancelled, ctx.Err()))
		res := <-tx.result
		return res.hex, res.err
	}
}

// begin starts a transaction. Called with c.mu held.
func (c *Controller) begin(fx *effects, op string, data []byte, simple bool) (*transaction, error) {
	cmdHex := strings.ToUpper(hex.EncodeToString(data))

	var rejectErr error
	switch {
	case c.closed:
		rejectErr = ErrModuleTornDown
	case c.port == nil:
		rejectErr = ErrPortNotConnected
	case c.tx != nil:
		rejectErr = ErrConcurrentOperation
	}
	if rejectErr != nil {
		txErr := newTransactionError(op, cmdHex, 0, rejectErr)
		c.queueError(fx, txErr)
		return nil, txErr
	}

	policy := c.txPolicy
	if simple {
		policy = c.simplePolicy
	}
	if err := policy.Validate(); err != nil {
		txErr := newTransactionError(op, cmdHex, 0, fmt.Errorf("%w: %w", ErrInternalState, err))
		c.queueError(fx, txErr)
		return nil, txErr
	}

	c.gen++
	id := uuid.New()
	tx := &transaction{
		id:         id,
		gen:        c.gen,
		port:       c.port,
		op:         op,
		command:    data,
		commandHex: cmdHex,
		policy:     policy,
		state:      StateAwaitingCommandAck,
		result:     make(chan txResult, 1),
		trace:      NewTraceBuffer(c.port.Name(), id.String(), c.traceSize),
	}
	c.tx = tx

	c.log().Info("transaction started",
		zap.String("tx_id", id.String()),
		zap.String("op", op),
		zap.String("command", cmdHex),
		zap.Int("max_retries", policy.MaxRetries),
		zap.Duration("response_timeout", policy.ResponseTimeout))

	c.armTimer(tx, policy.AckTimeout)
	c.send(fx, tx, StatusAwaitingAck, "command sent")
	return tx, nil
}

// send queues a write of the command, preceded by its progress event.
func (c *Controller) send(fx *effects, tx *transaction, status TransactionStatus, reason string) {
	tx.attempts++
	tx.trace.RecordTX(tx.command, fmt.Sprintf("attempt %d", tx.attempts))
	c.progress(fx, tx, status, reason)
	p, data, gen := tx.port, tx.command, tx.gen
	fx.add(func() { c.writeCommand(p, data, gen) })
}

func (c *Controller) writeCommand(p Port, data []byte, gen uint64) {
	err := p.Write(data, func(err error) {
		if err != nil {
			c.abort(gen, wrapWriteError(err))
		}
	})
	if err != nil {
		c.abort(gen, wrapWriteError(err))
	}
}

func (c *Controller) queueAck(fx *effects, p Port, code byte) {
	fx.add(func() {
		if err := p.Write([]byte{code}, nil); err != nil {
			c.log().Warn("failed to write acknowledgement",
				zap.String("port", p.Name()), zap.Uint8("code", code), zap.Error(err))
		}
	})
}

// armTimer replaces the transaction's timer. Called with c.mu held.
func (c *Controller) armTimer(tx *transaction, d time.Duration) {
	stopTimer(tx.timer)
	tx.timerSeq++
	gen, seq := tx.gen, tx.timerSeq
	tx.timer = time.AfterFunc(d, func() { c.onTimer(gen, seq) })
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// onTimer runs when an ack or response timer fires. Timers from earlier
// transactions, or re-armed since, are ignored.
func (c *Controller) onTimer(gen, seq uint64) {
	var fx effects
	c.mu.Lock()
	tx := c.tx
	if tx == nil || tx.gen != gen || tx.timerSeq != seq {
		c.mu.Unlock()
		return
	}

	switch tx.state {
	case StateAwaitingCommandAck:
		tx.trace.RecordTimeout("command ack")
		c.retryOrFail(&fx, tx, "ack timeout")
	case StateAwaitingTransactionResponse:
		tx.trace.RecordTimeout("transaction response")
		c.fail(&fx, ErrTransactionResponseTimeout)
	default:
		c.fail(&fx, ErrInternalState)
	}
	c.mu.Unlock()
	fx.run()
}

// abort fails the transaction of generation gen, if it is still pending.
func (c *Controller) abort(gen uint64, err error) {
	var fx effects
	c.mu.Lock()
	if c.tx == nil || c.tx.gen != gen {
		c.mu.Unlock()
		return
	}
	c.fail(&fx, err)
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) retryOrFail(fx *effects, tx *transaction, reason string) {
	if tx.retryCount >= tx.policy.MaxRetries {
		c.fail(fx, fmt.Errorf("%w: %s", ErrCommandAckTimeout, reason))
		return
	}
	tx.retryCount++
	c.log().Warn("resending command",
		zap.String("tx_id", tx.id.String()),
		zap.String("reason", reason),
		zap.Int("retry", tx.retryCount),
		zap.Int("max_retries", tx.policy.MaxRetries))

	c.armTimer(tx, tx.policy.AckTimeout)
	c.send(fx, tx, StatusRetrying, reason)
}

func (c *Controller) acknowledge(fx *effects, tx *transaction) {
	tx.retryCount = 0
	tx.state = StateAwaitingTransactionResponse
	c.armTimer(tx, tx.policy.ResponseTimeout)
	c.log().Debug("command acknowledged", zap.String("tx_id", tx.id.String()))
	c.progress(fx, tx, StatusAwaitingResponse, "command acknowledged")
}

// finish detaches the pending transaction. Called with c.mu held.
func (c *Controller) finish() *transaction {
	tx := c.tx
	stopTimer(tx.timer)
	tx.state = StateIdle
	c.tx = nil
	return tx
}

func (c *Controller) resolve(fx *effects, payload []byte) {
	tx := c.finish()
	result := strings.ToUpper(hex.EncodeToString(payload))
	tx.result <- txResult{hex: result}

	c.log().Info("transaction completed",
		zap.String("tx_id", tx.id.String()),
		zap.Int("attempts", tx.attempts),
		zap.Int("response_bytes", len(payload)))
	c.progress(fx, tx, StatusCompleted, "response received")
}

func (c *Controller) fail(fx *effects, err error) {
	tx := c.finish()
	txErr := newTransactionError(tx.op, tx.commandHex, tx.attempts, err)
	tx.result <- txResult{err: tx.trace.WrapError(txErr)}

	status := StatusFailed
	if errors.Is(err, ErrUserCancelled) {
		status = StatusCancelled
	}
	c.log().Warn("transaction failed",
		zap.String("tx_id", tx.id.String()),
		zap.String("code", string(txErr.Code)),
		zap.Int("attempts", tx.attempts),
		zap.Error(err))
	c.progress(fx, tx, status, err.Error())
	c.queueError(fx, txErr)
}

// reject reports an error for a request that never became a transaction.
// Must be called without c.mu held.
func (c *Controller) reject(op, command string, err error) error {
	txErr := newTransactionError(op, command, 0, err)
	c.log().Warn("request rejected", zap.String("op", op), zap.Error(err))
	if cb := c.callbacks.OnError; cb != nil {
		cb(ErrorEvent{Err: txErr, Message: txErr.Error(), Code: txErr.Code})
	}
	return txErr
}

func (c *Controller) queueError(fx *effects, err error) {
	cb := c.callbacks.OnError
	if cb == nil {
		return
	}
	ev := ErrorEvent{Err: err, Message: err.Error(), Code: CodeOf(err)}
	fx.add(func() { cb(ev) })
}

func (c *Controller) progress(fx *effects, tx *transaction, status TransactionStatus, reason string) {
	cb := c.callbacks.OnTransactionProgress
	if cb == nil {
		return
	}
	ev := TransactionProgress{
		ID:         tx.id,
		Status:     status,
		Command:    tx.commandHex,
		InProgress: c.tx == tx,
		Reason:     reason,
		Attempt:    tx.attempts,
	}
	fx.add(func() { cb(ev) })
}

func (c *Controller) queueCableStatus(fx *effects, p Port, connected bool, msg string) {
	cb := c.callbacks.OnCableStatusChanged
	if cb == nil {
		return
	}
	ev := CableStatus{Connected: connected, Message: msg}
	if p != nil {
		ev.Port = p.Name()
	}
	fx.add(func() { cb(ev) })
}

// HandleConnected implements PortHandler. The first port reported becomes
// active; further ports are closed while one is active.
func (c *Controller) HandleConnected(p Port) {
	var fx effects
	c.mu.Lock()
	if c.closed || (c.port != nil && c.port != p) {
		active := c.port
		c.mu.Unlock()
		if active != nil {
			c.log().Warn("port detected while another is active",
				zap.String("detected", p.Name()), zap.String("active", active.Name()))
		}
		_ = p.Close()
		return
	}
	if c.port == p {
		c.mu.Unlock()
		return
	}

	c.port = p
	c.statusReported = true
	c.decoder.Reset()
	c.ackQueue = c.ackQueue[:0]
	stopTimer(c.discoveryTimer)
	c.log().Info("port connected", zap.String("port", p.Name()))
	c.queueCableStatus(&fx, p, true, MsgCableConnected)
	c.mu.Unlock()
	fx.run()
}

// HandleDisconnected implements PortHandler. Disconnects of ports other than
// the active one are ignored.
func (c *Controller) HandleDisconnected(p Port, cause error) {
	var fx effects
	c.mu.Lock()
	if c.port == nil || c.port != p {
		c.mu.Unlock()
		c.log().Debug("ignoring disconnect of inactive port", zap.String("port", p.Name()))
		return
	}

	c.port = nil
	c.decoder.Reset()
	c.ackQueue = c.ackQueue[:0]
	c.log().Warn("port disconnected", zap.String("port", p.Name()), zap.Error(cause))
	if c.tx != nil {
		err := ErrPortDisconnected
		if cause != nil {
			err = fmt.Errorf("%w: %w", ErrPortDisconnected, cause)
		}
		c.fail(&fx, err)
	}
	c.queueCableStatus(&fx, p, false, MsgCableDisconnected)
	c.mu.Unlock()
	fx.run()
}

// HandleChunk implements PortHandler. Bytes from a port other than the
// active one are dropped.
func (c *Controller) HandleChunk(p Port, chunk []byte) {
	var fx effects
	c.mu.Lock()
	if c.closed || c.port != p {
		c.mu.Unlock()
		return
	}

	if c.tx != nil {
		c.tx.trace.RecordRX(chunk, "")
	}
	events := c.decoder.Feed(chunk)
	for _, code := range c.ackQueue {
		c.queueAck(&fx, p, code)
	}
	c.ackQueue = c.ackQueue[:0]

	for _, ev := range events {
		switch ev.Kind {
		case frame.EventToken:
			c.handleToken(&fx, ev.Token)
		case frame.EventFrame:
			c.handleFrame(&fx, ev.Payload, ev.Valid)
		}
	}
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) handleToken(fx *effects, token byte) {
	tx := c.tx
	if tx != nil {
		tx.invalidStreak = 0
	}
	if tx == nil || tx.state != StateAwaitingCommandAck {
		c.log().Debug("ignoring transport token", zap.Uint8("token", token))
		return
	}
	if token == frame.ACK {
		c.acknowledge(fx, tx)
		return
	}
	c.retryOrFail(fx, tx, "NAK received")
}

func (c *Controller) handleFrame(fx *effects, payload []byte, valid bool) {
	tx := c.tx
	if tx == nil {
		if !valid {
			c.log().Warn("discarding invalid frame", zap.Int("payload_bytes", len(payload)))
			return
		}
		c.queueData(fx, payload)
		return
	}

	if !valid {
		tx.invalidStreak++
		if tx.invalidStreak >= c.maxInvalidFrames {
			c.fail(fx, ErrMaxInvalidFrames)
			return
		}
		c.log().Warn("invalid frame, awaiting retransmission",
			zap.String("tx_id", tx.id.String()), zap.Int("streak", tx.invalidStreak))
		return
	}
	tx.invalidStreak = 0

	switch tx.state {
	case StateAwaitingCommandAck:
		switch {
		case len(payload) == 1 && payload[0] == frame.ACK:
			c.acknowledge(fx, tx)
		case len(payload) == 1 && payload[0] == frame.NAK:
			c.retryOrFail(fx, tx, "NAK frame received")
		case tx.policy.ImplicitAckOnFrame:
			c.log().Info("frame received before ACK, treating as response",
				zap.String("tx_id", tx.id.String()))
			c.resolve(fx, payload)
		default:
			c.log().Warn("discarding frame received before ACK",
				zap.String("tx_id", tx.id.String()), zap.Int("payload_bytes", len(payload)))
		}
	case StateAwaitingTransactionResponse:
		c.resolve(fx, payload)
	case StateIdle:
		c.fail(fx, ErrInternalState)
	}
}

func (c *Controller) queueData(fx *effects, payload []byte) {
	cb := c.callbacks.OnDataReceived
	if cb == nil {
		return
	}
	ev := DataReceived{Hex: strings.ToUpper(hex.EncodeToString(payload)), Payload: payload}
	fx.add(func() { cb(ev) })
}
