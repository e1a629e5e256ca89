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

// Package testing provides test utilities including a wire-level payment
// terminal simulator.
//
// The VirtualTerminal type implements io.ReadWriter and plays the terminal
// side of the ECR serial link: it acknowledges command frames, answers them
// with response frames, and retransmits its last response when the host
// replies NAK. Faults can be injected to exercise retry and resync paths.
package testing

import (
	"bytes"

	"github.com/ZaparooProject/go-ecr/internal/frame"
	"github.com/ZaparooProject/go-ecr/internal/syncutil"
)

// Responder builds the response payload for a command payload. A nil
// result means the terminal stays silent after acknowledging.
type Responder func(request []byte) []byte

// VirtualTerminal simulates an ECR terminal at the wire protocol level.
// Each acknowledgement and each response frame is delivered as a separate
// read, the way a real terminal's replies arrive some time apart.
type VirtualTerminal struct {
	responder    Responder
	decoder      *frame.Decoder
	lastResponse []byte
	received     [][]byte
	hostTokens   []byte
	pending      [][]byte
	mu           syncutil.Mutex
	nakNext      int
	dropACKs     int
	corruptNext  int
	silent       bool
}

// NewVirtualTerminal creates a terminal that approves every request.
func NewVirtualTerminal() *VirtualTerminal {
	return &VirtualTerminal{
		responder: ApproveAll,
		decoder:   frame.NewDecoder(nil),
	}
}

// Write implements io.Writer. It receives bytes from the host.
func (v *VirtualTerminal) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, ev := range v.decoder.Feed(data) {
		switch ev.Kind {
		case frame.EventToken:
			v.handleToken(ev.Token)
		case frame.EventFrame:
			v.handleCommand(ev.Payload, ev.Valid)
		}
	}
	return len(data), nil
}

// Read implements io.Reader. It returns at most one queued reply per call
// and 0, nil when nothing is pending.
func (v *VirtualTerminal) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.pending) == 0 {
		return 0, nil
	}
	n := copy(buf, v.pending[0])
	if n < len(v.pending[0]) {
		v.pending[0] = v.pending[0][n:]
	} else {
		v.pending = v.pending[1:]
	}
	return n, nil
}

func (v *VirtualTerminal) handleToken(token byte) {
	v.hostTokens = append(v.hostTokens, token)
	if token == frame.NAK && v.lastResponse != nil {
		v.queue(v.lastResponse)
	}
}

func (v *VirtualTerminal) handleCommand(payload []byte, valid bool) {
	if !valid {
		v.queue([]byte{frame.NAK})
		return
	}
	if v.nakNext > 0 {
		v.nakNext--
		v.queue([]byte{frame.NAK})
		return
	}

	v.received = append(v.received, payload)
	if v.dropACKs > 0 {
		v.dropACKs--
	} else {
		v.queue([]byte{frame.ACK})
	}
	if v.silent {
		return
	}

	resp := v.responder(payload)
	if resp == nil {
		return
	}
	wire, err := frame.Encode(resp)
	if err != nil {
		return
	}
	v.lastResponse = wire
	if v.corruptNext > 0 {
		v.corruptNext--
		bad := bytes.Clone(wire)
		bad[len(bad)-1] ^= 0xFF
		v.queue(bad)
		return
	}
	v.queue(wire)
}

func (v *VirtualTerminal) queue(chunk []byte) {
	v.pending = append(v.pending, bytes.Clone(chunk))
}

// SetResponder replaces the response builder.
func (v *VirtualTerminal) SetResponder(r Responder) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responder = r
}

// InjectNAK makes the terminal NAK the next n command frames.
func (v *VirtualTerminal) InjectNAK(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nakNext = n
}

// DropNextACK makes the terminal answer the next command without an ACK.
func (v *VirtualTerminal) DropNextACK() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropACKs++
}

// InjectChecksumError corrupts the LRC of the next n response frames.
// A NAK from the host is answered with the intact frame.
func (v *VirtualTerminal) InjectChecksumError(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNext = n
}

// SetSilent stops the terminal from sending responses after its ACK.
func (v *VirtualTerminal) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// SendUnsolicited queues a frame the host did not ask for.
func (v *VirtualTerminal) SendUnsolicited(payload []byte) error {
	wire, err := frame.Encode(payload)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queue(wire)
	return nil
}

// Received returns the payloads of the valid commands accepted so far.
func (v *VirtualTerminal) Received() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.received))
	copy(out, v.received)
	return out
}

// HostTokens returns the ACK and NAK bytes the host has sent.
func (v *VirtualTerminal) HostTokens() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.hostTokens)
}

// HasPendingResponse reports whether reply data is waiting to be read.
func (v *VirtualTerminal) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending) > 0
}

// Reset clears all state, buffers and injected faults.
func (v *VirtualTerminal) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decoder.Reset()
	v.lastResponse = nil
	v.received = nil
	v.hostTokens = nil
	v.pending = nil
	v.nakNext = 0
	v.dropACKs = 0
	v.corruptNext = 0
	v.silent = false
}
