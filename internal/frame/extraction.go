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

package frame

import "bytes"

// EventKind identifies what the decoder produced.
type EventKind int

const (
	// EventToken is a bare ACK or NAK byte received outside any frame.
	EventToken EventKind = iota + 1
	// EventFrame is a complete frame removed from the stream.
	EventFrame
)

// String returns a short name for logs.
func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Event is a single decoder output. Token is set for EventToken; Payload and
// Valid are set for EventFrame.
type Event struct {
	Payload []byte
	Kind    EventKind
	Token   byte
	Valid   bool
}

// Encode wraps payload into a wire frame:
// STX | LEN_HI | LEN_LO | payload | ETX | LRC.
func Encode(payload []byte) ([]byte, error) {
	length, err := EncodeBCDLength(len(payload))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(payload)+Overhead)
	out = append(out, STX, length[0], length[1])
	out = append(out, payload...)
	out = append(out, ETX, FrameLRC(length[0], length[1], payload))
	return out, nil
}

// Decoder turns arbitrary byte chunks into frame and token events. It keeps
// a receive buffer across calls and resynchronizes on the next STX whenever
// framing is broken. A Decoder is not safe for concurrent use; the owner
// serializes calls.
type Decoder struct {
	ack       func(code byte)
	buf       []byte
	discarded int
}

// NewDecoder returns a decoder that calls ack with ACK or NAK for every
// frame it extracts. ack may be nil.
func NewDecoder(ack func(code byte)) *Decoder {
	return &Decoder{ack: ack}
}

// Feed consumes one chunk. A chunk that is exactly one ACK or NAK byte is
// reported as a token and never buffered.
func (d *Decoder) Feed(chunk []byte) []Event {
	if len(chunk) == 1 && IsToken(chunk[0]) {
		return []Event{{Kind: EventToken, Token: chunk[0]}}
	}

	d.buf = append(d.buf, chunk...)
	events := d.extract(MaxFramesPerChunk)
	if len(d.buf) <= MaxBufferSize {
		return events
	}

	// Frames held back by the per-call limit still count as formed; drain
	// them so the buffer only overflows on data that never frames.
	events = append(events, d.extract(-1)...)
	if len(d.buf) > MaxBufferSize {
		d.discarded += len(d.buf)
		d.buf = d.buf[:0]
	}
	return events
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total number of bytes dropped without forming a
// frame, by resynchronization or by the overflow guard.
func (d *Decoder) Discarded() int {
	return d.discarded
}

// Reset drops any partially received data.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// extract removes up to limit frames from the buffer. A negative limit
// removes every complete frame.
func (d *Decoder) extract(limit int) []Event {
	var events []Event
	off := 0

	for (limit < 0 || len(events) < limit) && len(d.buf)-off >= MinFrameLength {
		if d.buf[off] != STX {
			next := bytes.IndexByte(d.buf[off:], STX)
			if next < 0 {
				d.discarded += len(d.buf) - off
				off = len(d.buf)
				break
			}
			d.discarded += next
			off += next
			continue
		}

		n, ok := validateLength(d.buf[off:])
		if !ok {
			d.discarded++
			off++
			continue
		}

		total := n + Overhead
		if len(d.buf)-off < total {
			break
		}

		wire := d.buf[off : off+total]
		if wire[total-2] != ETX {
			d.discarded++
			off++
			continue
		}

		payload := make([]byte, n)
		copy(payload, wire[payloadOffset:payloadOffset+n])
		valid := ValidateChecksum(wire)
		off += total

		events = append(events, Event{Kind: EventFrame, Payload: payload, Valid: valid})
		d.acknowledge(valid)
	}

	d.buf = append(d.buf[:0], d.buf[off:]...)
	return events
}

func (d *Decoder) acknowledge(valid bool) {
	if d.ack == nil {
		return
	}
	if valid {
		d.ack(ACK)
	} else {
		d.ack(NAK)
	}
}
