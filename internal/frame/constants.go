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

// Package frame implements the ECR serial framing layer: STX/ETX delimited
// frames with a packed BCD length and an XOR longitudinal redundancy check.
package frame

// Frame markers and transport tokens
const (
	STX = 0x02 // Start of frame
	ETX = 0x03 // End of frame
	ACK = 0x06 // Positive acknowledgement token
	NAK = 0x15 // Negative acknowledgement token
)

// Frame size limits
const (
	// MinFrameLength is STX + two length bytes + ETX + LRC with an empty payload.
	MinFrameLength = 5
	// Overhead is the number of framing bytes around the payload.
	Overhead = MinFrameLength
	// MaxPayloadLength is the largest payload the decoder accepts. Larger
	// BCD lengths are treated as a spurious start marker.
	MaxPayloadLength = 4096
	// MaxEncodableLength is the largest value representable in the BCD length field.
	MaxEncodableLength = 9999
	// MaxBufferSize is the receive buffer ceiling. A buffer that grows past it
	// without forming a frame is discarded.
	MaxBufferSize = 64 * 1024
	// MaxFramesPerChunk bounds the frames extracted from a single Feed call.
	MaxFramesPerChunk = 100
)

// Offsets within a frame
const (
	lenHiOffset   = 1
	lenLoOffset   = 2
	payloadOffset = 3
)

// IsToken reports whether b is one of the single-byte transport tokens.
func IsToken(b byte) bool {
	return b == ACK || b == NAK
}
