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

// LRC computes the longitudinal redundancy check: a running XOR of all bytes.
func LRC(data []byte) byte {
	var lrc byte
	for _, b := range data {
		lrc ^= b
	}
	return lrc
}

// FrameLRC computes the checksum of a frame from its two length bytes and
// payload. The trailing ETX is folded in.
func FrameLRC(lenHi, lenLo byte, payload []byte) byte {
	return lenHi ^ lenLo ^ LRC(payload) ^ ETX
}

// ValidateChecksum reports whether the complete wire frame carries a correct
// LRC. Frames shorter than MinFrameLength are never valid.
func ValidateChecksum(wire []byte) bool {
	if len(wire) < MinFrameLength {
		return false
	}
	// Covered region runs from LEN_HI through ETX; the last byte is the LRC.
	return LRC(wire[lenHiOffset:len(wire)-1]) == wire[len(wire)-1]
}
