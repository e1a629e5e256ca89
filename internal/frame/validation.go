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

import (
	"errors"
	"fmt"
)

// ErrLengthOutOfRange is returned when a length cannot be encoded as four BCD digits.
var ErrLengthOutOfRange = errors.New("length out of BCD range")

// EncodeBCDLength encodes n (0-9999) as two bytes of packed BCD, most
// significant digits first. 34 becomes 0x00 0x34.
func EncodeBCDLength(n int) ([2]byte, error) {
	if n < 0 || n > MaxEncodableLength {
		return [2]byte{}, fmt.Errorf("%w: %d", ErrLengthOutOfRange, n)
	}
	hi := n / 100
	lo := n % 100
	return [2]byte{
		byte((hi/10)<<4 | hi%10),
		byte((lo/10)<<4 | lo%10),
	}, nil
}

// DecodeBCDLength decodes two packed BCD bytes. The boolean is false when
// any nibble is not a decimal digit.
func DecodeBCDLength(hi, lo byte) (int, bool) {
	d1, ok1 := bcdByte(hi)
	d2, ok2 := bcdByte(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return d1*100 + d2, true
}

func bcdByte(b byte) (int, bool) {
	tens := int(b >> 4)
	ones := int(b & 0x0F)
	if tens > 9 || ones > 9 {
		return 0, false
	}
	return tens*10 + ones, true
}

// validateLength decodes the length field at the head of buf (which starts
// with STX) and reports whether it describes an acceptable payload size.
func validateLength(buf []byte) (int, bool) {
	n, ok := DecodeBCDLength(buf[lenHiOffset], buf[lenLoOffset])
	if !ok || n > MaxPayloadLength {
		return 0, false
	}
	return n, true
}
