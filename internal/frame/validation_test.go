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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBCDLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		n       int
		want    [2]byte
		wantErr bool
	}{
		{name: "zero", n: 0, want: [2]byte{0x00, 0x00}},
		{name: "two digits", n: 34, want: [2]byte{0x00, 0x34}},
		{name: "three digits", n: 120, want: [2]byte{0x01, 0x20}},
		{name: "max payload", n: MaxPayloadLength, want: [2]byte{0x40, 0x96}},
		{name: "max encodable", n: 9999, want: [2]byte{0x99, 0x99}},
		{name: "negative", n: -1, wantErr: true},
		{name: "too large", n: 10000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EncodeBCDLength(tt.n)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrLengthOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBCDLength(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		hi, lo byte
		want   int
		wantOK bool
	}{
		{name: "zero", hi: 0x00, lo: 0x00, want: 0, wantOK: true},
		{name: "thirty four", hi: 0x00, lo: 0x34, want: 34, wantOK: true},
		{name: "max", hi: 0x99, lo: 0x99, want: 9999, wantOK: true},
		{name: "hex nibble low", hi: 0x00, lo: 0x3A, wantOK: false},
		{name: "hex nibble high", hi: 0xF0, lo: 0x00, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DecodeBCDLength(tt.hi, tt.lo)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBCDLength_RoundTrip(t *testing.T) {
	t.Parallel()
	for n := 0; n <= MaxEncodableLength; n += 7 {
		enc, err := EncodeBCDLength(n)
		require.NoError(t, err)
		got, ok := DecodeBCDLength(enc[0], enc[1])
		require.True(t, ok)
		require.Equal(t, n, got)
	}
}
