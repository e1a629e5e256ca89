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

package ecrmsg

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wantErr error
		name    string
		amount  string
		want    string
	}{
		{name: "twenty", amount: "20.00", want: "000000002000"},
		{name: "zero", amount: "0", want: "000000000000"},
		{name: "cents", amount: "0.05", want: "000000000005"},
		{name: "one decimal", amount: "12.5", want: "000000001250"},
		{name: "max", amount: "9999999999.99", want: "999999999999"},
		{name: "negative", amount: "-1", wantErr: ErrNegativeAmount},
		{name: "sub cent", amount: "1.001", wantErr: ErrAmountPrecision},
		{name: "overflow", amount: "10000000000", wantErr: ErrAmountOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := FormatAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	got, err := ParseAmount("000000002000")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("20").Equal(got), got.String())

	for _, bad := range []string{"", "2000", "00000000200A", "-00000002000"} {
		_, err := ParseAmount(bad)
		require.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}
