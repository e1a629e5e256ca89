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

func TestNETSPurchase_RoundTrip(t *testing.T) {
	t.Parallel()

	msg, err := NETSPurchase(fixedTime, decimal.RequireFromString("20.00"))
	require.NoError(t, err)

	body, err := msg.MarshalBinary()
	require.NoError(t, err)

	resp, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, "250102130405", resp.Header.ECN)
	assert.Equal(t, FunctionNETSPurchase, resp.Header.FunctionCode)
	assert.Equal(t, VersionCode, resp.Header.ResponseCode)
	assert.Equal(t, DefaultRFU, resp.Header.RFU)

	txType, ok := resp.Field(FieldTransactionType)
	require.True(t, ok)
	assert.Equal(t, string(TypeAllPurchase), txType)

	amount, ok := resp.Lookup(LabelTransactionAmount)
	require.True(t, ok)
	assert.Equal(t, "000000002000", amount)

	parsed, err := resp.Amount()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("20").Equal(parsed))
}

func TestRequestBuilders(t *testing.T) {
	t.Parallel()
	twenty := decimal.RequireFromString("20")

	tests := []struct {
		build    func() (*Message, error)
		fields   map[string]string
		name     string
		function string
	}{
		{
			name:     "nets qr purchase",
			build:    func() (*Message, error) { return NETSQRPurchase(fixedTime, twenty) },
			function: FunctionNETSPurchase,
			fields:   map[string]string{"T2": "04", "40": "000000002000"},
		},
		{
			name: "nets purchase with cashback",
			build: func() (*Message, error) {
				return NETSPurchaseWithCashback(fixedTime, twenty, decimal.RequireFromString("5"))
			},
			function: FunctionNETSPurchase,
			fields:   map[string]string{"T2": "02", "40": "000000002000", "42": "000000000500"},
		},
		{
			name:     "credit card sale",
			build:    func() (*Message, error) { return CreditCardSale(fixedTime, twenty) },
			function: FunctionCreditCardSale,
			fields:   map[string]string{"40": "000000002000", "HD": "CREDITCARDSALE250102130405"},
		},
		{
			name:     "card settlement",
			build:    func() (*Message, error) { return CardSettlement(fixedTime), nil },
			function: FunctionCardSettlement,
			fields:   map[string]string{},
		},
		{
			name:     "logon",
			build:    func() (*Message, error) { return Logon(fixedTime), nil },
			function: FunctionLogon,
			fields:   map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := tt.build()
			require.NoError(t, err)
			assert.Equal(t, tt.function, msg.Header.FunctionCode)
			assert.Equal(t, VersionCode, msg.Header.ResponseCode)
			require.Len(t, msg.Fields, len(tt.fields))
			for code, want := range tt.fields {
				got, ok := msg.Field(code)
				assert.True(t, ok, code)
				assert.Equal(t, want, got, code)
			}
		})
	}
}

func TestRequestBuilders_RejectBadAmounts(t *testing.T) {
	t.Parallel()

	_, err := NETSPurchase(fixedTime, decimal.RequireFromString("-1"))
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = CreditCardSale(fixedTime, decimal.RequireFromString("0.001"))
	require.ErrorIs(t, err, ErrAmountPrecision)

	_, err = NETSPurchaseWithCashback(fixedTime, decimal.RequireFromString("1"), decimal.RequireFromString("-2"))
	require.ErrorIs(t, err, ErrNegativeAmount)
}
