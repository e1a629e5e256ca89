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
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Function codes.
const (
	FunctionNETSPurchase   = "30"
	FunctionCreditCardSale = "I0"
	FunctionCardSettlement = "I5"
	FunctionLogon          = "80"
)

// VersionCode is sent in the response code position of every request.
const VersionCode = "01"

// TransactionType is the value of the T2 field.
type TransactionType string

// NETS transaction types.
const (
	TypeAllPurchase          TransactionType = "01"
	TypePurchaseWithCashback TransactionType = "02"
	TypeCashback             TransactionType = "03"
	TypeQRPurchase           TransactionType = "04"
)

const creditCardSalePrefix = "CREDITCARDSALE"

// NewRequest builds a request with a header stamped from at.
func NewRequest(at time.Time, function string, fields ...Field) *Message {
	return &Message{
		Header: Header{
			ECN:          ECNFromTime(at),
			FunctionCode: function,
			ResponseCode: VersionCode,
			RFU:          DefaultRFU,
		},
		Fields: fields,
	}
}

func amountField(code string, amount decimal.Decimal) (Field, error) {
	digits, err := FormatAmount(amount)
	if err != nil {
		return Field{}, err
	}
	return Field{Code: code, Data: digits}, nil
}

func netsPurchase(at time.Time, txType TransactionType, amount decimal.Decimal) (*Message, error) {
	amt, err := amountField(FieldTransactionAmount, amount)
	if err != nil {
		return nil, fmt.Errorf("nets purchase: %w", err)
	}
	return NewRequest(at, FunctionNETSPurchase,
		Field{Code: FieldTransactionType, Data: string(txType)},
		amt,
	), nil
}

// NETSPurchase builds an all-NETS purchase.
func NETSPurchase(at time.Time, amount decimal.Decimal) (*Message, error) {
	return netsPurchase(at, TypeAllPurchase, amount)
}

// NETSQRPurchase builds a NETS QR purchase.
func NETSQRPurchase(at time.Time, amount decimal.Decimal) (*Message, error) {
	return netsPurchase(at, TypeQRPurchase, amount)
}

// NETSPurchaseWithCashback builds a NETS purchase that also dispenses cash.
func NETSPurchaseWithCashback(at time.Time, amount, cashback decimal.Decimal) (*Message, error) {
	msg, err := netsPurchase(at, TypePurchaseWithCashback, amount)
	if err != nil {
		return nil, err
	}
	cb, err := amountField(FieldCashbackAmount, cashback)
	if err != nil {
		return nil, fmt.Errorf("cashback: %w", err)
	}
	msg.Fields = append(msg.Fields, cb)
	return msg, nil
}

// CreditCardSale builds a credit card sale carrying an enhanced ECR
// reference number derived from the same timestamp.
func CreditCardSale(at time.Time, amount decimal.Decimal) (*Message, error) {
	amt, err := amountField(FieldTransactionAmount, amount)
	if err != nil {
		return nil, fmt.Errorf("credit card sale: %w", err)
	}
	return NewRequest(at, FunctionCreditCardSale,
		amt,
		Field{Code: FieldEnhancedECRReference, Data: creditCardSalePrefix + ECNFromTime(at)},
	), nil
}

// CardSettlement builds a settlement request. It has no fields.
func CardSettlement(at time.Time) *Message {
	return NewRequest(at, FunctionCardSettlement)
}

// Logon builds a terminal logon request.
func Logon(at time.Time) *Message {
	return NewRequest(at, FunctionLogon)
}
