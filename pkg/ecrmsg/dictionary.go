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

// Field codes used by the request builders and response helpers.
const (
	FieldTransactionType      = "T2"
	FieldTransactionAmount    = "40"
	FieldCashbackAmount       = "42"
	FieldEnhancedECRReference = "HD"
	FieldResponseText         = "02"
	FieldApprovalCode         = "01"
	FieldHostResponseCode     = "HC"
	FieldReceiptTextFormat    = "RP"
)

// Labels used in decoded output.
const (
	LabelECN               = "ECN"
	LabelFunctionCode      = "Function Code"
	LabelResponseCode      = "Response Code"
	LabelRFU               = "RFU"
	LabelTransactionAmount = "Transaction Amount"
	UnknownFieldLabel      = "Unknown Field"
)

// VariableLength marks dictionary entries without a fixed length.
const VariableLength = 0

// FieldSpec describes a dictionary entry. Length is the fixed data length,
// or VariableLength for fields passed through untruncated.
type FieldSpec struct {
	Label  string
	Length int
}

// Variable reports whether the field has no fixed length.
func (s FieldSpec) Variable() bool {
	return s.Length == VariableLength
}

var dictionary = map[string]FieldSpec{
	"02": {Label: "Response Text", Length: 40},
	"D0": {Label: "Merchant Name and Address", Length: 69},
	"03": {Label: "Transaction Date", Length: 6},
	"04": {Label: "Transaction Time", Length: 6},
	"16": {Label: "Terminal ID", Length: 8},
	"D1": {Label: "Merchant ID", Length: 15},
	"65": {Label: "STAN", Length: 6},
	"01": {Label: "Approval Code", Length: 6},
	"D3": {Label: "Retrieval Reference Number", Length: 12},
	"L7": {Label: "Card Name", Length: 20},
	"40": {Label: LabelTransactionAmount, Length: 12},
	"42": {Label: "Cashback Amount", Length: 12},
	"41": {Label: "Service Fee", Length: 12},
	"L5": {Label: "POS Messages", Length: 240},
	"R0": {Label: "Response Message I", Length: 20},
	"R1": {Label: "Response Message II", Length: 20},
	"L1": {Label: "Loyalty Program Name", Length: 24},
	"L8": {Label: "Loyalty Program Exp Date", Length: 8},
	"L2": {Label: "Loyalty Type", Length: 1},
	"L9": {Label: "Loyalty Marketing Message", Length: 143},
	"L3": {Label: "Redemption Value", Length: 12},
	"L4": {Label: "Current Loyalty Balance", Length: 12},
	"HC": {Label: "Host Response Code", Length: 2},
	"CN": {Label: "Card Entry Mode", Length: 2},
	"HD": {Label: "Enhanced ECR Reference Number", Length: 12},
	"RP": {Label: "Receipt Text Format", Length: VariableLength},
	"T2": {Label: "Transaction Type Indicator", Length: 2},
}

// LookupField returns the dictionary entry for a field code.
func LookupField(code string) (FieldSpec, bool) {
	spec, ok := dictionary[code]
	return spec, ok
}

// FieldLabel returns the label for code, or UnknownFieldLabel.
func FieldLabel(code string) string {
	if spec, ok := dictionary[code]; ok {
		return spec.Label
	}
	return UnknownFieldLabel
}
