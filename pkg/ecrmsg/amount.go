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
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountDigits is the width of every monetary field.
const AmountDigits = 12

// Amount errors.
var (
	ErrNegativeAmount  = errors.New("ecrmsg: amount must not be negative")
	ErrAmountPrecision = errors.New("ecrmsg: amount has more than two decimal places")
	ErrAmountOverflow  = errors.New("ecrmsg: amount does not fit in 12 digits")
	ErrInvalidAmount   = errors.New("ecrmsg: invalid amount field")
)

// FormatAmount renders a major-unit amount as twelve digits of minor units.
// 20.00 becomes "000000002000".
func FormatAmount(amount decimal.Decimal) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return "", fmt.Errorf("%w: %s", ErrAmountPrecision, amount)
	}

	digits := minor.StringFixed(0)
	if len(digits) > AmountDigits {
		return "", fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return strings.Repeat("0", AmountDigits-len(digits)) + digits, nil
}

// ParseAmount converts a twelve digit minor-unit field back to major units.
func ParseAmount(field string) (decimal.Decimal, error) {
	if len(field) != AmountDigits {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, field)
	}
	for _, c := range field {
		if c < '0' || c > '9' {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, field)
		}
	}
	minor, err := decimal.NewFromString(field)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return minor.Shift(-2), nil
}
