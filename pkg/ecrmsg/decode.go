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
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ZaparooProject/go-ecr/internal/frame"
)

// Pair is one labeled value of a decoded response.
type Pair struct {
	Code  string
	Label string
	Data  string
}

// Response is a decoded terminal message.
type Response struct {
	Header Header
	Fields []Pair
}

// DecodeHex decodes a payload given as hex text, with or without a 0x prefix.
func DecodeHex(payloadHex string) (*Response, error) {
	payload, err := ParseHex(payloadHex)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// ParseHex decodes hex text in either case, tolerating a 0x prefix and
// surrounding whitespace.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHex)
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return data, nil
}

// Decode parses an unwrapped frame payload. The first separator-delimited
// segment is the header; each following segment is one field. Control
// characters are stripped from all text.
func Decode(payload []byte) (*Response, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyMessage
	}

	segments := bytes.Split(payload, []byte{Separator})
	resp := &Response{Header: decodeHeader(sanitize(segments[0]))}

	for _, seg := range segments[1:] {
		if len(seg) == 0 {
			continue
		}
		resp.Fields = append(resp.Fields, decodeField(seg))
	}
	return resp, nil
}

func decodeHeader(text string) Header {
	return Header{
		ECN:          slice(text, 0, ECNLength),
		FunctionCode: slice(text, ECNLength, ECNLength+FunctionCodeLength),
		ResponseCode: slice(text, ECNLength+FunctionCodeLength, HeaderLength-RFULength),
		RFU:          slice(text, HeaderLength-RFULength, HeaderLength),
	}
}

func decodeField(seg []byte) Pair {
	if len(seg) < FieldCodeLength {
		text := sanitize(seg)
		return Pair{Code: text, Label: UnknownFieldLabel, Data: ""}
	}

	code := sanitize(seg[:FieldCodeLength])
	raw := seg[FieldCodeLength:]
	// Skip the BCD length when it matches the remaining data.
	if len(raw) >= fieldLengthBytes {
		if n, ok := frame.DecodeBCDLength(raw[0], raw[1]); ok && n == len(raw)-fieldLengthBytes {
			raw = raw[fieldLengthBytes:]
		}
	}
	data := sanitize(raw)

	spec, ok := LookupField(code)
	if !ok {
		return Pair{Code: code, Label: UnknownFieldLabel, Data: data}
	}
	if !spec.Variable() && len(data) > spec.Length {
		data = data[:spec.Length]
	}
	return Pair{Code: code, Label: spec.Label, Data: data}
}

func slice(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// sanitize drops control characters except TAB, LF and CR.
func sanitize(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if isStripped(c) {
			continue
		}
		_ = sb.WriteByte(c)
	}
	return sb.String()
}

func isStripped(c byte) bool {
	switch {
	case c == '\t', c == '\n', c == '\r':
		return false
	case c < 0x20, c == 0x7F:
		return true
	default:
		return false
	}
}

// Pairs returns the header values followed by the fields, in order.
func (r *Response) Pairs() []Pair {
	pairs := make([]Pair, 0, 4+len(r.Fields))
	pairs = append(pairs,
		Pair{Label: LabelECN, Data: r.Header.ECN},
		Pair{Label: LabelFunctionCode, Data: r.Header.FunctionCode},
		Pair{Label: LabelResponseCode, Data: r.Header.ResponseCode},
		Pair{Label: LabelRFU, Data: r.Header.RFU},
	)
	return append(pairs, r.Fields...)
}

// Successful reports whether the terminal approved the request.
func (r *Response) Successful() bool {
	return r.Header.ResponseCode == SuccessCode
}

// Lookup returns the data of the first pair with the given label.
func (r *Response) Lookup(label string) (string, bool) {
	for _, p := range r.Pairs() {
		if p.Label == label {
			return p.Data, true
		}
	}
	return "", false
}

// Field returns the data of the first field with the given code.
func (r *Response) Field(code string) (string, bool) {
	for _, p := range r.Fields {
		if p.Code == code {
			return p.Data, true
		}
	}
	return "", false
}

// Amount returns the transaction amount in major units.
func (r *Response) Amount() (decimal.Decimal, error) {
	field, ok := r.Field(FieldTransactionAmount)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no %s field", ErrInvalidAmount, LabelTransactionAmount)
	}
	return ParseAmount(field)
}

// IsSuccessful decodes payloadHex and reports whether its response code is
// the success code. Undecodable input is a failure.
func IsSuccessful(payloadHex string) bool {
	resp, err := DecodeHex(payloadHex)
	if err != nil {
		return false
	}
	return resp.Successful()
}
