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

// Package ecrmsg encodes ECR requests and decodes terminal responses.
//
// A message body is a fixed-width ASCII header followed by fields. Every
// segment, header included, is terminated by the 0x1C separator. A field is
// a two character code, a two byte packed BCD data length and the ASCII data.
// The body travels as the payload of one frame.
package ecrmsg

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-ecr/internal/frame"
)

// Layout constants.
const (
	Separator byte = 0x1C

	ECNLength          = 12
	FunctionCodeLength = 2
	ResponseCodeLength = 2
	RFULength          = 1
	HeaderLength       = ECNLength + FunctionCodeLength + ResponseCodeLength + RFULength
	FieldCodeLength    = 2
	fieldLengthBytes   = 2

	// DefaultRFU is the reserved digit sent in every request header.
	DefaultRFU = "0"
	// SuccessCode is the response code of an approved transaction.
	SuccessCode = "00"

	ecnLayout = "060102150405"
)

// Common errors.
var (
	ErrInvalidHeader = errors.New("ecrmsg: invalid header")
	ErrInvalidField  = errors.New("ecrmsg: invalid field")
	ErrEmptyMessage  = errors.New("ecrmsg: empty message")
	ErrInvalidHex    = errors.New("ecrmsg: invalid hex input")
)

// Header is the fixed-width message header. In requests ResponseCode carries
// the message version; in responses it carries the terminal's result.
type Header struct {
	ECN          string
	FunctionCode string
	ResponseCode string
	RFU          string
}

// ECNFromTime derives the twelve digit correlation number (yyMMddHHmmss).
func ECNFromTime(t time.Time) string {
	return t.Format(ecnLayout)
}

func (h Header) validate() error {
	switch {
	case len(h.ECN) != ECNLength:
		return fmt.Errorf("%w: ECN must be %d characters, got %q", ErrInvalidHeader, ECNLength, h.ECN)
	case len(h.FunctionCode) != FunctionCodeLength:
		return fmt.Errorf("%w: function code %q", ErrInvalidHeader, h.FunctionCode)
	case len(h.ResponseCode) != ResponseCodeLength:
		return fmt.Errorf("%w: version/response code %q", ErrInvalidHeader, h.ResponseCode)
	case len(h.RFU) != RFULength:
		return fmt.Errorf("%w: RFU %q", ErrInvalidHeader, h.RFU)
	}
	return nil
}

// String returns the header as sent on the wire.
func (h Header) String() string {
	return h.ECN + h.FunctionCode + h.ResponseCode + h.RFU
}

// Field is a single coded data element.
type Field struct {
	Code string
	Data string
}

func (f Field) marshal(dst []byte) ([]byte, error) {
	if len(f.Code) != FieldCodeLength {
		return nil, fmt.Errorf("%w: code %q must be %d characters", ErrInvalidField, f.Code, FieldCodeLength)
	}
	length, err := frame.EncodeBCDLength(len(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidField, f.Code, err)
	}
	dst = append(dst, f.Code...)
	dst = append(dst, length[0], length[1])
	dst = append(dst, f.Data...)
	return dst, nil
}

// Message is a request or response body.
type Message struct {
	Header Header
	Fields []Field
}

// MarshalBinary serializes the body (the frame payload).
func (m *Message) MarshalBinary() ([]byte, error) {
	if err := m.Header.validate(); err != nil {
		return nil, err
	}

	body := make([]byte, 0, HeaderLength+1+len(m.Fields)*16)
	body = append(body, m.Header.String()...)
	body = append(body, Separator)

	var err error
	for i, f := range m.Fields {
		body, err = f.marshal(body)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		body = append(body, Separator)
	}
	return body, nil
}

// Frame serializes the message and wraps it in a wire frame.
func (m *Message) Frame() ([]byte, error) {
	body, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	wire, err := frame.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("ecrmsg: frame message: %w", err)
	}
	return wire, nil
}

// Hex returns the framed message as uppercase hex, the form accepted by the
// controller's send operations.
func (m *Message) Hex() (string, error) {
	wire, err := m.Frame()
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(wire)), nil
}

// Field returns the data of the first field with the given code.
func (m *Message) Field(code string) (string, bool) {
	for _, f := range m.Fields {
		if f.Code == code {
			return f.Data, true
		}
	}
	return "", false
}
