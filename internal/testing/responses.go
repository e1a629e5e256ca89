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

package testing

import (
	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
)

// Canned response values.
const (
	ApprovedText    = "APPROVED"
	ApprovalCode    = "123456"
	DeclinedText    = "DECLINED"
	HostApproved    = "00"
	ResponseDecline = "51"
)

// ApproveAll answers every parseable request with response code "00",
// echoing the request's ECN, function code and amount.
func ApproveAll(request []byte) []byte {
	return respond(request, ecrmsg.SuccessCode,
		ecrmsg.Field{Code: ecrmsg.FieldResponseText, Data: ApprovedText},
		ecrmsg.Field{Code: ecrmsg.FieldApprovalCode, Data: ApprovalCode},
		ecrmsg.Field{Code: ecrmsg.FieldHostResponseCode, Data: HostApproved},
	)
}

// DeclineAll returns a Responder that rejects every request with code.
func DeclineAll(code string) Responder {
	return func(request []byte) []byte {
		return respond(request, code,
			ecrmsg.Field{Code: ecrmsg.FieldResponseText, Data: DeclinedText},
			ecrmsg.Field{Code: ecrmsg.FieldHostResponseCode, Data: code},
		)
	}
}

// Fixed returns a Responder that always answers with payload.
func Fixed(payload []byte) Responder {
	return func([]byte) []byte {
		return payload
	}
}

func respond(request []byte, code string, fields ...ecrmsg.Field) []byte {
	req, err := ecrmsg.Decode(request)
	if err != nil || req.Header.ECN == "" {
		return nil
	}
	if amount, ok := req.Field(ecrmsg.FieldTransactionAmount); ok {
		fields = append(fields, ecrmsg.Field{Code: ecrmsg.FieldTransactionAmount, Data: amount})
	}

	msg := &ecrmsg.Message{
		Header: ecrmsg.Header{
			ECN:          req.Header.ECN,
			FunctionCode: req.Header.FunctionCode,
			ResponseCode: code,
			RFU:          ecrmsg.DefaultRFU,
		},
		Fields: fields,
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil
	}
	return payload
}
