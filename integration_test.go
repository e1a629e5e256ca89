//go:build integration

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

package ecr_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ecr "github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/pkg/ecrmsg"
	"github.com/ZaparooProject/go-ecr/transport/uart"
)

// TestTerminalLogon runs a logon against the terminal on ECR_TEST_PORT.
// A logon does not move money, so it is safe on production terminals.
func TestTerminalLogon(t *testing.T) {
	path := os.Getenv("ECR_TEST_PORT")
	if path == "" {
		t.Skip("ECR_TEST_PORT not set")
	}

	statuses := make(chan ecr.CableStatus, 4)
	c := ecr.New(ecr.WithCallbacks(ecr.Callbacks{
		OnCableStatusChanged: func(s ecr.CableStatus) { statuses <- s },
	}))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := uart.Open(ctx, path, uart.DefaultConfig(), c)
	require.NoError(t, err)
	require.True(t, c.IsCableConnected())
	require.Equal(t, ecr.MsgCableConnected, (<-statuses).Message)

	cmdHex, err := ecrmsg.Logon(time.Now()).Hex()
	require.NoError(t, err)

	resp, err := c.SendDataAndAwaitTransaction(ctx, cmdHex)
	require.NoError(t, err)

	decoded, err := ecrmsg.DecodeHex(resp)
	require.NoError(t, err)
	require.Equal(t, ecrmsg.FunctionLogon, decoded.Header.FunctionCode)
	t.Logf("logon response code %s", decoded.Header.ResponseCode)
	for _, p := range decoded.Pairs() {
		t.Logf("  %-32s %s", p.Label, p.Data)
	}
}
