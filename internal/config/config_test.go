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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/detection"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ecr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Empty(t, cfg.Serial.Port)
	assert.Equal(t, ecr.DefaultTransactionPolicy(), cfg.TransactionPolicy())
	assert.Equal(t, ecr.DefaultSimpleSendPolicy(), cfg.SimpleSendPolicy())
	assert.Equal(t, ecr.DefaultWriteAcceptTimeout, cfg.Protocol.WriteAcceptTimeout)
	assert.Equal(t, ecr.DefaultDiscoverySettleDelay, cfg.Protocol.SettleDelay)
	assert.Equal(t, detection.DefaultPollInterval, cfg.Detection.PollInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB3
  baud_rate: 19200
protocol:
  ack_timeout: 3s
  max_retries: 4
  implicit_ack: false
detection:
  ignore_paths: [/dev/ttyS0]
  include_non_usb: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.UART().BaudRate)

	policy := cfg.TransactionPolicy()
	assert.Equal(t, 3*time.Second, policy.AckTimeout)
	assert.Equal(t, 4, policy.MaxRetries)
	assert.False(t, policy.ImplicitAckOnFrame)
	assert.Equal(t, ecr.DefaultTransactionResponseTimeout, policy.ResponseTimeout)

	opts := cfg.DetectionOptions()
	assert.Equal(t, []string{"/dev/ttyS0"}, opts.IgnorePaths)
	assert.Equal(t, detection.Low, opts.MinConfidence)
	assert.Len(t, cfg.WatcherOptions(), 3)
	assert.Len(t, cfg.ControllerOptions(), 5)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ECR_SERIAL_PORT", "COM4")
	t.Setenv("ECR_PROTOCOL_RESPONSE_TIMEOUT", "90s")

	cfg, err := Load(writeConfig(t, "serial:\n  port: /dev/ttyUSB0\n"))
	require.NoError(t, err)

	assert.Equal(t, "COM4", cfg.Serial.Port)
	assert.Equal(t, 90*time.Second, cfg.Protocol.ResponseTimeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"zero baud rate", "serial:\n  baud_rate: 0\n"},
		{"negative retries", "protocol:\n  max_retries: -1\n"},
		{"zero ack timeout", "protocol:\n  ack_timeout: 0s\n"},
		{"zero simple send timeout", "protocol:\n  simple_send_timeout: 0s\n"},
		{"no invalid frame budget", "protocol:\n  max_invalid_frames: 0\n"},
		{"unknown log level", "logging:\n  level: verbose\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
