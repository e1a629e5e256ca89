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

package ecr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	tx := DefaultTransactionPolicy()
	require.NoError(t, tx.Validate())
	assert.Equal(t, DefaultMaxRetries, tx.MaxRetries)
	assert.Equal(t, 2*time.Second, tx.AckTimeout)
	assert.Equal(t, 60*time.Second, tx.ResponseTimeout)
	assert.True(t, tx.ImplicitAckOnFrame)

	simple := DefaultSimpleSendPolicy()
	require.NoError(t, simple.Validate())
	assert.Zero(t, simple.MaxRetries)
	assert.Equal(t, 5*time.Second, simple.ResponseTimeout)
}

func TestRetryPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate func(*RetryPolicy)
		name   string
	}{
		{name: "negative retries", mutate: func(p *RetryPolicy) { p.MaxRetries = -1 }},
		{name: "zero ack timeout", mutate: func(p *RetryPolicy) { p.AckTimeout = 0 }},
		{name: "negative response timeout", mutate: func(p *RetryPolicy) { p.ResponseTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := DefaultTransactionPolicy()
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestRetryConfig_DefaultOpenRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultOpenRetryConfig()

	assert.NotNil(t, config)
	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Greater(t, config.RetryTimeout, time.Duration(0))
}

func TestCalculateNextBackoff(t *testing.T) {
	t.Parallel()

	config := &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 500 * time.Millisecond}
	tests := []struct {
		name    string
		current time.Duration
		want    time.Duration
	}{
		{name: "exponential growth", current: 100 * time.Millisecond, want: 200 * time.Millisecond},
		{name: "capped at maximum", current: 300 * time.Millisecond, want: 500 * time.Millisecond},
		{name: "already at maximum", current: 500 * time.Millisecond, want: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, calculateNextBackoff(tt.current, config))
		})
	}
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	for range 10 {
		assert.Equal(t, base, calculateJitteredSleep(base, 0))
	}

	for _, jitter := range []float64{0.1, 0.5, 1.0} {
		for range 50 {
			got := calculateJitteredSleep(base, jitter)
			assert.GreaterOrEqual(t, got, base)
			assert.LessOrEqual(t, got, base+time.Duration(float64(base)*jitter))
		}
	}
}

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    1 * time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2.0,
		RetryTimeout:      100 * time.Millisecond,
	}
}

func timeoutError() error {
	return NewTransportError("open", "/dev/ttyUSB0", ErrPortTimeout, ErrorTypeTimeout)
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fn            func(calls int) error
		config        *RetryConfig
		name          string
		expectedError error
		expectedCalls int
	}{
		{
			name:          "success on first attempt",
			config:        fastRetryConfig(3),
			fn:            func(int) error { return nil },
			expectedCalls: 1,
		},
		{
			name:   "success after retries",
			config: fastRetryConfig(3),
			fn: func(calls int) error {
				if calls < 3 {
					return timeoutError()
				}
				return nil
			},
			expectedCalls: 3,
		},
		{
			name:          "non-retryable error fails immediately",
			config:        fastRetryConfig(3),
			fn:            func(int) error { return ErrDeviceNotFound },
			expectedError: ErrDeviceNotFound,
			expectedCalls: 1,
		},
		{
			name:          "retryable error exhausts attempts",
			config:        fastRetryConfig(2),
			fn:            func(int) error { return timeoutError() },
			expectedError: ErrPortTimeout,
			expectedCalls: 2,
		},
		{
			name:          "zero attempts calls once",
			config:        fastRetryConfig(0),
			fn:            func(int) error { return timeoutError() },
			expectedError: ErrPortTimeout,
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), tt.config, func() error {
				calls++
				return tt.fn(calls)
			})

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectedCalls, calls)
		})
	}
}

func TestRetryWithConfig_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(5), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func BenchmarkCalculateJitteredSleep(b *testing.B) {
	for range b.N {
		calculateJitteredSleep(100*time.Millisecond, 0.1)
	}
}
