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
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned for a RetryPolicy that cannot drive a transaction.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// RetryPolicy parameterizes one transaction. The same state machine serves
// single-attempt sends and full transactions; only the policy differs.
type RetryPolicy struct {
	// MaxRetries is the number of resends after a NAK or ack timeout.
	MaxRetries int
	// AckTimeout is the wait for ACK/NAK after each send.
	AckTimeout time.Duration
	// ResponseTimeout is the wait for the response frame after ACK.
	ResponseTimeout time.Duration
	// ImplicitAckOnFrame treats a data frame received while waiting for the
	// ACK as both the acknowledgement and the final response.
	ImplicitAckOnFrame bool
}

// DefaultTransactionPolicy returns the policy for SendDataAndAwaitTransaction.
func DefaultTransactionPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         DefaultMaxRetries,
		AckTimeout:         DefaultAckTimeout,
		ResponseTimeout:    DefaultTransactionResponseTimeout,
		ImplicitAckOnFrame: true,
	}
}

// DefaultSimpleSendPolicy returns the policy for SendData: one attempt, short wait.
func DefaultSimpleSendPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         0,
		AckTimeout:         DefaultAckTimeout,
		ResponseTimeout:    DefaultSimpleSendResponseTimeout,
		ImplicitAckOnFrame: true,
	}
}

// Validate reports whether the policy is usable.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: negative max retries %d", ErrInvalidPolicy, p.MaxRetries)
	case p.AckTimeout <= 0:
		return fmt.Errorf("%w: ack timeout must be positive", ErrInvalidPolicy)
	case p.ResponseTimeout <= 0:
		return fmt.Errorf("%w: response timeout must be positive", ErrInvalidPolicy)
	}
	return nil
}

// RetryConfig configures retry with backoff for port-level operations such
// as opening a device.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to avoid thundering herd
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultOpenRetryConfig returns the retry configuration for opening ports.
func DefaultOpenRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultOpenRetries,
		InitialBackoff:    OpenInitialBackoff,
		MaxBackoff:        OpenMaxBackoff,
		BackoffMultiplier: OpenBackoffMultiplier,
		Jitter:            OpenJitter,
		RetryTimeout:      OpenRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig executes retryFunc until it succeeds, returns an error
// that IsRetryable rejects, or the attempts or timeout run out.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultOpenRetryConfig()
	}

	if config.MaxAttempts <= 0 {
		return retryFunc()
	}

	retryCtx, cancel := setupRetryContext(ctx, config)
	defer cancel()
	return executeWithRetry(retryCtx, config, retryFunc)
}

func setupRetryContext(ctx context.Context, config *RetryConfig) (context.Context, context.CancelFunc) {
	if config.RetryTimeout > 0 {
		return context.WithTimeout(ctx, config.RetryTimeout)
	}
	return ctx, func() {}
}

func executeWithRetry(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := range config.MaxAttempts {
		if err := checkContextCancellation(ctx, lastErr); err != nil {
			return err
		}

		err := retryFunc()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < config.MaxAttempts-1 {
			sleep := calculateJitteredSleep(backoff, config.Jitter)
			if err := sleepWithContext(ctx, sleep, lastErr); err != nil {
				return err
			}
			backoff = calculateNextBackoff(backoff, config)
		}
	}

	return lastErr
}

func checkContextCancellation(ctx context.Context, lastErr error) error {
	select {
	case <-ctx.Done():
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("retry context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}

func sleepWithContext(ctx context.Context, sleep time.Duration, lastErr error) error {
	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return lastErr
	case <-timer.C:
		return nil
	}
}

func calculateNextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// calculateJitteredSleep adds up to jitterFactor*baseSleep of random delay.
func calculateJitteredSleep(baseSleep time.Duration, jitterFactor float64) time.Duration {
	sleep := baseSleep
	if jitterFactor > 0 {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err == nil {
			randUint := binary.LittleEndian.Uint64(randBytes[:])
			randFloat := float64(randUint) / float64(1<<64)
			sleep += time.Duration(randFloat * float64(sleep) * jitterFactor)
		}
	}
	return sleep
}
