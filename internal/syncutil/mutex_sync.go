//go:build !deadlock

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

// Package syncutil provides the mutex types used across go-ecr.
// Build with -tags=deadlock to swap in github.com/sasha-s/go-deadlock, which
// reports lock-order inversions between the controller and the transports.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
//
//nolint:gocritic // Embedding sync.Mutex exposes Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
//
//nolint:gocritic // Embedding sync.RWMutex exposes its interface
type RWMutex struct {
	sync.RWMutex
}
