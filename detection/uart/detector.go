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

// Package uart detects serial ports that may lead to a payment terminal and
// opens them with the uart transport.
package uart

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-ecr"
	"github.com/ZaparooProject/go-ecr/detection"
	"github.com/ZaparooProject/go-ecr/transport/uart"
)

// Transport is the transport name reported in DeviceInfo.
const Transport = "uart"

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// openPort is replaced in tests.
var openPort = uart.Open

// knownAdapters are USB-serial bridges commonly built into ECR cables.
var knownAdapters = []string{
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// terminalKeywords match product strings of terminals with native USB CDC.
var terminalKeywords = []string{"ingenico", "verifone", "pax", "castles", "spectra", "payment"}

// detector implements the Detector interface for serial ports.
type detector struct{}

// New creates a new serial port detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return Transport
}

// Detect enumerates serial ports and rates each one. Nothing is written to
// the ports: a stray byte can start a transaction on a terminal.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if port == nil || port.Name == "" {
			continue
		}
		device := deviceInfo(port)
		if detection.Accept(device, opts) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func deviceInfo(port *enumerator.PortDetails) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  Transport,
		Path:       port.Name,
		Name:       filepath.Base(port.Name),
		Confidence: rate(port),
		Metadata:   make(map[string]string),
	}
	if port.IsUSB {
		device.Metadata["vidpid"] = strings.ToUpper(port.VID + ":" + port.PID)
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
		device.Name = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

func rate(port *enumerator.PortDetails) detection.Confidence {
	if !port.IsUSB {
		return detection.Low
	}
	product := strings.ToLower(port.Product)
	for _, keyword := range terminalKeywords {
		if strings.Contains(product, keyword) {
			return detection.High
		}
	}
	vidpid := strings.ToUpper(port.VID + ":" + port.PID)
	for _, known := range knownAdapters {
		if vidpid == known {
			return detection.Medium
		}
	}
	return detection.Low
}

// Opener returns a detection.Opener that opens ports with cfg.
func Opener(cfg uart.Config) detection.Opener {
	return func(ctx context.Context, path string, h ecr.PortHandler) error {
		_, err := openPort(ctx, path, cfg, h)
		return err
	}
}

// NewWatcher returns a Watcher that opens detected ports with cfg.
func NewWatcher(cfg uart.Config, opts ...detection.WatcherOption) *detection.Watcher {
	return detection.NewWatcher(Opener(cfg), opts...)
}
