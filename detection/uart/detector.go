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

// Package uart detects MFRC630 readers behind serial ports, typically a
// USB-UART bridge wired to the chip's UART host interface.
package uart

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-mfrc630/detection"
	"github.com/ZaparooProject/go-mfrc630/transport/uart"
)

const probeTimeout = 2 * time.Second

// probeDeviceFn is replaced in tests.
var probeDeviceFn = probeDevice

type detector struct {
	enumerate func(ctx context.Context) ([]serialPort, error)
}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{enumerate: getSerialPorts}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// Detect searches for readers on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range filterPorts(ports, opts) {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts yields the indexes of ports that are neither blocked nor
// ignored.
func filterPorts(ports []serialPort, opts *detection.Options) func(func(int) bool) {
	return func(yield func(int) bool) {
		for i, port := range ports {
			if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
				continue
			}
			if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

// processPort decides whether one port is reported. Passive mode reports
// only ports that look like reader bridges. Other modes report a port only
// when the probe found a chip, whatever the port looks like.
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	if opts.Mode == detection.Passive {
		if !isLikelyReader(port) {
			return detection.DeviceInfo{}, false
		}
		return createDeviceInfo(port, detection.Medium), true
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result, err := probeDeviceFn(probeCtx, port.Path, opts.Mode)
	if err != nil || result.Confidence == detection.Low {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port, result.Confidence)
	maps.Copy(device.Metadata, result.Metadata())
	return device, true
}

func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	for key, value := range map[string]string{
		"vidpid":       port.VIDPID,
		"manufacturer": port.Manufacturer,
		"product":      port.Product,
		"serial":       port.SerialNumber,
	} {
		if value != "" {
			device.Metadata[key] = value
		}
	}
	return device
}

// knownBridges are USB-UART bridges found on MFRC630 breakout boards.
var knownBridges = []string{
	"1A86:7523", // QinHeng CH340
	"10C4:EA60", // Silicon Labs CP210x
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
}

var readerKeywords = []string{"mfrc630", "clrc663", "nfc", "rfid", "13.56"}

// isLikelyReader guesses from descriptors alone whether a port leads to a
// reader.
func isLikelyReader(port *serialPort) bool {
	if slices.Contains(knownBridges, strings.ToUpper(port.VIDPID)) {
		return true
	}

	product := strings.ToLower(port.Product)
	manufacturer := strings.ToLower(port.Manufacturer)
	return slices.ContainsFunc(readerKeywords, func(keyword string) bool {
		return strings.Contains(product, keyword) || strings.Contains(manufacturer, keyword)
	})
}

// probeDevice opens the port and identifies the chip. A single attempt
// only: repeated probing of ports that lead elsewhere can upset whatever
// is attached there.
func probeDevice(ctx context.Context, path string, mode detection.Mode) (detection.ProbeResult, error) {
	transport, err := uart.New(path)
	if err != nil {
		return detection.ProbeResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = transport.Close() }()

	return detection.Probe(ctx, transport, mode)
}
