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

// Package i2c detects MFRC630 readers on the host's I2C buses by reading
// the Version register at each of the chip's four strap addresses.
package i2c

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-mfrc630/detection"
)

// DefaultAddresses are the 7-bit addresses selected by the I2CADR pins.
var DefaultAddresses = []uint16{0x28, 0x29, 0x2A, 0x2B}

// busNode is an open handle on one address of one bus.
type busNode interface {
	detection.RegisterAccessor
	Close() error
}

type detector struct {
	listBuses func() ([]string, error)
	open      func(bus string, addr uint16) (busNode, error)
}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{
		listBuses: listBuses,
		open:      openNode,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// NodePath formats the composite path transport/i2c.New accepts.
func NodePath(bus string, addr uint16) string {
	return fmt.Sprintf("%s:0x%02X", bus, addr)
}

// Detect scans every bus. Passive mode cannot see I2C nodes without bus
// traffic, so it reports each bus at the default address with Low
// confidence.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	buses, err := d.listBuses()
	if err != nil {
		return nil, err
	}

	addrs := opts.I2CAddresses
	if len(addrs) == 0 {
		addrs = DefaultAddresses
	}

	var devices []detection.DeviceInfo
	for _, bus := range buses {
		if opts.Mode == detection.Passive {
			if !detection.IsPathIgnored(bus, opts.IgnorePaths) {
				devices = append(devices, newDeviceInfo(bus, addrs[0], detection.Low))
			}
			continue
		}
		for _, addr := range addrs {
			if ctx.Err() != nil {
				return devices, detection.ErrDetectionTimeout
			}
			if detection.IsPathIgnored(NodePath(bus, addr), opts.IgnorePaths) {
				continue
			}
			if device, ok := d.probeNode(ctx, bus, addr, opts.Mode); ok {
				devices = append(devices, device)
			}
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func newDeviceInfo(bus string, addr uint16, confidence detection.Confidence) detection.DeviceInfo {
	return detection.DeviceInfo{
		Transport:  "i2c",
		Path:       NodePath(bus, addr),
		Name:       fmt.Sprintf("MFRC630 at 0x%02X", addr),
		Confidence: confidence,
		Metadata: map[string]string{
			"bus":     bus,
			"address": fmt.Sprintf("0x%02X", addr),
		},
	}
}

// probeNode reads the chip version at one address. A NACK or a Low result
// means nothing useful lives there.
func (d *detector) probeNode(
	ctx context.Context, bus string, addr uint16, mode detection.Mode,
) (detection.DeviceInfo, bool) {
	node, err := d.open(bus, addr)
	if err != nil {
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = node.Close() }()

	result, err := detection.Probe(ctx, node, mode)
	if err != nil || result.Confidence == detection.Low {
		return detection.DeviceInfo{}, false
	}

	device := newDeviceInfo(bus, addr, result.Confidence)
	for k, v := range result.Metadata() {
		device.Metadata[k] = v
	}
	return device, true
}
