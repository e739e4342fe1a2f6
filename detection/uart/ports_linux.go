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

//go:build linux

package uart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxSysfsDepth = 10

// sysfs locates the tty class directory and device nodes. Tests point it
// at a fake tree.
type sysfs struct {
	ttyDir string
	devDir string
}

var defaultSysfs = sysfs{ttyDir: "/sys/class/tty", devDir: "/dev"}

// getSerialPorts lists USB serial adapters with their descriptors first,
// then on-board UARTs. Raspberry Pi HATs sit on ttyAMA0 or ttyS0.
func getSerialPorts(ctx context.Context) ([]serialPort, error) {
	return defaultSysfs.ports(ctx)
}

func (s sysfs) ports(ctx context.Context) ([]serialPort, error) {
	ports, err := s.usbPorts()
	if err != nil {
		ports = nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	ports = append(ports, s.glob("ttyS*", "ttyAMA*")...)
	if len(ports) == 0 {
		ports = s.glob("ttyUSB*", "ttyACM*")
	}
	return ports, nil
}

func (s sysfs) usbPorts() ([]serialPort, error) {
	entries, err := os.ReadDir(s.ttyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", s.ttyDir, err)
	}

	var ports []serialPort
	for _, entry := range entries {
		resolved, err := filepath.EvalSymlinks(filepath.Join(s.ttyDir, entry.Name(), "device"))
		if err != nil || !strings.Contains(resolved, "/usb") {
			continue
		}

		port := serialPort{
			Path: filepath.Join(s.devDir, entry.Name()),
			Name: entry.Name(),
		}
		readUSBAttributes(&port, resolved)
		ports = append(ports, port)
	}
	return ports, nil
}

func (s sysfs) glob(patterns ...string) []serialPort {
	var ports []serialPort
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(s.devDir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
		}
	}
	return ports
}

// readUSBAttributes walks up from the tty's device node until it finds the
// USB device directory carrying idVendor and idProduct.
func readUSBAttributes(port *serialPort, devicePath string) {
	current := devicePath
	for range maxSysfsDepth {
		vid, vidErr := readAttr(current, "idVendor")
		pid, pidErr := readAttr(current, "idProduct")
		if vidErr == nil && pidErr == nil {
			port.VIDPID = strings.ToUpper(vid + ":" + pid)
			port.Manufacturer, _ = readAttr(current, "manufacturer")
			port.Product, _ = readAttr(current, "product")
			port.SerialNumber, _ = readAttr(current, "serial")
			return
		}

		current = filepath.Dir(current)
		if current == "/" || current == "." {
			return
		}
	}
}

func readAttr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Clean(dir), name)) // #nosec G304 -- sysfs attribute
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
