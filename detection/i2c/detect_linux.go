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

package i2c

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ZaparooProject/go-mfrc630/detection"
	"golang.org/x/sys/unix"
)

// Linux i2c-dev ioctls from <linux/i2c-dev.h>.
const (
	ioctlI2CSlave = 0x0703
	ioctlI2CFuncs = 0x0705
	i2cFuncI2C    = 0x00000001
)

var busGlob = "/dev/i2c-*"

func listBuses() ([]string, error) {
	matches, err := filepath.Glob(busGlob)
	if err != nil {
		return nil, fmt.Errorf("list I2C buses: %w", err)
	}
	var buses []string
	for _, path := range matches {
		if info, err := os.Stat(path); err == nil && info.Mode()&os.ModeDevice != 0 {
			buses = append(buses, path)
		}
	}
	sort.Strings(buses)
	if len(buses) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return buses, nil
}

// devNode talks to one address through the i2c-dev character device.
// Reads are a register address write followed by a separate read; the chip
// keeps its address pointer across the STOP.
type devNode struct {
	fd int
}

func openNode(bus string, addr uint16) (busNode, error) {
	fd, err := unix.Open(bus, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", bus, err)
	}

	funcs, err := unix.IoctlGetUint32(fd, ioctlI2CFuncs)
	if err != nil || funcs&i2cFuncI2C == 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: adapter lacks plain I2C support", bus)
	}
	if err := unix.IoctlSetInt(fd, ioctlI2CSlave, int(addr)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set address 0x%02X on %s: %w", addr, bus, err)
	}
	return &devNode{fd: fd}, nil
}

func (n *devNode) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		written, err := unix.Write(n.fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("i2c write: %w", err)
		}
		if written != len(data) {
			return fmt.Errorf("i2c write: short write %d of %d", written, len(data))
		}
		return nil
	}
}

func (n *devNode) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	if err := n.write(ctx, []byte{reg}); err != nil {
		return 0, err
	}
	var buf [1]byte
	for {
		read, err := unix.Read(n.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("i2c read: %w", err)
		}
		if read != 1 {
			return 0, fmt.Errorf("i2c read: got %d bytes", read)
		}
		return buf[0], nil
	}
}

func (n *devNode) WriteRegister(ctx context.Context, reg, value byte) error {
	return n.write(ctx, []byte{reg, value})
}

func (n *devNode) Close() error {
	if err := unix.Close(n.fd); err != nil {
		return fmt.Errorf("close i2c node: %w", err)
	}
	return nil
}
