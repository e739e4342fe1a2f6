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

// Package i2c provides the I2C host interface transport for the MFRC630.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mfrc630 "github.com/ZaparooProject/go-mfrc630"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the 7-bit address with both address pins low.
	// Pins I2CADR0/1 move the chip to 0x29..0x2B.
	DefaultAddress = 0x28

	// Fast-mode I2C. The chip also supports 1 MHz Fast-mode Plus, but few
	// host adapters do.
	maxClockFreq = 400 * physic.KiloHertz
)

// Transport implements mfrc630.Transport over an I2C bus. The chip
// auto-increments the register address on burst accesses except on the FIFO
// data register, so a FIFO burst is a single bus transaction.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser
	busName string
	mu      sync.Mutex
}

// parseI2CPath splits a composite detection path such as "/dev/i2c-1:0x29"
// into the bus and the device address. A bare bus name uses DefaultAddress.
func parseI2CPath(path string) (string, uint16, error) {
	bus, addr, found := strings.Cut(path, ":")
	if !found || addr == "" {
		return bus, DefaultAddress, nil
	}
	v, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", addr, err)
	}
	return bus, uint16(v), nil
}

// New opens the named I2C bus. busName is a periph bus name or a device path,
// optionally followed by ":addr".
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	name, addr, err := parseI2CPath(busName)
	if err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", name, err)
	}

	_ = bus.SetSpeed(maxClockFreq) // Not every adapter can change speed

	return NewWithBus(bus, addr, busName), nil
}

// NewWithBus wraps an already opened bus. The transport owns bus and closes
// it on Close.
func NewWithBus(bus i2c.BusCloser, addr uint16, busName string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		busName: busName,
	}
}

func (t *Transport) tx(ctx context.Context, op string, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.dev == nil {
		return mfrc630.NewClosedError(op, t.busName)
	}
	if err := t.dev.Tx(w, r); err != nil {
		return mfrc630.NewBusError(op, t.busName, err)
	}
	return nil
}

// ReadRegister implements mfrc630.Transport.
func (t *Transport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf [1]byte
	if err := t.tx(ctx, fmt.Sprintf("read register 0x%02X", reg), []byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteRegister implements mfrc630.Transport.
func (t *Transport) WriteRegister(ctx context.Context, reg, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.tx(ctx, fmt.Sprintf("write register 0x%02X", reg), []byte{reg, value}, nil)
}

// ReadFIFO implements mfrc630.Transport.
func (t *Transport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	data := make([]byte, n)
	if err := t.tx(ctx, "fifo read", []byte{mfrc630.RegFIFOData}, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFIFO implements mfrc630.Transport.
func (t *Transport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := make([]byte, 0, len(data)+1)
	w = append(w, mfrc630.RegFIFOData)
	w = append(w, data...)
	if err := t.tx(ctx, "fifo write", w, nil); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close releases the I2C bus file descriptor. Rapid open/close cycles
// without Close leak descriptors and can wedge the bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bus == nil {
		return nil
	}
	err := t.bus.Close()
	t.bus = nil
	t.dev = nil
	if err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

// IsConnected returns true until Close is called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type implements mfrc630.TypedTransport.
func (*Transport) Type() mfrc630.TransportType {
	return mfrc630.TransportI2C
}

// Probe reads the Version register and reports whether it holds a known
// MFRC630 version.
func (t *Transport) Probe(ctx context.Context) (byte, error) {
	version, err := t.ReadRegister(ctx, mfrc630.RegVersion)
	if err != nil {
		return 0, err
	}
	if version != mfrc630.VersionMFRC630v1 && version != mfrc630.VersionMFRC630v2 {
		return version, fmt.Errorf("%w: version 0x%02X", errUnknownChip, version)
	}
	return version, nil
}

var errUnknownChip = errors.New("unknown chip")

var _ mfrc630.Transport = (*Transport)(nil)
