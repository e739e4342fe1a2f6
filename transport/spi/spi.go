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

// Package spi provides the SPI host interface transport for the MFRC630.
package spi

import (
	"context"
	"fmt"
	"sync"

	mfrc630 "github.com/ZaparooProject/go-mfrc630"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// The chip accepts up to 10 MHz; 5 MHz leaves margin for flying leads.
	defaultFreq = 5 * physic.MegaHertz
	mode        = spi.Mode0
	readBit     = 0x01
)

// Transport implements mfrc630.Transport over SPI.
//
// Every transfer starts with an address byte holding the register address
// in bits 7..1 and the read flag in bit 0. On reads the chip clocks out the
// value addressed by the previous byte, so received data lags the sent
// addresses by one byte.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	mu       sync.Mutex
}

// New opens the named SPI port, for example "/dev/spidev0.0" or "SPI0.0".
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	return NewWithPort(port, portName)
}

// NewWithPort connects to an already opened port. The transport owns port
// and closes it on Close, including when connecting fails.
func NewWithPort(port spi.PortCloser, portName string) (*Transport, error) {
	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	return &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
	}, nil
}

func readAddr(reg byte) byte {
	return reg<<1 | readBit
}

func writeAddr(reg byte) byte {
	return reg << 1
}

func (t *Transport) tx(ctx context.Context, op string, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.conn == nil {
		return mfrc630.NewClosedError(op, t.portName)
	}
	if err := t.conn.Tx(w, r); err != nil {
		return mfrc630.NewBusError(op, t.portName, err)
	}
	return nil
}

// ReadRegister implements mfrc630.Transport.
func (t *Transport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := []byte{readAddr(reg), 0x00}
	r := make([]byte, len(w))
	if err := t.tx(ctx, fmt.Sprintf("read register 0x%02X", reg), w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

// WriteRegister implements mfrc630.Transport.
func (t *Transport) WriteRegister(ctx context.Context, reg, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := []byte{writeAddr(reg), value}
	return t.tx(ctx, fmt.Sprintf("write register 0x%02X", reg), w, make([]byte, len(w)))
}

// ReadFIFO implements mfrc630.Transport. The FIFO address is repeated once
// per byte and a trailing 0x00 clocks out the last one.
func (t *Transport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := make([]byte, n+1)
	for i := range n {
		w[i] = readAddr(mfrc630.RegFIFOData)
	}
	r := make([]byte, len(w))
	if err := t.tx(ctx, "fifo read", w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

// WriteFIFO implements mfrc630.Transport.
func (t *Transport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w := make([]byte, 0, len(data)+1)
	w = append(w, writeAddr(mfrc630.RegFIFOData))
	w = append(w, data...)
	if err := t.tx(ctx, "fifo write", w, make([]byte, len(w))); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close releases the SPI port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// IsConnected returns true until Close is called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type implements mfrc630.TypedTransport.
func (*Transport) Type() mfrc630.TransportType {
	return mfrc630.TransportSPI
}

var _ mfrc630.Transport = (*Transport)(nil)
