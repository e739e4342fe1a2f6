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

// Package uart provides the UART host interface transport for the MFRC630.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	mfrc630 "github.com/ZaparooProject/go-mfrc630"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the chip starts with after reset.
	DefaultBaudRate = 115200

	readFlag = 0x80
)

var (
	errNoReply = errors.New("no reply from chip")
	errBadEcho = errors.New("unexpected address echo")
	errShortTx = errors.New("short write")
)

// Transport implements mfrc630.Transport over the chip's UART interface.
//
// A read sends the register address with bit 7 set and the chip answers
// with one data byte. A write sends the address with bit 7 clear, waits for
// the chip to echo it, then sends the value. The UART has no burst mode,
// so FIFO transfers are a run of single-byte accesses to the FIFO register.
type Transport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
	mu       sync.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// defaultTimeout is how long a reply may take. Windows USB-serial drivers
// deliver bytes in larger batches and need more headroom.
func defaultTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens a serial port at DefaultBaudRate, 8N1.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	t, err := NewWithPort(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort wraps an already opened port. The transport owns port and
// closes it on Close.
func NewWithPort(port serial.Port, portName string) (*Transport, error) {
	t := &Transport{
		port:     port,
		portName: portName,
		timeout:  defaultTimeout(),
	}
	if err := port.SetReadTimeout(t.pollSlice()); err != nil {
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return t, nil
}

// pollSlice is the read timeout of a single Read call. Reads loop until the
// whole reply arrived or the transport timeout passed, checking the context
// in between.
func (t *Transport) pollSlice() time.Duration {
	return t.timeout / 5
}

// SetTimeout sets how long a single register reply may take.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout %v", mfrc630.ErrInvalidParameter, timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeout = timeout
	if t.port == nil {
		return nil
	}
	if err := t.port.SetReadTimeout(t.pollSlice()); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for the output buffer to go out, retrying
// interrupted system calls.
func (t *Transport) drainWithRetry(op string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	var err error
	for attempt := range maxRetries {
		err = t.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		if attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
		}
	}
	return mfrc630.NewBusError(op, t.portName, fmt.Errorf("drain failed: %w", err))
}

func (t *Transport) send(ctx context.Context, op string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.port == nil {
		return mfrc630.NewClosedError(op, t.portName)
	}
	n, err := t.port.Write(data)
	if err != nil {
		return mfrc630.NewBusError(op, t.portName, err)
	}
	if n != len(data) {
		return mfrc630.NewBusError(op, t.portName, fmt.Errorf("%w: %d of %d bytes", errShortTx, n, len(data)))
	}
	return t.drainWithRetry(op)
}

func (t *Transport) receive(ctx context.Context, op string, buf []byte) error {
	deadline := time.Now().Add(t.timeout)
	off := 0
	for off < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := t.port.Read(buf[off:])
		if err != nil {
			return mfrc630.NewBusError(op, t.portName, err)
		}
		off += n
		if n == 0 && time.Now().After(deadline) {
			return mfrc630.NewTransportError(op, t.portName,
				fmt.Errorf("%w: got %d of %d bytes", errNoReply, off, len(buf)), mfrc630.ErrorTypeTimeout)
		}
	}
	return nil
}

func (t *Transport) writeLocked(ctx context.Context, op string, reg, value byte) error {
	if err := t.send(ctx, op, []byte{reg}); err != nil {
		return err
	}
	var echo [1]byte
	if err := t.receive(ctx, op, echo[:]); err != nil {
		return err
	}
	if echo[0] != reg {
		return mfrc630.NewBusError(op, t.portName, fmt.Errorf("%w: 0x%02X", errBadEcho, echo[0]))
	}
	return t.send(ctx, op, []byte{value})
}

// ReadRegister implements mfrc630.Transport.
func (t *Transport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := fmt.Sprintf("read register 0x%02X", reg)
	if err := t.send(ctx, op, []byte{reg | readFlag}); err != nil {
		return 0, err
	}
	var buf [1]byte
	if err := t.receive(ctx, op, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteRegister implements mfrc630.Transport.
func (t *Transport) WriteRegister(ctx context.Context, reg, value byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.writeLocked(ctx, fmt.Sprintf("write register 0x%02X", reg), reg, value)
}

// ReadFIFO implements mfrc630.Transport. All read requests go out in one
// write; replies come back in order.
func (t *Transport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	req := make([]byte, n)
	for i := range req {
		req[i] = mfrc630.RegFIFOData | readFlag
	}
	if err := t.send(ctx, "fifo read", req); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if err := t.receive(ctx, "fifo read", data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFIFO implements mfrc630.Transport. On failure the returned count is
// the number of bytes the chip acknowledged.
func (t *Transport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, b := range data {
		if err := t.writeLocked(ctx, "fifo write", mfrc630.RegFIFOData, b); err != nil {
			return i, err
		}
	}
	return len(data), nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true until Close is called.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type implements mfrc630.TypedTransport.
func (*Transport) Type() mfrc630.TransportType {
	return mfrc630.TransportUART
}

var _ mfrc630.Transport = (*Transport)(nil)
