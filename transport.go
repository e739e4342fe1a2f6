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

package mfrc630

import (
	"context"
	"errors"
	"fmt"
)

// Transport moves bytes between the host and the MFRC630 register file.
// It can be implemented by I2C, SPI or UART backends.
//
// Implementations report bus failures as *TransportError so that callers
// can match them with ErrCommunication.
type Transport interface {
	// ReadRegister returns the value of one register.
	ReadRegister(ctx context.Context, reg byte) (byte, error)

	// WriteRegister sets one register.
	WriteRegister(ctx context.Context, reg, value byte) error

	// ReadFIFO reads exactly n bytes from the FIFO data register.
	// The caller guarantees the FIFO holds at least n bytes.
	ReadFIFO(ctx context.Context, n int) ([]byte, error)

	// WriteFIFO writes data into the FIFO data register and returns the
	// number of bytes clocked out.
	WriteFIFO(ctx context.Context, data []byte) (int, error)

	// Close releases the bus.
	Close() error
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents the MFRC630 UART host interface.
	TransportUART TransportType = "uart"
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TypedTransport is implemented by transports that can name their bus.
type TypedTransport interface {
	Type() TransportType
}

// TypeOf returns the bus type of t, or "unknown".
func TypeOf(t Transport) TransportType {
	if typed, ok := t.(TypedTransport); ok {
		return typed.Type()
	}
	return "unknown"
}

// TransportWithRetry wraps a Transport with retry capabilities.
//
// Only single-register accesses are retried. FIFO bursts and reads of the FIFO
// data register consume chip state, so repeating them would lose bytes.
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// ReadRegister reads a register, retrying transient bus errors.
func (t *TransportWithRetry) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	if reg == RegFIFOData {
		return t.transport.ReadRegister(ctx, reg) //nolint:wrapcheck // pass-through
	}
	var value byte
	err := RetryWithConfig(ctx, t.config, func() error {
		var err error
		value, err = t.transport.ReadRegister(ctx, reg)
		return err //nolint:wrapcheck // classified by IsRetryable
	})
	return value, err
}

// WriteRegister writes a register, retrying transient bus errors.
func (t *TransportWithRetry) WriteRegister(ctx context.Context, reg, value byte) error {
	if reg == RegFIFOData {
		return t.transport.WriteRegister(ctx, reg, value) //nolint:wrapcheck // pass-through
	}
	return RetryWithConfig(ctx, t.config, func() error {
		return t.transport.WriteRegister(ctx, reg, value) //nolint:wrapcheck // classified by IsRetryable
	})
}

// ReadFIFO passes through without retry.
func (t *TransportWithRetry) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	return t.transport.ReadFIFO(ctx, n) //nolint:wrapcheck // pass-through
}

// WriteFIFO passes through without retry.
func (t *TransportWithRetry) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	return t.transport.WriteFIFO(ctx, data) //nolint:wrapcheck // pass-through
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// Type returns the wrapped transport's type.
func (t *TransportWithRetry) Type() TransportType {
	return TypeOf(t.transport)
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	if config != nil {
		t.config = config
	}
}

// Unwrap returns the wrapped transport.
func (t *TransportWithRetry) Unwrap() Transport {
	return t.transport
}

// TracingTransport records every register access in a TraceBuffer and
// attaches the recent traffic to any error it returns.
type TracingTransport struct {
	transport Transport
	trace     *TraceBuffer
}

// NewTracingTransport wraps transport. depth bounds the number of entries
// kept; port is only used to label the trace.
func NewTracingTransport(transport Transport, port string, depth int) *TracingTransport {
	return &TracingTransport{
		transport: transport,
		trace:     NewTraceBuffer(string(TypeOf(transport)), port, depth),
	}
}

// ReadRegister implements Transport.
func (t *TracingTransport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	t.trace.RecordTX([]byte{reg}, "read")
	value, err := t.transport.ReadRegister(ctx, reg)
	if err != nil {
		return 0, t.fail(err)
	}
	t.trace.RecordRX([]byte{value}, "")
	Tracef("R %02X -> %02X", reg, value)
	return value, nil
}

// WriteRegister implements Transport.
func (t *TracingTransport) WriteRegister(ctx context.Context, reg, value byte) error {
	t.trace.RecordTX([]byte{reg, value}, "write")
	if err := t.transport.WriteRegister(ctx, reg, value); err != nil {
		return t.fail(err)
	}
	Tracef("W %02X <- %02X", reg, value)
	return nil
}

// ReadFIFO implements Transport.
func (t *TracingTransport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	t.trace.RecordTX([]byte{RegFIFOData}, fmt.Sprintf("fifo read %d", n))
	data, err := t.transport.ReadFIFO(ctx, n)
	if err != nil {
		return nil, t.fail(err)
	}
	t.trace.RecordRX(data, "fifo")
	Tracef("FIFO -> %s", formatHexBytes(data))
	return data, nil
}

// WriteFIFO implements Transport.
func (t *TracingTransport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	t.trace.RecordTX(data, "fifo write")
	n, err := t.transport.WriteFIFO(ctx, data)
	if err != nil {
		return n, t.fail(err)
	}
	Tracef("FIFO <- %s", formatHexBytes(data))
	return n, nil
}

// Close implements Transport.
func (t *TracingTransport) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// Type returns the wrapped transport's type.
func (t *TracingTransport) Type() TransportType {
	return TypeOf(t.transport)
}

// Trace returns the buffer backing this transport.
func (t *TracingTransport) Trace() *TraceBuffer {
	return t.trace
}

func (t *TracingTransport) fail(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return t.trace.WrapError(err)
}
