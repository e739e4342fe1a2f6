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

package testing

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

// TransportType mirrors mfrc630.TransportType to avoid import cycle
type TransportType string

const (
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// ErrInjected is the default error returned by injected transport failures.
var ErrInjected = errors.New("injected transport failure")

// Bus is the register access surface shared by the driver's Transport and
// the wrappers in this package.
type Bus interface {
	ReadRegister(ctx context.Context, reg byte) (byte, error)
	WriteRegister(ctx context.Context, reg, value byte) error
	ReadFIFO(ctx context.Context, n int) ([]byte, error)
	WriteFIFO(ctx context.Context, data []byte) (int, error)
	Close() error
}

// SimulatorTransport wraps VirtualMFRC630 and implements mfrc630.Transport.
// It lets tests drive the real Device API against the simulated chip and
// inject bus failures.
type SimulatorTransport struct {
	sim        *VirtualMFRC630
	stickyErr  error
	injectErr  error
	CommandLog []CommandLogEntry
	failAfter  int
	accesses   int
	mu         syncutil.Mutex
	closed     bool
}

// CommandLogEntry records a host access that crossed the transport.
type CommandLogEntry struct {
	Timestamp time.Time
	Data      []byte
	Reg       byte
	Write     bool
	FIFO      bool
}

// NewSimulatorTransport creates a new transport backed by VirtualMFRC630
func NewSimulatorTransport(sim *VirtualMFRC630) *SimulatorTransport {
	return &SimulatorTransport{
		sim:        sim,
		failAfter:  -1,
		CommandLog: make([]CommandLogEntry, 0),
	}
}

// before runs the checks shared by every access and logs it.
func (t *SimulatorTransport) before(ctx context.Context, reg byte, write, fifo bool, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return io.ErrClosedPipe
	}
	t.accesses++
	t.CommandLog = append(t.CommandLog, CommandLogEntry{
		Reg:       reg,
		Write:     write,
		FIFO:      fifo,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
	})

	if t.injectErr != nil {
		err := t.injectErr
		t.injectErr = nil
		return err
	}
	if t.stickyErr != nil {
		return t.stickyErr
	}
	if t.failAfter >= 0 && t.accesses > t.failAfter {
		return ErrInjected
	}
	return nil
}

// ReadRegister reads a simulated register.
func (t *SimulatorTransport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	if err := t.before(ctx, reg, false, false, nil); err != nil {
		return 0, err
	}
	return t.sim.ReadRegister(reg), nil
}

// WriteRegister writes a simulated register.
func (t *SimulatorTransport) WriteRegister(ctx context.Context, reg, value byte) error {
	if err := t.before(ctx, reg, true, false, []byte{value}); err != nil {
		return err
	}
	t.sim.WriteRegister(reg, value)
	return nil
}

// ReadFIFO drains n bytes from the simulated FIFO.
func (t *SimulatorTransport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if err := t.before(ctx, regFIFOData, false, true, nil); err != nil {
		return nil, err
	}
	return t.sim.ReadFIFO(n), nil
}

// WriteFIFO writes data to the simulated FIFO.
func (t *SimulatorTransport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	if err := t.before(ctx, regFIFOData, true, true, data); err != nil {
		return 0, err
	}
	return t.sim.WriteFIFO(data), nil
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// IsConnected returns whether the transport is connected
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*SimulatorTransport) Type() TransportType {
	return TransportMock
}

// GetSimulator returns the underlying VirtualMFRC630 for test setup
func (t *SimulatorTransport) GetSimulator() *VirtualMFRC630 {
	return t.sim
}

// InjectError makes the next access fail with err.
func (t *SimulatorTransport) InjectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.injectErr = err
}

// SetStickyError makes every access fail with err until cleared with nil.
func (t *SimulatorTransport) SetStickyError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stickyErr = err
}

// FailAfter lets n more accesses through, then fails every access with
// ErrInjected. A negative n disables it.
func (t *SimulatorTransport) FailAfter(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 {
		t.failAfter = -1
		return
	}
	t.failAfter = t.accesses + n
}

// ClearCommandLog clears the command log
func (t *SimulatorTransport) ClearCommandLog() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CommandLog = make([]CommandLogEntry, 0)
}

// AccessCount returns the number of accesses attempted so far.
func (t *SimulatorTransport) AccessCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accesses
}

// HasRegisterWrite checks if a register was written with value.
func (t *SimulatorTransport) HasRegisterWrite(reg, value byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.CommandLog {
		if entry.Write && !entry.FIFO && entry.Reg == reg && len(entry.Data) == 1 && entry.Data[0] == value {
			return true
		}
	}
	return false
}

// GetCommandCount returns how many times a chip command was written to the
// Command register.
func (t *SimulatorTransport) GetCommandCount(cmd byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, entry := range t.CommandLog {
		if entry.Write && !entry.FIFO && entry.Reg == regCommand && len(entry.Data) == 1 && entry.Data[0]&cmdMask == cmd {
			count++
		}
	}
	return count
}

var _ Bus = (*SimulatorTransport)(nil)
