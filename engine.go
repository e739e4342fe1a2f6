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
	"time"
)

// WriteCommand writes opcode to the Command register, then params to the
// FIFO. It does not wait for the command to finish.
func (d *Device) WriteCommand(ctx context.Context, opcode byte, params ...byte) error {
	if err := d.writeReg(ctx, RegCommand, opcode); err != nil {
		return err
	}
	if len(params) == 0 {
		return nil
	}
	n, err := d.WriteFIFO(ctx, params)
	if err != nil {
		return err
	}
	if n != len(params) {
		return fmt.Errorf("%w: FIFO accepted %d of %d parameter bytes", ErrProtocol, n, len(params))
	}
	return nil
}

// FIFOLength returns the number of bytes currently held in the FIFO.
func (d *Device) FIFOLength(ctx context.Context) (int, error) {
	n, err := d.readReg(ctx, RegFIFOLength)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReadFIFO drains up to maxLen bytes. An empty FIFO yields an empty slice.
func (d *Device) ReadFIFO(ctx context.Context, maxLen int) ([]byte, error) {
	if maxLen < 0 {
		return nil, fmt.Errorf("%w: negative read length %d", ErrInvalidParameter, maxLen)
	}
	occupancy, err := d.FIFOLength(ctx)
	if err != nil {
		return nil, err
	}
	n := min(maxLen, occupancy)
	if n == 0 {
		return []byte{}, nil
	}
	data, err := d.transport.ReadFIFO(ctx, n)
	if err != nil {
		return nil, d.wrapTransportError("read FIFO", err)
	}
	return data, nil
}

// WriteFIFO writes as much of data as fits into the FIFO and returns the
// count written. A short count is not an error.
func (d *Device) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	occupancy, err := d.FIFOLength(ctx)
	if err != nil {
		return 0, err
	}
	free := FIFOCapacity - occupancy
	if free <= 0 {
		return 0, nil
	}
	n, err := d.transport.WriteFIFO(ctx, data[:min(len(data), free)])
	if err != nil {
		return n, d.wrapTransportError("write FIFO", err)
	}
	return n, nil
}

// ClearFIFO flushes the FIFO.
func (d *Device) ClearFIFO(ctx context.Context) error {
	ctrl, err := d.readReg(ctx, RegFIFOControl)
	if err != nil {
		return err
	}
	return d.writeReg(ctx, RegFIFOControl, ctrl|fifoFlush)
}

// ComStatus returns the Status register. Bits 0..2 hold the ComState and
// StatusCrypto1On reports an authenticated MIFARE session.
func (d *Device) ComStatus(ctx context.Context) (byte, error) {
	return d.readReg(ctx, RegStatus)
}

// ErrorRegister returns the error bits of the last command.
func (d *Device) ErrorRegister(ctx context.Context) (byte, error) {
	return d.readReg(ctx, RegError)
}

// Version returns the chip version register.
func (d *Device) Version(ctx context.Context) (byte, error) {
	return d.readReg(ctx, RegVersion)
}

// SoftReset starts the SoftReset command. Callers wait for the chip to
// settle before issuing further commands.
func (d *Device) SoftReset(ctx context.Context) error {
	d.lastATQA = 0
	return d.writeReg(ctx, RegCommand, CmdSoftReset)
}

// Idle cancels the running command.
func (d *Device) Idle(ctx context.Context) error {
	return d.writeReg(ctx, RegCommand, CmdIdle)
}

// ClearIRQ clears every bit of both IRQ registers.
func (d *Device) ClearIRQ(ctx context.Context) error {
	if err := d.writeReg(ctx, RegIRQ0, IRQ0ClearAll); err != nil {
		return err
	}
	return d.writeReg(ctx, RegIRQ1, IRQ1ClearAll)
}

// irqResult reports which of the awaited bits fired.
type irqResult struct {
	irq0 byte
	irq1 byte
}

func (r irqResult) timerExpired() bool {
	return r.irq1&IRQ1Timer0 != 0
}

// waitForIRQ polls the IRQ registers until any bit of irq0Mask or irq1Mask is
// set, the chip reports an error, the poll budget runs out or ctx ends.
func (d *Device) waitForIRQ(ctx context.Context, op string, irq0Mask, irq1Mask byte) (irqResult, error) {
	deadline := time.Now().Add(d.config.PollTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return irqResult{}, err
		}

		irq0, err := d.readReg(ctx, RegIRQ0)
		if err != nil {
			return irqResult{}, err
		}
		irq1, err := d.readReg(ctx, RegIRQ1)
		if err != nil {
			return irqResult{}, err
		}

		if irq0&IRQ0Err != 0 {
			code, err := d.readReg(ctx, RegError)
			if err != nil {
				return irqResult{}, err
			}
			return irqResult{irq0: irq0, irq1: irq1}, decodeChipError(op, code)
		}
		if irq0&irq0Mask != 0 || irq1&irq1Mask != 0 {
			return irqResult{irq0: irq0, irq1: irq1}, nil
		}

		if time.Now().After(deadline) {
			// Leave the chip idle so the next command starts clean.
			if err := d.Idle(ctx); err != nil {
				Debugf("%s: idle after timeout failed: %v", op, err)
			}
			return irqResult{}, fmt.Errorf("%w: %s did not complete within %v", ErrTimeout, op, d.config.PollTimeout)
		}

		if err := sleepCtx(ctx, d.config.PollInterval); err != nil {
			return irqResult{}, err
		}
	}
}

// frameOptions control a single transceive exchange.
type frameOptions struct {
	op     string
	txBits byte // valid bits in the last byte, 0 means all 8
	txCRC  bool
	rxCRC  bool
}

// prepareExchange stops the running command, flushes the FIFO, clears the
// IRQs and arms Timer0 as the frame waiting time.
func (d *Device) prepareExchange(ctx context.Context) error {
	if err := d.Idle(ctx); err != nil {
		return err
	}
	if err := d.ClearFIFO(ctx); err != nil {
		return err
	}
	if err := d.ClearIRQ(ctx); err != nil {
		return err
	}
	ticks := d.config.FrameTimeout
	return d.writeRegs(ctx,
		RegT0Control, t0ControlStartOnTx,
		RegT0ReloadHi, byte(ticks>>8),
		RegT0ReloadLo, byte(ticks),
		RegT0CounterValHi, byte(ticks>>8),
		RegT0CounterValLo, byte(ticks),
	)
}

// transceive sends frame to the card and returns its answer. A card that
// stays silent until Timer0 expires yields ErrNoResponse.
func (d *Device) transceive(ctx context.Context, frame []byte, opts frameOptions) ([]byte, error) {
	if len(frame) == 0 || len(frame) > FIFOCapacity {
		return nil, fmt.Errorf("%w: frame length %d", ErrInvalidParameter, len(frame))
	}
	if err := d.prepareExchange(ctx); err != nil {
		return nil, err
	}

	txPreset, rxPreset := byte(crcOff), byte(crcOff)
	if opts.txCRC {
		txPreset = crcOn
	}
	if opts.rxCRC {
		rxPreset = crcOn
	}
	if err := d.writeRegs(ctx,
		RegTxCrcPreset, txPreset,
		RegRxCrcPreset, rxPreset,
		RegTxDataNum, txDataNumEn|(opts.txBits&0x07),
		RegRxBitCtrl, 0x00,
	); err != nil {
		return nil, err
	}

	n, err := d.WriteFIFO(ctx, frame)
	if err != nil {
		return nil, err
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%w: FIFO accepted %d of %d frame bytes", ErrProtocol, n, len(frame))
	}
	if err := d.writeReg(ctx, RegCommand, CmdTransceive); err != nil {
		return nil, err
	}

	res, err := d.waitForIRQ(ctx, opts.op, IRQ0Rx, IRQ1Timer0)
	if err != nil {
		return nil, err
	}
	if res.irq0&IRQ0Rx == 0 && res.timerExpired() {
		_ = d.Idle(ctx)
		return nil, ErrNoResponse
	}

	return d.ReadFIFO(ctx, FIFOCapacity)
}

// readReg reads a register and classifies transport failures.
func (d *Device) readReg(ctx context.Context, reg byte) (byte, error) {
	value, err := d.transport.ReadRegister(ctx, reg)
	if err != nil {
		return 0, d.wrapTransportError(fmt.Sprintf("read register 0x%02X", reg), err)
	}
	return value, nil
}

func (d *Device) writeReg(ctx context.Context, reg, value byte) error {
	if err := d.transport.WriteRegister(ctx, reg, value); err != nil {
		return d.wrapTransportError(fmt.Sprintf("write register 0x%02X", reg), err)
	}
	return nil
}

// writeRegs writes (register, value) pairs in order.
func (d *Device) writeRegs(ctx context.Context, regVals ...byte) error {
	if len(regVals)%2 != 0 {
		panic("mfrc630: register values not paired")
	}
	for i := 0; i < len(regVals); i += 2 {
		if err := d.writeReg(ctx, regVals[i], regVals[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// wrapTransportError makes every bus failure match ErrCommunication while
// letting context errors through untouched.
func (d *Device) wrapTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrCommunication) {
		return err
	}
	errType := ErrorTypeTransient
	if IsFatal(err) {
		errType = ErrorTypePermanent
	}
	return NewTransportError(op, string(TypeOf(d.transport)), err, errType)
}
