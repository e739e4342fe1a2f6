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
	"fmt"
)

// RadioProfile names a register table that sets up the antenna drivers and
// the protocol framing for one air interface.
type RadioProfile int

const (
	// RadioISO14443A106 is ISO14443-A at 106 kbit/s (Miller/Manchester).
	RadioISO14443A106 RadioProfile = iota + 1
)

func (p RadioProfile) String() string {
	switch p {
	case RadioISO14443A106:
		return "ISO14443A-106"
	default:
		return fmt.Sprintf("RadioProfile(%d)", int(p))
	}
}

// RegisterValue is one entry of a radio profile table.
type RegisterValue struct {
	Reg   byte
	Value byte
	// Verify marks registers read back after the table is applied.
	Verify bool
}

// Antenna block DrvMode..RxAna followed by the protocol block TxBitMod..FabCal.
var iso14443a106Table = []RegisterValue{
	{RegDrvMode, 0x8E, true},
	{RegTxAmp, 0x12, true},
	{RegDrvCon, 0x39, true},
	{RegTxl, 0x0A, false},
	{RegTxCrcPreset, 0x18, true},
	{RegRxCrcPreset, 0x18, true},
	{RegTxDataNum, 0x0F, false},
	{RegTxModWidth, 0x21, false},
	{RegTxSym10BurstLn, 0x00, false},
	{RegTxWaitCtrl, 0xC0, false},
	{RegTxWaitLo, 0x12, false},
	{RegFrameCon, 0xCF, false},
	{RegRxSofD, 0x00, false},
	{RegRxCtrl, 0x04, false},
	{RegRxWait, 0x90, false},
	{RegRxThreshold, 0x5C, false},
	{RegRcv, 0x12, false},
	{RegRxAna, 0x0A, true},

	{RegTxBitMod, 0x20, true},
	{0x49, 0x00, false}, // reserved
	{0x4A, 0x04, false}, // TxDataCon
	{0x4B, 0x50, false}, // TxDataMod
	{0x4C, 0x40, false}, // TxSymFreq
	{0x4D, 0x00, false}, // TxSym0H
	{0x4E, 0x00, false}, // TxSym0L
	{0x4F, 0x00, false}, // TxSym1H
	{0x50, 0x00, false}, // TxSym1L
	{0x51, 0x00, false}, // TxSym2
	{0x52, 0x00, false}, // TxSym3
	{0x53, 0x00, false}, // TxSym10Len
	{0x54, 0x00, false}, // TxSym32Len
	{0x55, 0x00, false}, // TxSym10BurstCtrl
	{0x56, 0x00, false}, // TxSym10Mod
	{0x57, 0x00, false}, // TxSym32Mod
	{RegRxBitMod, 0x02, true},
	{0x59, 0x00, false}, // RxEofSym
	{0x5A, 0x00, false}, // RxSyncValH
	{0x5B, 0x01, false}, // RxSyncValL
	{0x5C, 0x00, false}, // RxSyncMod
	{0x5D, 0x08, false}, // RxMod
	{0x5E, 0x80, false}, // RxCorr
	{RegFabCal, 0xB2, false},
}

// ProfileRegisters returns a copy of the table applied for profile.
func ProfileRegisters(profile RadioProfile) ([]RegisterValue, error) {
	var table []RegisterValue
	switch profile {
	case RadioISO14443A106:
		table = iso14443a106Table
	default:
		return nil, fmt.Errorf("%w: unknown radio profile %v", ErrInvalidParameter, profile)
	}
	out := make([]RegisterValue, len(table))
	copy(out, table)
	return out, nil
}

// Configure writes the register table of profile in order, then reads back
// the entries marked for verification.
func (d *Device) Configure(ctx context.Context, profile RadioProfile) error {
	table, err := ProfileRegisters(profile)
	if err != nil {
		return err
	}

	for _, rv := range table {
		if err := d.writeReg(ctx, rv.Reg, rv.Value); err != nil {
			return fmt.Errorf("configure %v: %w", profile, err)
		}
	}

	for _, rv := range table {
		if !rv.Verify {
			continue
		}
		got, err := d.readReg(ctx, rv.Reg)
		if err != nil {
			return fmt.Errorf("configure %v: %w", profile, err)
		}
		if got != rv.Value {
			return fmt.Errorf("%w: register 0x%02X reads 0x%02X, want 0x%02X",
				ErrConfigMismatch, rv.Reg, got, rv.Value)
		}
	}

	Debugf("radio configured for %v", profile)
	return nil
}

// ConfigureOK is Configure reduced to a success flag.
func (d *Device) ConfigureOK(ctx context.Context, profile RadioProfile) bool {
	if err := d.Configure(ctx, profile); err != nil {
		Debugf("configure %v failed: %v", profile, err)
		return false
	}
	return true
}

// RadioOff cancels any command and switches the RF field off. Cards in the
// field lose power and return to their idle state.
func (d *Device) RadioOff(ctx context.Context) error {
	d.lastATQA = 0
	return d.writeReg(ctx, RegCommand, CmdIdle|CmdModemOff)
}
