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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-mfrc630/internal/frame"
)

// fieldOnSim returns a simulator with the transmitter enabled, Timer0 armed
// and tag in the field.
func fieldOnSim(tag *VirtualTag) *VirtualMFRC630 {
	sim := NewVirtualMFRC630()
	sim.WriteRegister(regDrvMode, 0x8E)
	sim.WriteRegister(regT0Control, 0x11)
	if tag != nil {
		sim.AddTag(tag)
	}
	return sim
}

// cycleField switches the transmitter off and on, resetting every card.
func cycleField(sim *VirtualMFRC630) {
	sim.WriteRegister(regDrvMode, drvModeDefault)
	sim.WriteRegister(regDrvMode, 0x8E)
}

// exchange runs one Transceive the way the driver does.
func exchange(sim *VirtualMFRC630, data []byte, txBits byte, txCRC, rxCRC bool) (irq0, irq1, errReg byte, resp []byte) {
	preset := func(on bool) byte {
		if on {
			return 0x19
		}
		return 0x18
	}
	sim.WriteRegister(regCommand, cmdIdle)
	sim.WriteRegister(regFIFOControl, fifoFlushBit)
	sim.WriteRegister(regIRQ0, 0x7F)
	sim.WriteRegister(regIRQ1, 0x7F)
	sim.WriteRegister(regTxCrcPreset, preset(txCRC))
	sim.WriteRegister(regRxCrcPreset, preset(rxCRC))
	sim.WriteRegister(regTxDataNum, 0x08|txBits)
	sim.WriteFIFO(data)
	sim.WriteRegister(regCommand, cmdTransceive)

	irq0 = sim.ReadRegister(regIRQ0)
	irq1 = sim.ReadRegister(regIRQ1)
	errReg = sim.ReadRegister(regError)
	resp = sim.ReadFIFO(int(sim.ReadRegister(regFIFOLength)))
	return irq0, irq1, errReg, resp
}

func TestSimulatorPowerOnState(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	assert.Equal(t, byte(DefaultVersion), sim.ReadRegister(regVersion))
	assert.Equal(t, byte(drvModeDefault), sim.ReadRegister(regDrvMode))
	assert.False(t, sim.GetState().FieldOn)

	sim.SetVersion(0x1A)
	sim.WriteRegister(regVersion, 0x00)
	assert.Equal(t, byte(0x1A), sim.ReadRegister(regVersion))
}

func TestSimulatorFIFO(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	assert.Equal(t, 3, sim.WriteFIFO([]byte{1, 2, 3}))
	assert.Equal(t, byte(3), sim.ReadRegister(regFIFOLength))
	assert.Equal(t, []byte{1, 2}, sim.ReadFIFO(2))
	assert.Equal(t, byte(3), sim.ReadRegister(regFIFOData))
	assert.Empty(t, sim.ReadFIFO(10))

	big := make([]byte, 300)
	assert.Equal(t, fifoCapacity, sim.WriteFIFO(big))
	assert.Equal(t, byte(errFIFOOvl), sim.Register(regError)&errFIFOOvl)

	sim.WriteRegister(regFIFOControl, 0x80|fifoFlushBit)
	assert.Equal(t, byte(0), sim.ReadRegister(regFIFOLength))
	assert.Equal(t, byte(0x80), sim.ReadRegister(regFIFOControl))
}

func TestSimulatorIRQSetClear(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	sim.WriteRegister(regIRQ0, irqSet|irq0Idle|irq0Rx)
	assert.Equal(t, byte(irq0Idle|irq0Rx), sim.ReadRegister(regIRQ0))

	sim.WriteRegister(regIRQ0, irq0Rx)
	assert.Equal(t, byte(irq0Idle), sim.ReadRegister(regIRQ0))
}

func TestSimulatorLoadKey(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	key := []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}

	// Command first, parameters after.
	sim.WriteRegister(regCommand, cmdLoadKey)
	sim.WriteFIFO(key)
	assert.Equal(t, byte(irq0Idle), sim.ReadRegister(regIRQ0))
	assert.Equal(t, [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, sim.GetState().KeyBuffer)
	assert.Equal(t, 0, sim.GetState().FIFOLength)

	sim.WriteRegister(regIRQ0, 0x7F)
	sim.WriteRegister(regCommand, cmdLoadKey)
	sim.WriteFIFO(key[:3])
	irq0 := sim.ReadRegister(regIRQ0)
	assert.Equal(t, byte(irq0Err|irq0Idle), irq0)
	assert.Equal(t, byte(errNoData), sim.ReadRegister(regError))
}

func TestSimulatorNoFieldNoAnswer(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	sim.AddTag(NewVirtualNTAG213(nil))
	sim.WriteRegister(regT0Control, 0x11)

	irq0, irq1, _, resp := exchange(sim, []byte{frame.REQA}, 7, false, false)
	assert.Zero(t, irq0&irq0Rx)
	assert.Equal(t, byte(irq1Timer0), irq1&irq1Timer0)
	assert.Empty(t, resp)
}

func TestSimulatorRequestAndSelect(t *testing.T) {
	t.Parallel()

	tag := NewVirtualNTAG213(nil)
	sim := fieldOnSim(tag)

	irq0, _, errReg, resp := exchange(sim, []byte{frame.REQA}, 7, false, false)
	assert.Equal(t, byte(irq0Rx|irq0Idle), irq0&(irq0Rx|irq0Idle))
	assert.Zero(t, errReg)
	assert.Equal(t, []byte{0x44, 0x00}, resp)

	fragments := frame.CascadeFragments(tag.UID)
	for level, fragment := range fragments {
		sel := frame.SelectCommands[level]
		_, _, errReg, resp = exchange(sim, []byte{sel, frame.NVBAnti}, 0, false, false)
		require.Zero(t, errReg)
		require.Equal(t, append(append([]byte{}, fragment...), frame.BCC(fragment)), resp)

		req := append([]byte{sel, frame.NVBSelect}, resp...)
		_, _, errReg, resp = exchange(sim, req, 0, true, true)
		require.Zero(t, errReg)
		require.Len(t, resp, 1)
	}
	assert.Equal(t, byte(0x00), resp[0])
	assert.Equal(t, TagActive, tag.State())
}

func TestSimulatorCRCDelivery(t *testing.T) {
	t.Parallel()

	tag := NewVirtualMIFARE1K(nil)
	sim := fieldOnSim(tag)
	_, _, _, _ = exchange(sim, []byte{frame.REQA}, 7, false, false)
	fragment := frame.CascadeFragments(tag.UID)[0]
	req := append([]byte{frame.SelCL1, frame.NVBSelect}, fragment...)
	req = append(req, frame.BCC(fragment))

	// With the receive CRC off the card's CRC lands in the FIFO.
	_, _, errReg, resp := exchange(sim, req, 0, true, false)
	require.Zero(t, errReg)
	assert.Equal(t, frame.AppendCRCA([]byte{0x08}), resp)
}

func TestSimulatorMissingCRCIsIntegrityError(t *testing.T) {
	t.Parallel()

	sim := fieldOnSim(NewVirtualNTAG213(nil))

	// ATQA carries no CRC, so expecting one flags an integrity error.
	irq0, _, errReg, _ := exchange(sim, []byte{frame.REQA}, 7, false, true)
	assert.Equal(t, byte(irq0Err), irq0&irq0Err)
	assert.Equal(t, byte(errInteg), errReg)
}

func TestSimulatorCollision(t *testing.T) {
	t.Parallel()

	sim := fieldOnSim(NewVirtualMIFARE1K(nil))
	sim.AddTag(NewVirtualMIFARE1K([]byte{0x01, 0x02, 0x03, 0x04}))

	// Identical ATQAs overlay cleanly.
	_, _, errReg, resp := exchange(sim, []byte{frame.REQA}, 7, false, false)
	require.Zero(t, errReg)
	require.Equal(t, []byte{0x04, 0x00}, resp)

	irq0, _, errReg, _ := exchange(sim, []byte{frame.SelCL1, frame.NVBAnti}, 0, false, false)
	assert.Equal(t, byte(irq0Err|irq0Idle), irq0&(irq0Err|irq0Idle))
	assert.Equal(t, byte(errCollDet), errReg)
}

func TestSimulatorInjectedFaults(t *testing.T) {
	t.Parallel()

	sim := fieldOnSim(NewVirtualNTAG213(nil))

	sim.InjectCollision()
	_, _, errReg, _ := exchange(sim, []byte{frame.WUPA}, 7, false, false)
	assert.Equal(t, byte(errCollDet), errReg)

	cycleField(sim)
	sim.InjectCRCError()
	_, _, errReg, _ = exchange(sim, []byte{frame.WUPA}, 7, false, false)
	assert.Equal(t, byte(errInteg), errReg)

	// One-shot: the third exchange is clean.
	cycleField(sim)
	_, _, errReg, resp := exchange(sim, []byte{frame.WUPA}, 7, false, false)
	assert.Zero(t, errReg)
	assert.Len(t, resp, 2)
}

func TestSimulatorStallNextCommand(t *testing.T) {
	t.Parallel()

	sim := fieldOnSim(NewVirtualNTAG213(nil))
	sim.StallNextCommand()

	irq0, irq1, _, _ := exchange(sim, []byte{frame.REQA}, 7, false, false)
	assert.Zero(t, irq0&(irq0Rx|irq0Idle|irq0Err))
	assert.Zero(t, irq1&irq1Timer0)
	state := sim.GetState()
	assert.True(t, state.CommandStalled)
	assert.Equal(t, byte(cmdTransceive), state.ActiveCommand)

	sim.WriteRegister(regCommand, cmdIdle)
	assert.False(t, sim.GetState().CommandStalled)
}

func TestSimulatorMFAuthent(t *testing.T) {
	t.Parallel()

	tag := NewVirtualMIFARE1K(nil)
	sim := fieldOnSim(tag)
	_, _, _, _ = exchange(sim, []byte{frame.REQA}, 7, false, false)
	fragment := frame.CascadeFragments(tag.UID)[0]
	req := append([]byte{frame.SelCL1, frame.NVBSelect}, fragment...)
	req = append(req, frame.BCC(fragment))
	_, _, _, _ = exchange(sim, req, 0, true, true)
	require.Equal(t, TagActive, tag.State())

	auth := func(key []byte) (byte, byte) {
		sim.WriteRegister(regCommand, cmdIdle)
		sim.WriteRegister(regIRQ0, 0x7F)
		sim.WriteRegister(regIRQ1, 0x7F)
		sim.WriteRegister(regCommand, cmdLoadKey)
		sim.WriteFIFO(key)
		sim.ReadRegister(regIRQ0)
		sim.WriteRegister(regIRQ0, 0x7F)
		sim.WriteRegister(regCommand, cmdMFAuthent)
		sim.WriteFIFO(append([]byte{MIFAREKeyA, 4}, tag.UID...))
		return sim.ReadRegister(regIRQ0), sim.ReadRegister(regStatus)
	}

	irq0, status := auth([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Equal(t, byte(irq0Idle), irq0&(irq0Idle|irq0Err))
	assert.Equal(t, byte(statusCrypto1), status&statusCrypto1)
	assert.True(t, tag.IsAuthenticated(1))

	// Clearing Crypto1On by writing Status ends the session.
	sim.WriteRegister(regStatus, 0x00)
	assert.False(t, sim.GetState().Crypto1On)

	// A wrong key makes the card go quiet; Timer0 ends the command.
	irq0, status = auth([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	assert.Zero(t, irq0&(irq0Idle|irq0Err))
	assert.Equal(t, byte(irq1Timer0), sim.ReadRegister(regIRQ1)&irq1Timer0)
	assert.Zero(t, status&statusCrypto1)
	assert.Zero(t, sim.ReadRegister(regError))
	assert.Equal(t, TagIdle, tag.State())

	// No selected card: only Timer0 fires.
	irq0, _ = auth([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Zero(t, irq0&(irq0Idle|irq0Err))
	assert.Equal(t, byte(irq1Timer0), sim.ReadRegister(regIRQ1)&irq1Timer0)
}

func TestSimulatorSoftResetDropsCards(t *testing.T) {
	t.Parallel()

	tag := NewVirtualNTAG213(nil)
	sim := fieldOnSim(tag)
	_, _, _, _ = exchange(sim, []byte{frame.REQA}, 7, false, false)
	require.Equal(t, TagReady, tag.State())

	sim.WriteRegister(regCommand, cmdSoftReset)
	assert.Equal(t, TagIdle, tag.State())
	assert.False(t, sim.GetState().FieldOn)
	assert.Equal(t, byte(drvModeDefault), sim.ReadRegister(regDrvMode))
}

func TestSimulatorModemOff(t *testing.T) {
	t.Parallel()

	tag := NewVirtualNTAG213(nil)
	sim := fieldOnSim(tag)
	require.True(t, sim.GetState().FieldOn)
	_, _, _, _ = exchange(sim, []byte{frame.REQA}, 7, false, false)

	sim.WriteRegister(regCommand, cmdIdle|cmdModemOff)
	assert.False(t, sim.GetState().FieldOn)
	assert.Equal(t, TagIdle, tag.State())
}

func TestSimulatorStickyRegister(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	sim.SetStickyRegister(regTxCrcPreset, 0x00)
	sim.WriteRegister(regTxCrcPreset, 0x18)
	assert.Equal(t, byte(0x00), sim.ReadRegister(regTxCrcPreset))

	sim.Reset()
	assert.Equal(t, byte(0x00), sim.ReadRegister(regTxCrcPreset))
}

func TestSimulatorLogs(t *testing.T) {
	t.Parallel()

	sim := NewVirtualMFRC630()
	sim.WriteRegister(regCommand, cmdLoadKey)
	sim.WriteFIFO(make([]byte, 6))
	sim.ReadRegister(regIRQ0)

	log := sim.RegisterLog()
	require.Len(t, log, 3)
	assert.Equal(t, RegisterAccess{Reg: regCommand, Value: cmdLoadKey, Write: true}, log[0])
	assert.Equal(t, regFIFOData, int(log[1].Reg))
	assert.Len(t, log[1].Data, 6)

	assert.Equal(t, []byte{cmdLoadKey}, sim.Commands())
	assert.Equal(t, 1, sim.CommandCount(cmdLoadKey))
	assert.Len(t, sim.Writes(), 1)

	sim.ClearLog()
	assert.Empty(t, sim.RegisterLog())
	assert.Empty(t, sim.Commands())
}

func TestSimulatorTransport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sim := NewVirtualMFRC630()
	tr := NewSimulatorTransport(sim)

	require.NoError(t, tr.WriteRegister(ctx, regTxAmpForTest, 0x15))
	v, err := tr.ReadRegister(ctx, regTxAmpForTest)
	require.NoError(t, err)
	assert.Equal(t, byte(0x15), v)

	n, err := tr.WriteFIFO(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := tr.ReadFIFO(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	assert.True(t, tr.HasRegisterWrite(regTxAmpForTest, 0x15))
	assert.False(t, tr.HasRegisterWrite(regFIFOData, 1), "FIFO data is not a register write")
	assert.Equal(t, 4, tr.AccessCount())
	assert.Equal(t, TransportMock, tr.Type())
	assert.Same(t, sim, tr.GetSimulator())

	require.NoError(t, tr.WriteRegister(ctx, regCommand, cmdLoadKey))
	assert.Equal(t, 1, tr.GetCommandCount(cmdLoadKey))
	tr.ClearCommandLog()
	assert.Empty(t, tr.CommandLog)
}

const regTxAmpForTest = 0x29

func TestSimulatorTransportFaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewSimulatorTransport(NewVirtualMFRC630())
	custom := errors.New("bus glitch")

	tr.InjectError(custom)
	_, err := tr.ReadRegister(ctx, regVersion)
	require.ErrorIs(t, err, custom)
	_, err = tr.ReadRegister(ctx, regVersion)
	require.NoError(t, err, "injected errors are one-shot")

	tr.SetStickyError(custom)
	require.ErrorIs(t, tr.WriteRegister(ctx, regDrvMode, 0), custom)
	require.ErrorIs(t, tr.WriteRegister(ctx, regDrvMode, 0), custom)
	tr.SetStickyError(nil)

	tr.FailAfter(1)
	_, err = tr.ReadRegister(ctx, regVersion)
	require.NoError(t, err)
	_, err = tr.ReadRegister(ctx, regVersion)
	require.ErrorIs(t, err, ErrInjected)
	tr.FailAfter(-1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tr.ReadRegister(cancelled, regVersion)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())
	_, err = tr.ReadFIFO(ctx, 1)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}
