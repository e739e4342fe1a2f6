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

// Package testing provides test utilities including a register-level
// MFRC630 simulator.
//
// VirtualMFRC630 models the parts of the chip the driver touches: the
// register file, the 255-byte FIFO, the IRQ0/IRQ1 registers, Timer0 as the
// frame waiting time, the MIFARE key buffer and the Crypto1 status bit.
// VirtualTag models the ISO14443-A cards in its field.
//
// Commands execute lazily. A command written to the Command register runs
// the next time IRQ0, IRQ1, Status or Error is read, or when another
// command is written. This lets callers write the command first and its
// parameters after, as the chip allows.
//
// Reference: MFRC630 datasheet, section 7.10 "Command set".
package testing

import (
	"github.com/ZaparooProject/go-mfrc630/internal/frame"
	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

// MFRC630 registers and bits mirrored from the driver package.
const (
	regCommand     = 0x00
	regFIFOControl = 0x02
	regFIFOLength  = 0x04
	regFIFOData    = 0x05
	regIRQ0        = 0x06
	regIRQ1        = 0x07
	regError       = 0x0A
	regStatus      = 0x0B
	regT0Control   = 0x0F
	regDrvMode     = 0x28
	regTxCrcPreset = 0x2C
	regRxCrcPreset = 0x2D
	regTxDataNum   = 0x2E
	regVersion     = 0x7F

	cmdIdle       = 0x00
	cmdLoadKey    = 0x02
	cmdMFAuthent  = 0x03
	cmdTransceive = 0x07
	cmdSoftReset  = 0x1F
	cmdMask       = 0x1F
	cmdModemOff   = 0x40

	irqSet     = 0x80
	irq0Idle   = 0x10
	irq0Tx     = 0x08
	irq0Rx     = 0x04
	irq0Err    = 0x02
	irq1Timer0 = 0x01

	errCollDet = 0x04
	errProt    = 0x02
	errInteg   = 0x01
	errNoData  = 0x08
	errFIFOOvl = 0x20

	fifoFlushBit   = 0x10
	drvModeTxEn    = 0x08
	statusCrypto1  = 0x20
	fifoCapacity   = 255
	drvModeDefault = 0x86

	// DefaultVersion is the Version register of an MFRC630 v1.
	DefaultVersion = 0x18
)

// SimulatorState is a snapshot of the simulated chip.
type SimulatorState struct {
	KeyBuffer      [6]byte
	FIFOLength     int
	ActiveCommand  byte // 0 when idle
	FieldOn        bool
	Crypto1On      bool
	CommandStalled bool
}

// RegisterAccess is one host access recorded by the simulator. FIFO
// accesses carry the bytes moved in Data.
type RegisterAccess struct {
	Data  []byte
	Reg   byte
	Value byte
	Write bool
}

// VirtualMFRC630 simulates an MFRC630 at the register level.
type VirtualMFRC630 struct {
	sticky          map[byte]byte
	fifo            []byte
	tags            []*VirtualTag
	log             []RegisterAccess
	commands        []byte
	mu              syncutil.Mutex
	regs            [0x80]byte
	keyBuffer       [6]byte
	version         byte
	pending         byte
	hasPending      bool
	stalled         bool
	crypto1         bool
	stallNext       bool
	injectCRCError  bool
	injectCollision bool
}

// NewVirtualMFRC630 creates a simulator in its power-on state with the RF
// field off and no tags.
func NewVirtualMFRC630() *VirtualMFRC630 {
	v := &VirtualMFRC630{
		sticky:  make(map[byte]byte),
		version: DefaultVersion,
	}
	v.powerOn()
	return v
}

func (v *VirtualMFRC630) powerOn() {
	v.regs = [0x80]byte{}
	v.regs[regDrvMode] = drvModeDefault
	v.regs[regFIFOControl] = 0x80
	v.regs[regVersion] = v.version
	v.fifo = v.fifo[:0]
	v.keyBuffer = [6]byte{}
	v.hasPending = false
	v.stalled = false
	v.crypto1 = false
	for reg, value := range v.sticky {
		v.regs[reg] = value
	}
	v.dropField()
}

// dropField resets every card, as they lose power without the field.
func (v *VirtualMFRC630) dropField() {
	for _, tag := range v.tags {
		if tag.Present {
			tag.reset()
		}
	}
}

// ReadRegister returns the value of a register. Reading IRQ0, IRQ1, Status
// or Error completes a pending command first.
func (v *VirtualMFRC630) ReadRegister(reg byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.readRegister(reg)
	v.log = append(v.log, RegisterAccess{Reg: reg, Value: value})
	return value
}

func (v *VirtualMFRC630) readRegister(reg byte) byte {
	reg &= 0x7F
	switch reg {
	case regIRQ0, regIRQ1, regError:
		v.runPending()
		return v.regs[reg]
	case regStatus:
		v.runPending()
		status := v.regs[regStatus] &^ statusCrypto1
		if v.crypto1 {
			status |= statusCrypto1
		}
		return status
	case regFIFOLength:
		return byte(len(v.fifo))
	case regFIFOData:
		if len(v.fifo) == 0 {
			return 0
		}
		b := v.fifo[0]
		v.fifo = v.fifo[1:]
		return b
	default:
		return v.regs[reg]
	}
}

// WriteRegister writes a register with the side effects of the real chip.
func (v *VirtualMFRC630) WriteRegister(reg, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.log = append(v.log, RegisterAccess{Reg: reg, Value: value, Write: true})
	v.writeRegister(reg&0x7F, value)
}

func (v *VirtualMFRC630) writeRegister(reg, value byte) {
	if sticky, ok := v.sticky[reg]; ok {
		v.regs[reg] = sticky
		return
	}

	switch reg {
	case regCommand:
		v.writeCommand(value)
	case regFIFOControl:
		if value&fifoFlushBit != 0 {
			v.fifo = v.fifo[:0]
			v.regs[regError] &^= errFIFOOvl
		}
		v.regs[reg] = value &^ fifoFlushBit
	case regFIFOData:
		v.pushFIFO([]byte{value})
	case regIRQ0, regIRQ1:
		if value&irqSet != 0 {
			v.regs[reg] |= value &^ irqSet
		} else {
			v.regs[reg] &^= value
		}
	case regStatus:
		if value&statusCrypto1 == 0 {
			v.crypto1 = false
		}
		v.regs[reg] = value &^ statusCrypto1
	case regFIFOLength, regVersion:
		// Read-only.
	case regDrvMode:
		wasOn := v.fieldOn()
		v.regs[reg] = value
		if wasOn && !v.fieldOn() {
			v.dropField()
		}
	default:
		v.regs[reg] = value
	}
}

func (v *VirtualMFRC630) writeCommand(value byte) {
	cmd := value & cmdMask
	wasOn := v.fieldOn()

	if cmd == cmdSoftReset {
		v.commands = append(v.commands, cmd)
		v.powerOn()
		return
	}

	if cmd == cmdIdle {
		v.hasPending = false
		v.stalled = false
		v.regs[regCommand] = value
		if wasOn && !v.fieldOn() {
			v.dropField()
		}
		return
	}

	v.runPending()
	v.commands = append(v.commands, cmd)
	v.regs[regCommand] = value
	v.pending = cmd
	v.hasPending = true
	v.stalled = false
}

// runPending executes the command waiting in the Command register.
func (v *VirtualMFRC630) runPending() {
	if !v.hasPending {
		return
	}
	v.hasPending = false
	v.regs[regError] = 0

	if v.stallNext {
		v.stallNext = false
		v.stalled = true
		return
	}

	switch v.pending {
	case cmdLoadKey:
		v.execLoadKey()
	case cmdMFAuthent:
		v.execMFAuthent()
	case cmdTransceive:
		v.execTransceive()
	default:
		v.finish(irq0Idle)
	}
}

func (v *VirtualMFRC630) finish(irq0 byte) {
	v.regs[regIRQ0] |= irq0
	v.regs[regCommand] &^= cmdMask
}

func (v *VirtualMFRC630) fail(errBits byte) {
	v.regs[regError] |= errBits
	v.finish(irq0Err | irq0Idle)
}

// noAnswer leaves the receiver waiting. Only Timer0 ends the command, and
// only when the host armed it.
func (v *VirtualMFRC630) noAnswer() {
	if v.regs[regT0Control] != 0 {
		v.regs[regIRQ1] |= irq1Timer0
	} else {
		v.stalled = true
	}
}

func (v *VirtualMFRC630) popFIFO(n int) []byte {
	if n > len(v.fifo) {
		n = len(v.fifo)
	}
	out := append([]byte(nil), v.fifo[:n]...)
	v.fifo = v.fifo[n:]
	return out
}

func (v *VirtualMFRC630) pushFIFO(data []byte) int {
	free := fifoCapacity - len(v.fifo)
	n := len(data)
	if n > free {
		n = free
		v.regs[regError] |= errFIFOOvl
	}
	v.fifo = append(v.fifo, data[:n]...)
	return n
}

func (v *VirtualMFRC630) execLoadKey() {
	if len(v.fifo) < len(v.keyBuffer) {
		v.fifo = v.fifo[:0]
		v.fail(errNoData)
		return
	}
	copy(v.keyBuffer[:], v.popFIFO(len(v.keyBuffer)))
	v.finish(irq0Idle)
}

func (v *VirtualMFRC630) execMFAuthent() {
	params := v.popFIFO(6)
	if len(params) < 6 {
		v.fail(errNoData)
		return
	}
	keyType, block, uid4 := params[0], int(params[1]), params[2:6]

	var tag *VirtualTag
	if v.fieldOn() {
		for _, t := range v.tags {
			if t.Present && t.state == TagActive && t.isMIFARE() {
				tag = t
				break
			}
		}
	}
	if tag == nil {
		v.noAnswer()
		return
	}

	if err := tag.authenticateBlock(block, keyType, v.keyBuffer[:], uid4); err != nil {
		// The card stops answering mid-handshake; only Timer0 ends it.
		v.crypto1 = false
		v.noAnswer()
		return
	}
	v.crypto1 = true
	v.finish(irq0Idle)
}

func (v *VirtualMFRC630) execTransceive() {
	data := v.popFIFO(len(v.fifo))
	txBits := int(v.regs[regTxDataNum] & 0x07)
	txCRC := v.regs[regTxCrcPreset]&0x01 != 0
	rxCRC := v.regs[regRxCrcPreset]&0x01 != 0

	v.regs[regIRQ0] |= irq0Tx
	if !v.fieldOn() || len(data) == 0 {
		v.noAnswer()
		return
	}

	short := txBits == frame.ShortFrameBits && len(data) == 1
	if short {
		v.crypto1 = false
	}

	var replies []*cardReply
	for _, tag := range v.tags {
		if !tag.Present {
			continue
		}
		var reply *cardReply
		if short {
			reply = tag.respondShort(data[0])
		} else {
			reply = tag.respond(data, txCRC)
		}
		if reply != nil {
			replies = append(replies, reply)
		}
	}

	if len(replies) == 0 {
		v.noAnswer()
		return
	}
	if v.injectCollision || !sameReplies(replies) {
		v.injectCollision = false
		v.fail(errCollDet)
		return
	}
	if v.injectCRCError {
		v.injectCRCError = false
		v.fail(errInteg)
		return
	}

	reply := replies[0]
	out := append([]byte(nil), reply.data...)
	switch {
	case reply.bits != 0:
		// 4-bit ACK/NAK: delivered as one byte, CRC checking does not apply.
	case reply.crc && !rxCRC:
		out = frame.AppendCRCA(out)
	case !reply.crc && rxCRC:
		v.pushFIFO(out)
		v.regs[regError] |= errInteg
		v.finish(irq0Rx | irq0Err | irq0Idle)
		return
	}
	v.pushFIFO(out)
	v.finish(irq0Rx | irq0Idle)
}

func sameReplies(replies []*cardReply) bool {
	first := replies[0]
	for _, r := range replies[1:] {
		if r.bits != first.bits || r.crc != first.crc || string(r.data) != string(first.data) {
			return false
		}
	}
	return true
}

func (v *VirtualMFRC630) fieldOn() bool {
	return v.regs[regDrvMode]&drvModeTxEn != 0 && v.regs[regCommand]&cmdModemOff == 0
}

// ReadFIFO drains up to n bytes from the FIFO.
func (v *VirtualMFRC630) ReadFIFO(n int) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.popFIFO(n)
	v.log = append(v.log, RegisterAccess{Reg: regFIFOData, Data: append([]byte(nil), out...)})
	return out
}

// WriteFIFO appends data to the FIFO and returns how many bytes fit. Bytes
// past the capacity are dropped and flag a FIFO overflow.
func (v *VirtualMFRC630) WriteFIFO(data []byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.log = append(v.log, RegisterAccess{Reg: regFIFOData, Data: append([]byte(nil), data...), Write: true})
	return v.pushFIFO(data)
}

// AddTag places a virtual tag in the field.
func (v *VirtualMFRC630) AddTag(tag *VirtualTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = append(v.tags, tag)
}

// SetTag is a convenience method that removes all existing tags and adds a single tag.
func (v *VirtualMFRC630) SetTag(tag *VirtualTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = []*VirtualTag{tag}
}

// RemoveAllTags removes all virtual tags.
func (v *VirtualMFRC630) RemoveAllTags() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = nil
}

// SetTagPresent moves a tag in or out of the field. Safe to call while
// another goroutine drives the simulator.
func (v *VirtualMFRC630) SetTagPresent(tag *VirtualTag, present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if present {
		tag.Insert()
	} else {
		tag.Remove()
	}
}

// SetVersion sets the value of the Version register.
func (v *VirtualMFRC630) SetVersion(version byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version = version
	v.regs[regVersion] = version
}

// SetStickyRegister pins a register to a value. Host writes are ignored, so
// read-back checks see the pinned value.
func (v *VirtualMFRC630) SetStickyRegister(reg, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sticky[reg] = value
	v.regs[reg] = value
}

// StallNextCommand makes the next command never complete: no IRQ fires and
// Timer0 never expires.
func (v *VirtualMFRC630) StallNextCommand() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stallNext = true
}

// InjectCRCError makes the next answered Transceive end with an integrity error.
func (v *VirtualMFRC630) InjectCRCError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectCRCError = true
}

// InjectCollision makes the next answered Transceive end with a bit collision.
func (v *VirtualMFRC630) InjectCollision() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectCollision = true
}

// GetState returns the current simulator state.
func (v *VirtualMFRC630) GetState() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()

	state := SimulatorState{
		KeyBuffer:      v.keyBuffer,
		FIFOLength:     len(v.fifo),
		FieldOn:        v.fieldOn(),
		Crypto1On:      v.crypto1,
		CommandStalled: v.stalled,
	}
	if v.hasPending || v.stalled {
		state.ActiveCommand = v.regs[regCommand] & cmdMask
	}
	return state
}

// Register returns a register value without side effects.
func (v *VirtualMFRC630) Register(reg byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[reg&0x7F]
}

// RegisterLog returns a copy of every host access since the last ClearLog.
func (v *VirtualMFRC630) RegisterLog() []RegisterAccess {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RegisterAccess(nil), v.log...)
}

// Writes returns the register writes (not FIFO data) in order.
func (v *VirtualMFRC630) Writes() []RegisterAccess {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []RegisterAccess
	for _, a := range v.log {
		if a.Write && a.Data == nil {
			out = append(out, a)
		}
	}
	return out
}

// Commands returns the commands started since the last ClearLog, Idle
// excluded.
func (v *VirtualMFRC630) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// CommandCount returns how many times a command was started.
func (v *VirtualMFRC630) CommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	count := 0
	for _, c := range v.commands {
		if c == cmd {
			count++
		}
	}
	return count
}

// ClearLog forgets recorded accesses and commands.
func (v *VirtualMFRC630) ClearLog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.log = nil
	v.commands = nil
}

// Reset returns the chip to its power-on state. Tags stay in the field.
func (v *VirtualMFRC630) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stallNext = false
	v.injectCRCError = false
	v.injectCollision = false
	v.log = nil
	v.commands = nil
	v.powerOn()
}
