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

// Register addresses from the MFRC630/CLRC663 datasheet, section 8.
const (
	RegCommand        = 0x00 // Starts and stops command execution
	RegHostCtrl       = 0x01 // Host control register
	RegFIFOControl    = 0x02 // Control register of the FIFO
	RegWaterLevel     = 0x03 // Level of the FIFO underflow and overflow warning
	RegFIFOLength     = 0x04 // Length of the FIFO
	RegFIFOData       = 0x05 // Data In/Out exchange register of FIFO buffer
	RegIRQ0           = 0x06 // Interrupt register 0
	RegIRQ1           = 0x07 // Interrupt register 1
	RegIRQ0En         = 0x08 // Interrupt enable register 0
	RegIRQ1En         = 0x09 // Interrupt enable register 1
	RegError          = 0x0A // Error bits of the last command execution
	RegStatus         = 0x0B // Contains status of the communication
	RegRxBitCtrl      = 0x0C // Anticollision adjustments for bit oriented protocols
	RegRxColl         = 0x0D // Collision position register
	RegTControl       = 0x0E // Control of Timer 0..3
	RegT0Control      = 0x0F // Control of Timer0
	RegT0ReloadHi     = 0x10 // High register of the reload value of Timer0
	RegT0ReloadLo     = 0x11 // Low register of the reload value of Timer0
	RegT0CounterValHi = 0x12 // Counter value high register of Timer0
	RegT0CounterValLo = 0x13 // Counter value low register of Timer0
	RegDrvMode        = 0x28 // Driver mode register
	RegTxAmp          = 0x29 // Transmitter amplifier register
	RegDrvCon         = 0x2A // Driver configuration register
	RegTxl            = 0x2B // Transmitter register
	RegTxCrcPreset    = 0x2C // Transmitter CRC control register, preset value
	RegRxCrcPreset    = 0x2D // Receiver CRC control register, preset value
	RegTxDataNum      = 0x2E // Transmitter data number register
	RegTxModWidth     = 0x2F // Transmitter modulation width register
	RegTxSym10BurstLn = 0x30 // Transmitter symbol 1 + symbol 0 burst length
	RegTxWaitCtrl     = 0x31 // Transmitter wait control
	RegTxWaitLo       = 0x32 // Transmitter wait low
	RegFrameCon       = 0x33 // Transmitter frame control
	RegRxSofD         = 0x34 // Receiver start of frame detection
	RegRxCtrl         = 0x35 // Receiver control register
	RegRxWait         = 0x36 // Receiver wait register
	RegRxThreshold    = 0x37 // Receiver threshold register
	RegRcv            = 0x38 // Receiver register
	RegRxAna          = 0x39 // Receiver analog register
	RegTxBitMod       = 0x48 // Transmitter bit mode register
	RegRxBitMod       = 0x58 // Receiver bit mode register
	RegFabCal         = 0x5F // Fab calibration of the chip
	RegVersion        = 0x7F // Version and subversion of the chip
)

// Commands written to RegCommand.
const (
	CmdIdle         = 0x00 // No action, cancels current command execution
	CmdLPCD         = 0x01 // Low Power Card Detection
	CmdLoadKey      = 0x02 // Reads a MIFARE key (6 bytes) from FIFO into the key buffer
	CmdMFAuthent    = 0x03 // Performs MIFARE Classic authentication
	CmdReceive      = 0x05 // Activates the receive circuit
	CmdTransmit     = 0x06 // Transmits data from the FIFO buffer
	CmdTransceive   = 0x07 // Transmits FIFO data and automatically activates the receiver
	CmdWriteE2      = 0x08 // Gets one byte from FIFO and writes it to the EEPROM
	CmdWriteE2Page  = 0x09 // Gets up to 64 bytes from FIFO and writes them to the EEPROM
	CmdReadE2       = 0x0A // Reads data from EEPROM and copies it into the FIFO
	CmdLoadReg      = 0x0C // Reads data from EEPROM and initializes registers
	CmdLoadProtocol = 0x0D // Reads data from EEPROM and initializes protocol registers
	CmdLoadKeyE2    = 0x0E // Copies a key from EEPROM into the key buffer
	CmdStoreKeyE2   = 0x0F // Stores a MIFARE key into the EEPROM
	CmdReadRNR      = 0x1C // Copies bytes from the random number generator into the FIFO
	CmdSoftReset    = 0x1F // Resets the chip

	// CmdModemOff turns the RF field off when combined with CmdIdle.
	CmdModemOff = 1 << 6
)

// IRQ0 register bits.
const (
	IRQ0Set       = 1 << 7 // Writing 1 sets, writing 0 clears the addressed bits
	IRQ0HiAlert   = 1 << 6
	IRQ0LoAlert   = 1 << 5
	IRQ0Idle      = 1 << 4 // Command terminated
	IRQ0Tx        = 1 << 3 // Transmission finished
	IRQ0Rx        = 1 << 2 // Reception finished
	IRQ0Err       = 1 << 1 // Error flag in RegError is set
	IRQ0RxSOF     = 1 << 0
	IRQ0ClearAll  = 0x7F
	IRQ1Set       = 1 << 7
	IRQ1Global    = 1 << 6 // Any enabled IRQ is pending
	IRQ1LPCD      = 1 << 5
	IRQ1Timer4    = 1 << 4
	IRQ1Timer3    = 1 << 3
	IRQ1Timer2    = 1 << 2
	IRQ1Timer1    = 1 << 1
	IRQ1Timer0    = 1 << 0 // Timer0 underflow, used as the frame waiting time
	IRQ1ClearAll  = 0x7F
	fifoFlush     = 1 << 4 // RegFIFOControl FlushFIFO bit
	txDataNumEn   = 1 << 3 // RegTxDataNum DataEn bit
	statusComMask = 0x07
)

// RegError bits.
const (
	ErrorEE       = 1 << 7 // EEPROM error
	ErrorFIFOWr   = 1 << 6 // FIFO written while the command was writing
	ErrorFIFOOvl  = 1 << 5 // FIFO overflow
	ErrorMinFrame = 1 << 4 // Frame shorter than the minimum length
	ErrorNoData   = 1 << 3 // FIFO empty when data was expected
	ErrorCollDet  = 1 << 2 // Bit collision detected
	ErrorProt     = 1 << 1 // Protocol error
	ErrorInteg    = 1 << 0 // Parity or CRC error
)

// StatusCrypto1On is set in RegStatus once MIFARE Classic authentication
// succeeded and all further card communication is encrypted.
const StatusCrypto1On = 1 << 5

// CRC preset values for RegTxCrcPreset and RegRxCrcPreset. Bit 0 enables the
// CRC, bits 3..4 select the ISO14443A 0x6363 preset.
const (
	crcOff = 0x18
	crcOn  = 0x19
)

// Timer0 configuration used as the ISO14443A frame waiting time.
const (
	t0ControlStartOnTx = 0x11 // Start at end of transmission, 211.875 kHz clock
	defaultFrameTicks  = 2100
)

// FIFOCapacity is the number of bytes the FIFO holds in 255-byte mode.
const FIFOCapacity = 255

// Chip versions reported by RegVersion.
const (
	VersionMFRC630v1 = 0x18
	VersionMFRC630v2 = 0x1A
)

// ISO14443-A and card-level command bytes.
const (
	ISO14443CmdREQA     = 0x26
	ISO14443CmdWUPA     = 0x52
	ISO14443CmdHLTA     = 0x50
	ISO14443CmdSelCL1   = 0x93
	ISO14443CmdSelCL2   = 0x95
	ISO14443CmdSelCL3   = 0x97
	ISO14443NVBAnticoll = 0x20
	ISO14443NVBSelect   = 0x70
	ISO14443CascadeTag  = 0x88

	MifareCmdAuthA = 0x60
	MifareCmdAuthB = 0x61
	MifareCmdRead  = 0x30
	MifareCmdWrite = 0xA0
	MifareACK      = 0x0A

	NTAGCmdRead  = 0x30
	NTAGCmdWrite = 0xA2
)

// SAKCascadeBit set in a SAK means the UID is not complete yet.
const SAKCascadeBit = 0x04
