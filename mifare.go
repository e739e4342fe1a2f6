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

// LoadKey copies key into the chip's Crypto1 key buffer for the next
// Authenticate.
func (d *Device) LoadKey(ctx context.Context, key MifareKey) error {
	if err := d.Idle(ctx); err != nil {
		return err
	}
	if err := d.ClearFIFO(ctx); err != nil {
		return err
	}
	if err := d.ClearIRQ(ctx); err != nil {
		return err
	}
	if err := d.WriteCommand(ctx, CmdLoadKey, key[:]...); err != nil {
		return err
	}
	if _, err := d.waitForIRQ(ctx, "LoadKey", IRQ0Idle, 0); err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	return nil
}

// Authenticate runs MIFARE Classic authentication for the sector holding
// block, using the key loaded by LoadKey. Only the first four UID bytes take
// part; shorter UIDs are zero padded.
//
// A rejected key returns false with a nil error. The card drops out of the
// exchange instead of answering, so Timer0 expiry counts as a rejection.
// The chip itself not finishing the command is an ErrTimeout.
func (d *Device) Authenticate(ctx context.Context, keyType KeyType, block byte, uid []byte) (bool, error) {
	if keyType != KeyA && keyType != KeyB {
		return false, fmt.Errorf("%w: key type 0x%02X", ErrInvalidParameter, byte(keyType))
	}

	var uid4 [4]byte
	copy(uid4[:], uid)

	if err := d.prepareExchange(ctx); err != nil {
		return false, err
	}
	if err := d.WriteCommand(ctx, CmdMFAuthent,
		byte(keyType), block, uid4[0], uid4[1], uid4[2], uid4[3]); err != nil {
		return false, err
	}

	res, err := d.waitForIRQ(ctx, "MFAuthent", IRQ0Idle, IRQ1Timer0)
	if err != nil {
		if IsProtocolError(err) {
			Debugf("authentication of block %d with key %v rejected: %v", block, keyType, err)
			return false, nil
		}
		return false, err
	}
	if res.irq0&IRQ0Idle == 0 && res.timerExpired() {
		Debugf("authentication of block %d with key %v: card silent", block, keyType)
		if err := d.Idle(ctx); err != nil {
			return false, err
		}
	}

	status, err := d.ComStatus(ctx)
	if err != nil {
		return false, err
	}
	return status&StatusCrypto1On != 0, nil
}

// ReadBlock reads one 16-byte block of an authenticated sector.
func (d *Device) ReadBlock(ctx context.Context, block byte) ([]byte, error) {
	resp, err := d.transceive(ctx, []byte{MifareCmdRead, block},
		frameOptions{op: "MIFARE read", txCRC: true, rxCRC: true})
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	if len(resp) == 1 {
		return nil, fmt.Errorf("read block %d: %w (0x%X)", block, ErrNAK, resp[0]&0x0F)
	}
	if len(resp) < MifareBlockSize {
		return nil, fmt.Errorf("read block %d: %w: got %d bytes", block, ErrShortResponse, len(resp))
	}
	return resp[:MifareBlockSize], nil
}

// WriteBlock writes one 16-byte block of an authenticated sector. The card
// acknowledges the command and the data separately.
func (d *Device) WriteBlock(ctx context.Context, block byte, data []byte) (int, error) {
	if len(data) != MifareBlockSize {
		return 0, fmt.Errorf("%w: block data must be %d bytes, got %d", ErrInvalidParameter, MifareBlockSize, len(data))
	}

	ack, err := d.transceive(ctx, []byte{MifareCmdWrite, block},
		frameOptions{op: "MIFARE write", txCRC: true})
	if err != nil {
		return 0, fmt.Errorf("write block %d: %w", block, err)
	}
	if err := checkACK(ack); err != nil {
		return 0, fmt.Errorf("write block %d: %w", block, err)
	}

	ack, err = d.transceive(ctx, data, frameOptions{op: "MIFARE write data", txCRC: true})
	if err != nil {
		return 0, fmt.Errorf("write block %d data: %w", block, err)
	}
	if err := checkACK(ack); err != nil {
		return 0, fmt.Errorf("write block %d data: %w", block, err)
	}

	return MifareBlockSize, nil
}

// ReadSector reads every block of an authenticated sector, trailer included.
func (d *Device) ReadSector(ctx context.Context, sector int) ([][]byte, error) {
	count := BlocksInSector(sector)
	if count == 0 {
		return nil, fmt.Errorf("%w: sector %d", ErrInvalidParameter, sector)
	}
	first := FirstBlockOf(sector)
	blocks := make([][]byte, 0, count)
	for i := range count {
		data, err := d.ReadBlock(ctx, byte(first+i))
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, data)
	}
	return blocks, nil
}

// AuthenticateSector loads key and authenticates against the first block of
// sector.
func (d *Device) AuthenticateSector(
	ctx context.Context, sector int, keyType KeyType, key MifareKey, uid []byte,
) (bool, error) {
	if BlocksInSector(sector) == 0 {
		return false, fmt.Errorf("%w: sector %d", ErrInvalidParameter, sector)
	}
	if err := d.LoadKey(ctx, key); err != nil {
		return false, err
	}
	return d.Authenticate(ctx, keyType, byte(FirstBlockOf(sector)), uid)
}

// SectorOf returns the sector holding block. Blocks from 128 up belong to
// the 16-block sectors of 4K cards.
func SectorOf(block int) int {
	if block < mifareLargeSectorBase {
		return block / mifareSmallSectorSize
	}
	return 32 + (block-mifareLargeSectorBase)/mifareLargeSectorSize
}

// FirstBlockOf returns the first block of sector.
func FirstBlockOf(sector int) int {
	if sector < 32 {
		return sector * mifareSmallSectorSize
	}
	return mifareLargeSectorBase + (sector-32)*mifareLargeSectorSize
}

// BlocksInSector returns 4 for sectors 0..31, 16 for sectors 32..39 and 0
// for anything else.
func BlocksInSector(sector int) int {
	switch {
	case sector < 0 || sector >= mifare4KSectors:
		return 0
	case sector < 32:
		return mifareSmallSectorSize
	default:
		return mifareLargeSectorSize
	}
}

// TrailerBlockOf returns the sector trailer block of sector.
func TrailerBlockOf(sector int) int {
	return FirstBlockOf(sector) + BlocksInSector(sector) - 1
}

// IsTrailerBlock reports whether block is a sector trailer.
func IsTrailerBlock(block int) bool {
	return block == TrailerBlockOf(SectorOf(block))
}

// checkACK accepts the 4-bit MIFARE ACK.
func checkACK(resp []byte) error {
	switch {
	case len(resp) == 0:
		return fmt.Errorf("%w: empty acknowledge", ErrShortResponse)
	case len(resp) == 1 && resp[0]&0x0F == MifareACK:
		return nil
	case len(resp) == 1:
		return fmt.Errorf("%w (0x%X)", ErrNAK, resp[0]&0x0F)
	default:
		return errors.Join(ErrNAK, fmt.Errorf("unexpected %d-byte acknowledge", len(resp)))
	}
}
