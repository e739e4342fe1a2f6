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

	"github.com/ZaparooProject/go-mfrc630/internal/frame"
)

// Request sends REQA and returns the card's ATQA. Only cards in the IDLE
// state answer. An empty field returns 0 with a nil error.
func (d *Device) Request(ctx context.Context) (uint16, error) {
	return d.requestA(ctx, ISO14443CmdREQA, "REQA")
}

// Wakeup sends WUPA, which also wakes halted cards. An empty field returns
// 0 with a nil error.
func (d *Device) Wakeup(ctx context.Context) (uint16, error) {
	return d.requestA(ctx, ISO14443CmdWUPA, "WUPA")
}

func (d *Device) requestA(ctx context.Context, cmd byte, op string) (uint16, error) {
	d.lastATQA = 0

	// A previous MIFARE session would encrypt the short frame.
	if err := d.writeReg(ctx, RegStatus, 0x00); err != nil {
		return 0, err
	}

	resp, err := d.transceive(ctx, []byte{cmd}, frameOptions{op: op, txBits: frame.ShortFrameBits})
	if err != nil {
		if errors.Is(err, ErrNoResponse) {
			return 0, nil
		}
		return 0, err
	}
	if len(resp) != 2 {
		Debugf("%s: ignoring %d-byte answer", op, len(resp))
		return 0, nil
	}

	atqa := uint16(resp[0]) | uint16(resp[1])<<8
	d.lastATQA = atqa
	return atqa, nil
}

// Select runs the anticollision and select loop over up to three cascade
// levels and returns the selected card. It must follow a successful Request
// or Wakeup.
func (d *Device) Select(ctx context.Context) (*Tag, error) {
	uid := make([]byte, 0, 10)

	for level, sel := range frame.SelectCommands {
		fragment, err := d.anticollision(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("cascade level %d: %w", level+1, err)
		}

		sak, err := d.selectFragment(ctx, sel, fragment)
		if err != nil {
			return nil, fmt.Errorf("cascade level %d: %w", level+1, err)
		}

		if sak&SAKCascadeBit == 0 {
			uid = frame.AppendFragment(uid, fragment, true)
			tag := &Tag{ATQA: d.lastATQA, UID: uid, SAK: sak}
			Debugf("selected %s (ATQA %04X SAK %02X)", tag.UIDString(), tag.ATQA, tag.SAK)
			return tag, nil
		}

		if fragment[0] != ISO14443CascadeTag {
			return nil, fmt.Errorf("%w: cascade level %d fragment starts with 0x%02X, want cascade tag",
				ErrProtocol, level+1, fragment[0])
		}
		uid = frame.AppendFragment(uid, fragment, false)
	}

	return nil, ErrCascadeLevel
}

// anticollision asks every card at this cascade level for its UID fragment
// and returns the four UID bytes followed by the BCC.
func (d *Device) anticollision(ctx context.Context, sel byte) ([]byte, error) {
	resp, err := d.transceive(ctx, []byte{sel, ISO14443NVBAnticoll}, frameOptions{op: "anticollision"})
	if err != nil {
		return nil, err
	}
	if len(resp) != 5 {
		return nil, fmt.Errorf("%w: anticollision returned %d bytes, want 5", ErrShortResponse, len(resp))
	}
	if bcc, ok := frame.CheckBCC(resp); !ok {
		return nil, fmt.Errorf("%w: BCC 0x%02X, computed 0x%02X", ErrCRC, resp[4], bcc)
	}
	return resp, nil
}

func (d *Device) selectFragment(ctx context.Context, sel byte, fragment []byte) (byte, error) {
	req := make([]byte, 0, 7)
	req = append(req, sel, ISO14443NVBSelect)
	req = append(req, fragment[:5]...)

	resp, err := d.transceive(ctx, req, frameOptions{op: "select", txCRC: true, rxCRC: true})
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("%w: empty SAK", ErrShortResponse)
	}
	return resp[0], nil
}

// Halt puts the selected card into the HALT state. Only Wakeup brings it
// back. The card does not answer HLTA, so silence is success.
func (d *Device) Halt(ctx context.Context) error {
	d.lastATQA = 0
	resp, err := d.transceive(ctx, []byte{ISO14443CmdHLTA, 0x00}, frameOptions{op: "HLTA", txCRC: true})
	switch {
	case errors.Is(err, ErrNoResponse):
		return d.writeReg(ctx, RegStatus, 0x00)
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: card answered HLTA with % X", ErrNAK, resp)
	}
}

// Discover runs Request and Select. It returns ErrNoTagPresent when no card
// answered the request.
func (d *Device) Discover(ctx context.Context) (*Tag, error) {
	atqa, err := d.Request(ctx)
	if err != nil {
		return nil, err
	}
	if atqa == 0 {
		return nil, ErrNoTagPresent
	}
	return d.Select(ctx)
}

// WakeAndSelect runs Wakeup and Select, reaching halted cards too.
func (d *Device) WakeAndSelect(ctx context.Context) (*Tag, error) {
	atqa, err := d.Wakeup(ctx)
	if err != nil {
		return nil, err
	}
	if atqa == 0 {
		return nil, ErrNoTagPresent
	}
	return d.Select(ctx)
}
