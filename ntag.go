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

// NTAG21x memory sizes, in pages.
const (
	NTAG213Pages = 45
	NTAG215Pages = 135
	NTAG216Pages = 231
)

// NTAGCmdGetVersion asks an NTAG21x for its product version.
const NTAGCmdGetVersion = 0x60

// ReadPage returns the 4 bytes of page. The card answers READ with four
// consecutive pages; only the first is returned.
func (d *Device) ReadPage(ctx context.Context, page uint16) ([]byte, error) {
	data, err := d.readFourPages(ctx, page)
	if err != nil {
		return nil, err
	}
	return data[:NTAGPageSize], nil
}

// ReadPages returns count consecutive pages starting at start.
func (d *Device) ReadPages(ctx context.Context, start uint16, count int) ([]byte, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: page count %d", ErrInvalidParameter, count)
	}
	if int(start)+count-1 > 0xFF {
		return nil, fmt.Errorf("%w: pages %d..%d exceed 8-bit addressing", ErrInvalidParameter, start, int(start)+count-1)
	}

	out := make([]byte, 0, count*NTAGPageSize)
	for page := int(start); page < int(start)+count; page += ntagReadPages {
		data, err := d.readFourPages(ctx, uint16(page))
		if err != nil {
			return out, err
		}
		remaining := (int(start) + count - page) * NTAGPageSize
		out = append(out, data[:min(len(data), remaining)]...)
	}
	return out, nil
}

func (d *Device) readFourPages(ctx context.Context, page uint16) ([]byte, error) {
	if page > 0xFF {
		return nil, fmt.Errorf("%w: page %d exceeds 8-bit addressing", ErrInvalidParameter, page)
	}
	resp, err := d.transceive(ctx, []byte{NTAGCmdRead, byte(page)},
		frameOptions{op: "NTAG read", txCRC: true, rxCRC: true})
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	if len(resp) == 1 {
		return nil, fmt.Errorf("read page %d: %w (0x%X)", page, ErrNAK, resp[0]&0x0F)
	}
	if len(resp) < ntagReadPages*NTAGPageSize {
		return nil, fmt.Errorf("read page %d: %w: got %d bytes", page, ErrShortResponse, len(resp))
	}
	return resp[:ntagReadPages*NTAGPageSize], nil
}

// WritePage writes 4 bytes to page.
func (d *Device) WritePage(ctx context.Context, page uint16, data []byte) (int, error) {
	if page > 0xFF {
		return 0, fmt.Errorf("%w: page %d exceeds 8-bit addressing", ErrInvalidParameter, page)
	}
	if len(data) != NTAGPageSize {
		return 0, fmt.Errorf("%w: page data must be %d bytes, got %d", ErrInvalidParameter, NTAGPageSize, len(data))
	}

	frame := make([]byte, 0, 2+NTAGPageSize)
	frame = append(frame, NTAGCmdWrite, byte(page))
	frame = append(frame, data...)

	ack, err := d.transceive(ctx, frame, frameOptions{op: "NTAG write", txCRC: true})
	if err != nil {
		return 0, fmt.Errorf("write page %d: %w", page, err)
	}
	if err := checkACK(ack); err != nil {
		return 0, fmt.Errorf("write page %d: %w", page, err)
	}
	return NTAGPageSize, nil
}

// NTAGVersion is the decoded GET_VERSION answer.
type NTAGVersion struct {
	Raw         []byte
	VendorID    byte
	ProductType byte
	StorageSize byte
}

// Model names the NTAG21x variant, or "" if the storage size is unknown.
func (v NTAGVersion) Model() string {
	switch v.StorageSize {
	case 0x0F:
		return "NTAG213"
	case 0x11:
		return "NTAG215"
	case 0x13:
		return "NTAG216"
	default:
		return ""
	}
}

// Pages returns the total page count of the variant, or 0 if unknown.
func (v NTAGVersion) Pages() int {
	switch v.StorageSize {
	case 0x0F:
		return NTAG213Pages
	case 0x11:
		return NTAG215Pages
	case 0x13:
		return NTAG216Pages
	default:
		return 0
	}
}

// GetVersion identifies an NTAG21x. Ultralight cards without GET_VERSION
// stay silent, which surfaces as ErrNoResponse.
func (d *Device) GetVersion(ctx context.Context) (NTAGVersion, error) {
	resp, err := d.transceive(ctx, []byte{NTAGCmdGetVersion},
		frameOptions{op: "NTAG get version", txCRC: true, rxCRC: true})
	if err != nil {
		return NTAGVersion{}, fmt.Errorf("get version: %w", err)
	}
	if len(resp) < 8 {
		return NTAGVersion{}, fmt.Errorf("get version: %w: got %d bytes", ErrShortResponse, len(resp))
	}
	return NTAGVersion{
		Raw:         resp[:8],
		VendorID:    resp[1],
		ProductType: resp[2],
		StorageSize: resp[6],
	}, nil
}
