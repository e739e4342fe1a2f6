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

package tagops

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mfrc630"
)

// ReadBlocks reads blocks start..end inclusive. NTAG blocks are 4-byte
// pages. MIFARE blocks are 16 bytes and their sectors are authenticated as
// needed.
func (t *TagOperations) ReadBlocks(ctx context.Context, start, end int) ([]byte, error) {
	if t.tag == nil {
		return nil, ErrNoTag
	}
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: blocks %d..%d", mfrc630.ErrInvalidParameter, start, end)
	}

	switch t.tagType {
	case TagTypeNTAG:
		return t.readNTAGPages(ctx, start, end)
	case TagTypeMIFARE:
		return t.readMIFAREBlocks(ctx, start, end)
	default:
		return nil, ErrUnsupportedTag
	}
}

// ReadAll reads all available data from the tag
func (t *TagOperations) ReadAll(ctx context.Context) ([]byte, error) {
	if t.tag == nil {
		return nil, ErrNoTag
	}

	switch t.tagType {
	case TagTypeNTAG:
		return t.readNTAGPages(ctx, 0, t.totalPages-1)
	case TagTypeMIFARE:
		return t.readMIFAREBlocks(ctx, 0, totalBlocks(t.tag)-1)
	default:
		return nil, ErrUnsupportedTag
	}
}

func (t *TagOperations) readNTAGPages(ctx context.Context, start, end int) ([]byte, error) {
	if end >= t.totalPages {
		return nil, fmt.Errorf("%w: page %d beyond last page %d", mfrc630.ErrInvalidParameter, end, t.totalPages-1)
	}
	data, err := t.device.ReadPages(ctx, uint16(start), end-start+1)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages %d..%d: %w", start, end, err)
	}
	return data, nil
}

func (t *TagOperations) readMIFAREBlocks(ctx context.Context, start, end int) ([]byte, error) {
	if end >= totalBlocks(t.tag) {
		return nil, fmt.Errorf("%w: block %d beyond last block %d", mfrc630.ErrInvalidParameter, end, totalBlocks(t.tag)-1)
	}

	out := make([]byte, 0, (end-start+1)*mfrc630.MifareBlockSize)
	for block := start; block <= end; block++ {
		if err := t.authenticate(ctx, mfrc630.SectorOf(block)); err != nil {
			return out, err
		}
		data, err := t.device.ReadBlock(ctx, byte(block))
		if err != nil {
			t.needsSelect = true
			t.authSector = noSector
			return out, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// SectorDump is the content of one MIFARE Classic sector. Err is set when
// no configured key opened the sector or the card refused a read.
type SectorDump struct {
	Err    error
	Blocks [][]byte
	Key    SectorKey
	Sector int
}

// DumpSectors reads every sector of a MIFARE Classic card. Sectors that
// cannot be opened are reported in their SectorDump; only bus failures,
// cancellation and a card swap abort the dump.
func (t *TagOperations) DumpSectors(ctx context.Context) ([]SectorDump, error) {
	if t.tag == nil {
		return nil, ErrNoTag
	}
	if t.tagType != TagTypeMIFARE {
		return nil, ErrUnsupportedTag
	}

	dumps := make([]SectorDump, 0, t.tag.Sectors())
	for sector := range t.tag.Sectors() {
		dump := SectorDump{Sector: sector}
		key, err := t.FindSectorKey(ctx, sector)
		if err == nil {
			dump.Key = key
			dump.Blocks, err = t.device.ReadSector(ctx, sector)
		}
		if err != nil {
			if !errors.Is(err, ErrAuthFailed) && !mfrc630.IsProtocolError(err) {
				return dumps, err
			}
			t.needsSelect = true
			t.authSector = noSector
			dump.Err = err
		}
		dumps = append(dumps, dump)
	}
	return dumps, nil
}
