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
	"fmt"

	"github.com/ZaparooProject/go-mfrc630"
)

// WriteBlocks writes data starting at block start. Data is split into
// pages or blocks, the last one zero padded. The UID, lock and CC pages of
// NTAG cards, block 0 and sector trailers of MIFARE cards are refused with
// ErrProtectedBlock before anything is written.
func (t *TagOperations) WriteBlocks(ctx context.Context, start int, data []byte) error {
	if t.tag == nil {
		return ErrNoTag
	}
	if len(data) == 0 || start < 0 {
		return fmt.Errorf("%w: write of %d bytes at block %d", mfrc630.ErrInvalidParameter, len(data), start)
	}

	switch t.tagType {
	case TagTypeNTAG:
		return t.writeNTAGPages(ctx, start, data)
	case TagTypeMIFARE:
		return t.writeMIFAREBlocks(ctx, start, data)
	default:
		return ErrUnsupportedTag
	}
}

func (t *TagOperations) writeNTAGPages(ctx context.Context, start int, data []byte) error {
	if start < ntagHeaderPages {
		return fmt.Errorf("%w: page %d", ErrProtectedBlock, start)
	}
	pages := chunk(data, mfrc630.NTAGPageSize)
	if last := start + len(pages) - 1; last >= t.userPageLimit() {
		return fmt.Errorf("%w: page %d", ErrProtectedBlock, last)
	}

	for i, page := range pages {
		if _, err := t.device.WritePage(ctx, uint16(start+i), page); err != nil {
			return fmt.Errorf("failed to write page %d: %w", start+i, err)
		}
	}
	return nil
}

func (t *TagOperations) writeMIFAREBlocks(ctx context.Context, start int, data []byte) error {
	blocks := chunk(data, mfrc630.MifareBlockSize)
	limit := totalBlocks(t.tag)
	for i := range blocks {
		block := start + i
		switch {
		case block >= limit:
			return fmt.Errorf("%w: block %d beyond last block %d", mfrc630.ErrInvalidParameter, block, limit-1)
		case block == 0, mfrc630.IsTrailerBlock(block):
			return fmt.Errorf("%w: block %d", ErrProtectedBlock, block)
		}
	}

	for i, payload := range blocks {
		block := start + i
		if err := t.authenticate(ctx, mfrc630.SectorOf(block)); err != nil {
			return err
		}
		if _, err := t.device.WriteBlock(ctx, byte(block), payload); err != nil {
			t.needsSelect = true
			t.authSector = noSector
			return fmt.Errorf("failed to write block %d: %w", block, err)
		}
	}
	return nil
}

// chunk splits data into size-byte pieces, zero padding the last.
func chunk(data []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		piece := make([]byte, size)
		n := copy(piece, data)
		chunks = append(chunks, piece)
		data = data[n:]
	}
	return chunks
}
