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

// SectorKey is the key that opened a sector.
type SectorKey struct {
	Key  mfrc630.MifareKey
	Type mfrc630.KeyType
}

func (k SectorKey) String() string {
	return fmt.Sprintf("key %s %s", k.Type, k.Key)
}

// FindSectorKey tries every configured key, as key A and then as key B,
// until one opens sector. The sector stays authenticated on success and
// the key is remembered for later calls.
func (t *TagOperations) FindSectorKey(ctx context.Context, sector int) (SectorKey, error) {
	if t.tag == nil {
		return SectorKey{}, ErrNoTag
	}
	if t.tagType != TagTypeMIFARE {
		return SectorKey{}, ErrUnsupportedTag
	}
	if sector < 0 || sector >= t.tag.Sectors() {
		return SectorKey{}, fmt.Errorf("%w: sector %d", mfrc630.ErrInvalidParameter, sector)
	}

	if known, ok := t.sectorKeys[sector]; ok {
		opened, err := t.tryKey(ctx, sector, known)
		if err != nil || opened {
			return known, err
		}
		delete(t.sectorKeys, sector)
	}

	for _, keyType := range []mfrc630.KeyType{mfrc630.KeyA, mfrc630.KeyB} {
		for _, key := range t.keys {
			candidate := SectorKey{Key: key, Type: keyType}
			opened, err := t.tryKey(ctx, sector, candidate)
			if err != nil {
				return SectorKey{}, err
			}
			if opened {
				t.sectorKeys[sector] = candidate
				return candidate, nil
			}
		}
	}
	return SectorKey{}, fmt.Errorf("sector %d: %w", sector, ErrAuthFailed)
}

// tryKey authenticates sector with k. A rejected key leaves the card IDLE,
// so the next attempt re-selects it first.
func (t *TagOperations) tryKey(ctx context.Context, sector int, k SectorKey) (bool, error) {
	if t.needsSelect {
		if err := t.reselect(ctx); err != nil {
			return false, err
		}
	}

	opened, err := t.device.AuthenticateSector(ctx, sector, k.Type, k.Key, t.tag.UID)
	if err != nil {
		t.needsSelect = true
		t.authSector = noSector
		return false, fmt.Errorf("authenticate sector %d: %w", sector, err)
	}
	if !opened {
		t.needsSelect = true
		t.authSector = noSector
		return false, nil
	}
	t.authSector = sector
	return true, nil
}

// authenticate makes sure sector is the authenticated one.
func (t *TagOperations) authenticate(ctx context.Context, sector int) error {
	if t.authSector == sector {
		return nil
	}
	_, err := t.FindSectorKey(ctx, sector)
	return err
}
