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
	"bytes"

	"github.com/ZaparooProject/go-mfrc630"
)

const (
	unknownTagName    = "Unknown"
	ntagTypeName      = "NTAG"
	mifareClassicName = "MIFARE Classic"
)

// TagInfo contains detailed information about a detected tag
type TagInfo struct {
	TypeName     string
	Model        string
	Family       mfrc630.CardFamily
	Manufacturer mfrc630.Manufacturer
	UID          []byte
	Type         TagType
	TotalPages   int
	UserMemory   int
	Sectors      int
	TotalMemory  int
}

// GetTagInfo returns detailed information about the currently detected tag
func (t *TagOperations) GetTagInfo() (*TagInfo, error) {
	if t.tag == nil {
		return nil, ErrNoTag
	}

	info := &TagInfo{
		TypeName:     t.tagType.String(),
		Family:       t.tag.Family(),
		Manufacturer: t.tag.Manufacturer(),
		UID:          t.tag.UID,
		Type:         t.tagType,
	}

	switch t.tagType {
	case TagTypeNTAG:
		info.TotalPages = t.totalPages
		info.TotalMemory = t.totalPages * mfrc630.NTAGPageSize
		info.Model = t.ntagVersion.Model()
		if info.Model == "" {
			info.Model = string(mfrc630.FamilyNTAG)
		}
		// User memory excludes the UID/lock/CC header and, on NTAG21x, the
		// trailing configuration pages.
		info.UserMemory = (t.userPageLimit() - ntagHeaderPages) * mfrc630.NTAGPageSize

	case TagTypeMIFARE:
		info.Model = string(t.tag.Family())
		info.Sectors = t.tag.Sectors()
		info.TotalMemory = totalBlocks(t.tag) * mfrc630.MifareBlockSize
		// Sector 0 holds the manufacturer block; every sector ends in its trailer.
		for sector := 1; sector < info.Sectors; sector++ {
			info.UserMemory += (mfrc630.BlocksInSector(sector) - 1) * mfrc630.MifareBlockSize
		}

	case TagTypeUnknown:
		info.Model = string(t.tag.Family())
	}

	return info, nil
}

func (tt TagType) String() string {
	switch tt {
	case TagTypeNTAG:
		return ntagTypeName
	case TagTypeMIFARE:
		return mifareClassicName
	default:
		return unknownTagName
	}
}

// TypeOf maps a card to the command set tagops uses for it.
func TypeOf(tag *mfrc630.Tag) TagType {
	switch {
	case tag == nil:
		return TagTypeUnknown
	case tag.IsNTAG():
		return TagTypeNTAG
	case tag.IsMifareClassic():
		return TagTypeMIFARE
	default:
		return TagTypeUnknown
	}
}

// CompareUID compares two UIDs for equality
func CompareUID(uid1, uid2 []byte) bool {
	return bytes.Equal(uid1, uid2)
}

func totalBlocks(tag *mfrc630.Tag) int {
	sectors := tag.Sectors()
	if sectors == 0 {
		return 0
	}
	return mfrc630.FirstBlockOf(sectors-1) + mfrc630.BlocksInSector(sectors-1)
}

// userPageLimit is one past the last NTAG page writable as user memory.
func (t *TagOperations) userPageLimit() int {
	if t.ntagVersion.Pages() > 0 {
		return t.totalPages - ntagConfigPages
	}
	return t.totalPages
}
