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
	"encoding/hex"
	"fmt"
	"strings"
)

// Tag is a card selected by Select. It stays valid until the card leaves
// the field or the radio is reconfigured; removal is not tracked.
type Tag struct {
	UID  []byte
	ATQA uint16
	SAK  byte
}

// UIDString returns the UID as upper-case hex without separators.
func (t *Tag) UIDString() string {
	return strings.ToUpper(hex.EncodeToString(t.UID))
}

// String returns a short summary of the card.
func (t *Tag) String() string {
	return fmt.Sprintf("%s UID=%s ATQA=%04X SAK=%02X", t.Family(), t.UIDString(), t.ATQA, t.SAK)
}

// CardFamily groups cards by the command set they speak, as derived from
// the SAK byte.
type CardFamily string

const (
	// FamilyMifareClassic1K covers MIFARE Classic 1K and compatibles (SAK 0x08).
	FamilyMifareClassic1K CardFamily = "MIFARE Classic 1K"
	// FamilyMifareClassic4K covers MIFARE Classic 4K (SAK 0x18).
	FamilyMifareClassic4K CardFamily = "MIFARE Classic 4K"
	// FamilyMifareMini covers MIFARE Mini (SAK 0x09).
	FamilyMifareMini CardFamily = "MIFARE Mini"
	// FamilyNTAG covers NTAG21x and MIFARE Ultralight (SAK 0x00).
	FamilyNTAG CardFamily = "NTAG/Ultralight"
	// FamilyISO14443_4 covers cards that speak ISO14443-4 (SAK bit 0x20).
	FamilyISO14443_4 CardFamily = "ISO14443-4"
	// FamilyUnknown is any other SAK.
	FamilyUnknown CardFamily = "Unknown"
)

// Family classifies the card by its SAK.
func (t *Tag) Family() CardFamily {
	switch t.SAK {
	case 0x08, 0x88:
		return FamilyMifareClassic1K
	case 0x18, 0x38:
		return FamilyMifareClassic4K
	case 0x09:
		return FamilyMifareMini
	case 0x00:
		return FamilyNTAG
	}
	if t.SAK&0x20 != 0 {
		return FamilyISO14443_4
	}
	return FamilyUnknown
}

// IsMifareClassic reports whether the card uses Crypto1 authentication.
func (t *Tag) IsMifareClassic() bool {
	switch t.Family() {
	case FamilyMifareClassic1K, FamilyMifareClassic4K, FamilyMifareMini:
		return true
	default:
		return false
	}
}

// IsNTAG reports whether the card uses the 4-byte page command set.
func (t *Tag) IsNTAG() bool {
	return t.Family() == FamilyNTAG
}

// Sectors returns the sector count of a MIFARE Classic card, or 0.
func (t *Tag) Sectors() int {
	switch t.Family() {
	case FamilyMifareClassic1K:
		return mifare1KSectors
	case FamilyMifareClassic4K:
		return mifare4KSectors
	case FamilyMifareMini:
		return 5
	default:
		return 0
	}
}

// Manufacturer returns the chip manufacturer encoded in the UID.
func (t *Tag) Manufacturer() Manufacturer {
	return GetManufacturer(t.UID)
}

// Equal reports whether both tags carry the same UID.
func (t *Tag) Equal(other *Tag) bool {
	if t == nil || other == nil {
		return t == other
	}
	return strings.EqualFold(t.UIDString(), other.UIDString())
}

// Manufacturer represents the chip manufacturer identified from the UID.
// The first byte of a 7- or 10-byte UID is the ISO/IEC 7816-6 manufacturer code.
type Manufacturer string

const (
	// ManufacturerNXP is NXP Semiconductors (0x04).
	ManufacturerNXP Manufacturer = "NXP"
	// ManufacturerST is STMicroelectronics (0x02).
	ManufacturerST Manufacturer = "STMicroelectronics"
	// ManufacturerInfineon is Infineon Technologies (0x05).
	ManufacturerInfineon Manufacturer = "Infineon"
	// ManufacturerTI is Texas Instruments (0x07).
	ManufacturerTI Manufacturer = "Texas Instruments"
	// ManufacturerUnknown covers random or clone UIDs.
	ManufacturerUnknown Manufacturer = "Unknown"
)

// GetManufacturer returns the manufacturer of a 7- or 10-byte UID. Single-size
// (4-byte) UIDs are random or fixed numbers and carry no manufacturer code.
func GetManufacturer(uid []byte) Manufacturer {
	if len(uid) < 7 {
		return ManufacturerUnknown
	}

	switch uid[0] {
	case 0x04:
		return ManufacturerNXP
	case 0x02:
		return ManufacturerST
	case 0x05:
		return ManufacturerInfineon
	case 0x07:
		return ManufacturerTI
	default:
		return ManufacturerUnknown
	}
}
