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

import "fmt"

// MifareKey is a 6-byte MIFARE Classic sector key.
type MifareKey [6]byte

// String formats the key as colon-free upper-case hex.
func (k MifareKey) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X", k[0], k[1], k[2], k[3], k[4], k[5])
}

// KeyType selects which sector key the card checks during authentication.
type KeyType byte

const (
	// KeyA authenticates with key A of the sector trailer.
	KeyA KeyType = MifareCmdAuthA
	// KeyB authenticates with key B of the sector trailer.
	KeyB KeyType = MifareCmdAuthB
)

func (k KeyType) String() string {
	switch k {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("KeyType(0x%02X)", byte(k))
	}
}

// DefaultKey returns the factory default key shipped on blank cards.
func DefaultKey() MifareKey {
	return MifareKey{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

// NDEFKey returns the public key used by NFC Forum NDEF-formatted cards.
func NDEFKey() MifareKey {
	return MifareKey{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
}

// WellKnownKeys returns the keys most commonly found on cards in the wild,
// in the order callers usually probe them.
func WellKnownKeys() []MifareKey {
	return []MifareKey{
		DefaultKey(),
		NDEFKey(),
		{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, // MAD key A
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
}

// Card memory geometry.
const (
	MifareBlockSize       = 16
	NTAGPageSize          = 4
	ntagReadPages         = 4
	mifare1KSectors       = 16
	mifare4KSectors       = 40
	mifareSmallSectorSize = 4
	mifareLargeSectorSize = 16
	mifareLargeSectorBase = 128 // First block of the 16-block sectors on 4K cards
)
