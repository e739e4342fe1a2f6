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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTag_Family(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    CardFamily
		sak     byte
		classic bool
		ntag    bool
		sectors int
	}{
		{name: "classic 1K", sak: 0x08, want: FamilyMifareClassic1K, classic: true, sectors: 16},
		{name: "classic 1K emulated", sak: 0x88, want: FamilyMifareClassic1K, classic: true, sectors: 16},
		{name: "classic 4K", sak: 0x18, want: FamilyMifareClassic4K, classic: true, sectors: 40},
		{name: "classic 4K emulated", sak: 0x38, want: FamilyMifareClassic4K, classic: true, sectors: 40},
		{name: "mini", sak: 0x09, want: FamilyMifareMini, classic: true, sectors: 5},
		{name: "ntag", sak: 0x00, want: FamilyNTAG, ntag: true},
		{name: "desfire", sak: 0x20, want: FamilyISO14443_4},
		{name: "unknown", sak: 0x01, want: FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tag := &Tag{SAK: tt.sak}
			assert.Equal(t, tt.want, tag.Family())
			assert.Equal(t, tt.classic, tag.IsMifareClassic())
			assert.Equal(t, tt.ntag, tag.IsNTAG())
			assert.Equal(t, tt.sectors, tag.Sectors())
		})
	}
}

func TestTag_Strings(t *testing.T) {
	t.Parallel()

	tag := &Tag{UID: []byte{0x04, 0xab, 0xcd, 0xef, 0x12, 0x34, 0x56}, ATQA: 0x0044, SAK: 0x00}
	assert.Equal(t, "04ABCDEF123456", tag.UIDString())
	assert.Equal(t, "NTAG/Ultralight UID=04ABCDEF123456 ATQA=0044 SAK=00", tag.String())
}

func TestTag_Equal(t *testing.T) {
	t.Parallel()

	a := &Tag{UID: []byte{0x01, 0x02, 0x03, 0x04}}
	b := &Tag{UID: []byte{0x01, 0x02, 0x03, 0x04}, SAK: 0x08}
	c := &Tag{UID: []byte{0x01, 0x02, 0x03, 0x05}}
	var nilTag *Tag

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, nilTag.Equal(nil))
}

func TestGetManufacturer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Manufacturer
		uid  []byte
	}{
		{name: "NXP", uid: []byte{0x04, 0, 0, 0, 0, 0, 0}, want: ManufacturerNXP},
		{name: "ST", uid: []byte{0x02, 0, 0, 0, 0, 0, 0}, want: ManufacturerST},
		{name: "Infineon", uid: []byte{0x05, 0, 0, 0, 0, 0, 0}, want: ManufacturerInfineon},
		{name: "TI", uid: []byte{0x07, 0, 0, 0, 0, 0, 0, 0, 0, 0}, want: ManufacturerTI},
		{name: "unknown code", uid: []byte{0x1D, 0, 0, 0, 0, 0, 0}, want: ManufacturerUnknown},
		{name: "single size UID", uid: []byte{0x04, 0x01, 0x02, 0x03}, want: ManufacturerUnknown},
		{name: "empty", uid: nil, want: ManufacturerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, GetManufacturer(tt.uid))
			assert.Equal(t, tt.want, (&Tag{UID: tt.uid}).Manufacturer())
		})
	}
}
