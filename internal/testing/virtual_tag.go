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

package testing

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mfrc630/internal/frame"
)

// Card-level command bytes answered by virtual tags.
const (
	cardRead       = 0x30
	cardMifareWr   = 0xA0
	cardNTAGWrite  = 0xA2
	cardGetVersion = 0x60

	// MIFAREKeyA and MIFAREKeyB are the MFAuthent key type bytes.
	MIFAREKeyA = 0x60
	MIFAREKeyB = 0x61

	// 4-bit acknowledge and NAK codes.
	cardACK         = 0x0A
	cardNAKArgument = 0x00
	cardNAKAuth     = 0x04
)

// Tag type names.
const (
	TagTypeNTAG213  = "NTAG213"
	TagTypeNTAG215  = "NTAG215"
	TagTypeNTAG216  = "NTAG216"
	TagTypeMIFARE1K = "MIFARE1K"
	TagTypeMIFARE4K = "MIFARE4K"
)

// Test UIDs shared by the package tests.
var (
	TestNTAG213UID  = []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}
	TestMIFARE1KUID = []byte{0x12, 0x34, 0x56, 0x78}
	TestMIFARE4KUID = []byte{0xAB, 0xCD, 0xEF, 0x01}
	TestTripleUID   = []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}
)

// TagState is the ISO14443-3 card state.
type TagState int

// Card states.
const (
	TagIdle TagState = iota
	TagReady
	TagActive
	TagHalt
)

func (s TagState) String() string {
	switch s {
	case TagIdle:
		return "IDLE"
	case TagReady:
		return "READY"
	case TagActive:
		return "ACTIVE"
	case TagHalt:
		return "HALT"
	default:
		return fmt.Sprintf("TagState(%d)", int(s))
	}
}

// cardReply is what a tag puts on air in answer to a frame.
type cardReply struct {
	data []byte
	bits int  // valid bits in the last byte, 0 for whole bytes
	crc  bool // the tag appends CRC_A
}

func ackReply() *cardReply { return &cardReply{data: []byte{cardACK}, bits: 4} }

func nakReply(code byte) *cardReply { return &cardReply{data: []byte{code}, bits: 4} }

// VirtualTag is an ISO14443-A card in the field of a VirtualMFRC630. MIFARE
// Classic memory is kept as 16-byte blocks, NTAG memory as 4-byte pages.
type VirtualTag struct {
	sectorKeys          map[int][]byte
	Type                string
	UID                 []byte
	Memory              [][]byte
	authenticatedSector int
	pendingWrite        int
	level               int
	state               TagState
	Present             bool
	authenticatedKey    byte
}

func newVirtualNTAG(tagType string, uid []byte, pages int) *VirtualTag {
	tag := &VirtualTag{
		Type:                tagType,
		UID:                 append([]byte(nil), uid...),
		Memory:              make([][]byte, pages),
		Present:             true,
		authenticatedSector: -1,
		pendingWrite:        -1,
	}
	tag.initNTAGMemory()
	return tag
}

// NewVirtualNTAG213 creates a virtual NTAG213 (45 pages).
func NewVirtualNTAG213(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestNTAG213UID
	}
	return newVirtualNTAG(TagTypeNTAG213, uid, 45)
}

// NewVirtualNTAG215 creates a virtual NTAG215 (135 pages).
func NewVirtualNTAG215(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestNTAG213UID
	}
	return newVirtualNTAG(TagTypeNTAG215, uid, 135)
}

// NewVirtualNTAG216 creates a virtual NTAG216 (231 pages).
func NewVirtualNTAG216(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestNTAG213UID
	}
	return newVirtualNTAG(TagTypeNTAG216, uid, 231)
}

// NewVirtualMIFARE1K creates a virtual MIFARE Classic 1K tag with factory
// default keys.
func NewVirtualMIFARE1K(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestMIFARE1KUID
	}
	tag := &VirtualTag{
		Type:                TagTypeMIFARE1K,
		UID:                 append([]byte(nil), uid...),
		Memory:              make([][]byte, 64),
		Present:             true,
		authenticatedSector: -1,
		pendingWrite:        -1,
		sectorKeys:          make(map[int][]byte),
	}
	tag.initMIFAREMemory()
	return tag
}

// NewVirtualMIFARE4K creates a virtual MIFARE Classic 4K tag with factory
// default keys.
func NewVirtualMIFARE4K(uid []byte) *VirtualTag {
	if uid == nil {
		uid = TestMIFARE4KUID
	}
	tag := &VirtualTag{
		Type:                TagTypeMIFARE4K,
		UID:                 append([]byte(nil), uid...),
		Memory:              make([][]byte, 256),
		Present:             true,
		authenticatedSector: -1,
		pendingWrite:        -1,
		sectorKeys:          make(map[int][]byte),
	}
	tag.initMIFAREMemory()
	return tag
}

// GetUIDString returns the UID as a hex string
func (v *VirtualTag) GetUIDString() string {
	return hex.EncodeToString(v.UID)
}

// State returns the card's ISO14443-3 state.
func (v *VirtualTag) State() TagState {
	return v.state
}

// ATQA returns the answer to request, UID size bits included.
func (v *VirtualTag) ATQA() uint16 {
	base := uint16(0x0004)
	if v.Type == TagTypeMIFARE4K {
		base = 0x0002
	}
	return base | frame.ATQASizeBits(len(v.UID))
}

// SAK returns the select acknowledge of the final cascade level.
func (v *VirtualTag) SAK() byte {
	switch v.Type {
	case TagTypeMIFARE1K:
		return 0x08
	case TagTypeMIFARE4K:
		return 0x18
	default:
		return 0x00
	}
}

// Remove takes the tag out of the field.
func (v *VirtualTag) Remove() {
	v.Present = false
	v.reset()
}

// Insert puts the tag back into the field in the IDLE state.
func (v *VirtualTag) Insert() {
	v.Present = true
	v.reset()
}

func (v *VirtualTag) reset() {
	v.state = TagIdle
	v.level = 0
	v.pendingWrite = -1
	v.ResetAuthentication()
}

// Block returns a copy of a MIFARE block or NTAG page, nil when out of range.
func (v *VirtualTag) Block(n int) []byte {
	if n < 0 || n >= len(v.Memory) {
		return nil
	}
	return append([]byte(nil), v.Memory[n]...)
}

// SetBlock overwrites a MIFARE block or NTAG page directly, bypassing access
// checks.
func (v *VirtualTag) SetBlock(n int, data []byte) error {
	if n < 0 || n >= len(v.Memory) {
		return fmt.Errorf("block %d out of range", n)
	}
	if len(data) != len(v.Memory[n]) {
		return fmt.Errorf("block %d takes %d bytes, got %d", n, len(v.Memory[n]), len(data))
	}
	copy(v.Memory[n], data)
	return nil
}

func (v *VirtualTag) initNTAGMemory() {
	for i := range v.Memory {
		v.Memory[i] = make([]byte, 4)
	}

	uid := make([]byte, 7)
	copy(uid, v.UID)
	bcc0 := frame.CascadeTag ^ uid[0] ^ uid[1] ^ uid[2]
	copy(v.Memory[0], []byte{uid[0], uid[1], uid[2], bcc0})
	copy(v.Memory[1], uid[3:7])
	v.Memory[2][0] = frame.BCC(uid[3:7])
	v.Memory[2][1] = 0x48

	// Capability container, then an empty NDEF TLV.
	copy(v.Memory[3], []byte{0xE1, 0x10, v.ccSize(), 0x00})
	copy(v.Memory[4], []byte{0x03, 0x00, 0xFE, 0x00})
}

// ccSize is the data area size byte of the capability container.
func (v *VirtualTag) ccSize() byte {
	switch v.Type {
	case TagTypeNTAG215:
		return 0x3E
	case TagTypeNTAG216:
		return 0x6D
	default:
		return 0x12
	}
}

func defaultTrailer() []byte {
	return []byte{
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // Key A
		0xFF, 0x07, 0x80, 0x69, // Access bits
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // Key B
	}
}

func (v *VirtualTag) initMIFAREMemory() {
	for i := range v.Memory {
		v.Memory[i] = make([]byte, 16)
	}

	// Manufacturer block: UID, BCC, SAK, ATQA.
	copy(v.Memory[0], v.UID)
	if len(v.UID) == 4 {
		v.Memory[0][4] = frame.BCC(v.UID)
		v.Memory[0][5] = v.SAK()
		atqa := v.ATQA()
		v.Memory[0][6] = byte(atqa)
		v.Memory[0][7] = byte(atqa >> 8)
	}

	defaultKey := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	for sector := 0; sector < v.getMaxSector(); sector++ {
		copy(v.Memory[v.trailerBlock(sector)], defaultTrailer())
		v.sectorKeys[sector] = append(append([]byte{}, defaultKey...), defaultKey...)
	}
}

// Authenticate authenticates a sector with the given key. keyType is
// MIFAREKeyA or MIFAREKeyB.
func (v *VirtualTag) Authenticate(sector int, keyType byte, key []byte) error {
	if !v.Present {
		return errors.New("tag not present")
	}
	if !v.isMIFARE() {
		return errors.New("authentication only supported for MIFARE tags")
	}
	if len(key) != 6 {
		return errors.New("MIFARE key must be 6 bytes")
	}

	maxSector := v.getMaxSector()
	if sector < 0 || sector >= maxSector {
		return fmt.Errorf("sector %d out of range (max %d)", sector, maxSector-1)
	}

	storedKeys, exists := v.sectorKeys[sector]
	if !exists {
		return fmt.Errorf("no keys configured for sector %d", sector)
	}

	var expectedKey []byte
	switch keyType {
	case MIFAREKeyA:
		expectedKey = storedKeys[0:6]
	case MIFAREKeyB:
		expectedKey = storedKeys[6:12]
	default:
		return fmt.Errorf("invalid key type: 0x%02X", keyType)
	}

	if !bytes.Equal(key, expectedKey) {
		v.authenticatedSector = -1
		return errors.New("authentication failed: incorrect key")
	}

	v.authenticatedSector = sector
	v.authenticatedKey = keyType
	return nil
}

// authenticateBlock runs the card side of MFAuthent. A failed
// authentication drops the card back to IDLE.
func (v *VirtualTag) authenticateBlock(block int, keyType byte, key, uid4 []byte) error {
	if v.state != TagActive || !v.isMIFARE() {
		return errors.New("no MIFARE card selected")
	}
	if len(v.UID) < 4 || !bytes.Equal(v.UID[:4], uid4) {
		return errors.New("UID mismatch")
	}
	if block < 0 || block >= len(v.Memory) {
		return fmt.Errorf("block %d out of range", block)
	}
	if err := v.Authenticate(v.blockToSector(block), keyType, key); err != nil {
		v.state = TagIdle
		return err
	}
	return nil
}

// ResetAuthentication clears the authentication state
func (v *VirtualTag) ResetAuthentication() {
	v.authenticatedSector = -1
	v.authenticatedKey = 0
}

// IsAuthenticated returns true if authenticated to the given sector
func (v *VirtualTag) IsAuthenticated(sector int) bool {
	return v.authenticatedSector == sector
}

// GetAuthenticatedSector returns the currently authenticated sector (-1 if none)
func (v *VirtualTag) GetAuthenticatedSector() int {
	return v.authenticatedSector
}

// SetSectorKey sets custom keys for a sector and mirrors them into the
// sector trailer. keys is 6 bytes of key A followed by 6 bytes of key B.
func (v *VirtualTag) SetSectorKey(sector int, keys []byte) error {
	if !v.isMIFARE() {
		return errors.New("sector keys only apply to MIFARE tags")
	}
	if len(keys) != 12 {
		return errors.New("keys must be 12 bytes (Key A + Key B)")
	}
	maxSector := v.getMaxSector()
	if sector < 0 || sector >= maxSector {
		return fmt.Errorf("sector %d out of range (max %d)", sector, maxSector-1)
	}
	v.sectorKeys[sector] = append([]byte{}, keys...)
	trailer := v.Memory[v.trailerBlock(sector)]
	copy(trailer[0:6], keys[0:6])
	copy(trailer[10:16], keys[6:12])
	return nil
}

// respondShort handles the 7-bit REQA and WUPA frames.
func (v *VirtualTag) respondShort(cmd byte) *cardReply {
	switch {
	case cmd == frame.REQA && v.state == TagIdle,
		cmd == frame.WUPA && (v.state == TagIdle || v.state == TagHalt):
		v.state = TagReady
		v.level = 0
		v.pendingWrite = -1
		v.ResetAuthentication()
		atqa := v.ATQA()
		return &cardReply{data: []byte{byte(atqa), byte(atqa >> 8)}}
	case v.state == TagReady || v.state == TagActive:
		v.reset()
	}
	return nil
}

// respond is the card's reaction to a whole-byte frame. crc reports whether
// the reader appended CRC_A. A nil reply means the card stays silent.
func (v *VirtualTag) respond(data []byte, crc bool) *cardReply {
	if !v.Present || len(data) == 0 {
		return nil
	}
	switch v.state {
	case TagReady:
		return v.respondSelect(data, crc)
	case TagActive:
		if len(data) == 2 && data[0] == frame.HLTA && data[1] == 0x00 && crc {
			v.state = TagHalt
			v.pendingWrite = -1
			v.ResetAuthentication()
			return nil
		}
		if !crc {
			return nil
		}
		if v.isMIFARE() {
			return v.respondMIFARE(data)
		}
		return v.respondNTAG(data)
	default:
		return nil
	}
}

func (v *VirtualTag) respondSelect(data []byte, crc bool) *cardReply {
	fragments := frame.CascadeFragments(v.UID)
	if v.level >= len(fragments) || data[0] != frame.SelectCommands[v.level] || len(data) < 2 {
		v.reset()
		return nil
	}
	fragment := fragments[v.level]
	bcc := frame.BCC(fragment)

	switch {
	case data[1] == frame.NVBAnti && len(data) == 2 && !crc:
		return &cardReply{data: append(append([]byte{}, fragment...), bcc)}
	case data[1] == frame.NVBSelect && len(data) == 7 && crc:
		if !bytes.Equal(data[2:6], fragment) || data[6] != bcc {
			return nil
		}
		if v.level == len(fragments)-1 {
			v.state = TagActive
			return &cardReply{data: []byte{v.SAK()}, crc: true}
		}
		v.level++
		return &cardReply{data: []byte{0x04}, crc: true}
	default:
		return nil
	}
}

func (v *VirtualTag) respondMIFARE(data []byte) *cardReply {
	if v.pendingWrite >= 0 {
		block := v.pendingWrite
		v.pendingWrite = -1
		if len(data) != 16 {
			return nakReply(cardNAKArgument)
		}
		copy(v.Memory[block], data)
		if v.isTrailer(block) {
			sector := v.blockToSector(block)
			keys := make([]byte, 0, 12)
			keys = append(keys, data[0:6]...)
			keys = append(keys, data[10:16]...)
			v.sectorKeys[sector] = keys
		}
		return ackReply()
	}

	if len(data) != 2 {
		return nakReply(cardNAKArgument)
	}
	block := int(data[1])
	if block >= len(v.Memory) {
		return nakReply(cardNAKArgument)
	}
	if v.authenticatedSector != v.blockToSector(block) {
		return nakReply(cardNAKAuth)
	}

	switch data[0] {
	case cardRead:
		out := append([]byte(nil), v.Memory[block]...)
		if v.isTrailer(block) {
			// Key A never reads back.
			copy(out[0:6], make([]byte, 6))
		}
		return &cardReply{data: out, crc: true}
	case cardMifareWr:
		if block == 0 {
			return nakReply(cardNAKArgument)
		}
		v.pendingWrite = block
		return ackReply()
	default:
		return nakReply(cardNAKArgument)
	}
}

func (v *VirtualTag) respondNTAG(data []byte) *cardReply {
	pages := len(v.Memory)
	switch data[0] {
	case cardRead:
		if len(data) != 2 || int(data[1]) >= pages {
			return nakReply(cardNAKArgument)
		}
		out := make([]byte, 0, 16)
		for i := 0; i < 4; i++ {
			out = append(out, v.Memory[(int(data[1])+i)%pages]...)
		}
		return &cardReply{data: out, crc: true}
	case cardNTAGWrite:
		if len(data) != 6 {
			return nakReply(cardNAKArgument)
		}
		page := int(data[1])
		if page < 3 || page >= pages {
			return nakReply(cardNAKArgument)
		}
		copy(v.Memory[page], data[2:6])
		return ackReply()
	case cardGetVersion:
		if len(data) != 1 {
			return nakReply(cardNAKArgument)
		}
		return &cardReply{data: v.version(), crc: true}
	default:
		return nakReply(cardNAKArgument)
	}
}

func (v *VirtualTag) version() []byte {
	storage := byte(0x0F)
	switch v.Type {
	case TagTypeNTAG215:
		storage = 0x11
	case TagTypeNTAG216:
		storage = 0x13
	}
	return []byte{0x00, 0x04, 0x04, 0x02, 0x01, 0x00, storage, 0x03}
}

func (v *VirtualTag) isMIFARE() bool {
	return v.Type == TagTypeMIFARE1K || v.Type == TagTypeMIFARE4K
}

func (v *VirtualTag) getMaxSector() int {
	switch v.Type {
	case TagTypeMIFARE1K:
		return 16
	case TagTypeMIFARE4K:
		return 40
	default:
		return 0
	}
}

func (v *VirtualTag) blockToSector(block int) int {
	if block < 128 {
		return block / 4
	}
	return 32 + (block-128)/16
}

func (v *VirtualTag) trailerBlock(sector int) int {
	if sector < 32 {
		return sector*4 + 3
	}
	return 128 + (sector-32)*16 + 15
}

func (v *VirtualTag) isTrailer(block int) bool {
	return v.trailerBlock(v.blockToSector(block)) == block
}
