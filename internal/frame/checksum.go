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

package frame

const crcAPreset = 0x6363

// CRCA computes the ISO14443-A CRC over data. The result is in transmission
// order, low byte first.
func CRCA(data []byte) [CRCLength]byte {
	crc := uint32(crcAPreset)
	for _, bt := range data {
		bt ^= uint8(crc & 0xff)
		bt ^= bt << 4
		bt32 := uint32(bt)
		crc = (crc >> 8) ^ (bt32 << 8) ^ (bt32 << 3) ^ (bt32 >> 4)
	}
	return [CRCLength]byte{byte(crc & 0xff), byte((crc >> 8) & 0xff)}
}

// AppendCRCA returns data followed by its CRC_A.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	out := make([]byte, 0, len(data)+CRCLength)
	out = append(out, data...)
	return append(out, crc[0], crc[1])
}

// CheckCRCA reports whether the last two bytes of buf are the CRC_A of the
// bytes before them.
func CheckCRCA(buf []byte) bool {
	if len(buf) < CRCLength {
		return false
	}
	n := len(buf) - CRCLength
	crc := CRCA(buf[:n])
	return buf[n] == crc[0] && buf[n+1] == crc[1]
}

// BCC is the XOR block check character sent after each UID fragment.
func BCC(fragment []byte) byte {
	var bcc byte
	for _, b := range fragment {
		bcc ^= b
	}
	return bcc
}

// CheckBCC validates an anticollision answer of four UID bytes followed by
// the BCC. It returns the computed BCC alongside the verdict.
func CheckBCC(resp []byte) (byte, bool) {
	if len(resp) != FragmentLength+1 {
		return 0, false
	}
	bcc := BCC(resp[:FragmentLength])
	return bcc, bcc == resp[FragmentLength]
}
