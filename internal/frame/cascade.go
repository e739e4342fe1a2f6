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

// CascadeFragments splits a single, double or triple size UID into the
// fragments a card answers at each cascade level. Every level but the last
// starts with the cascade tag. Other lengths yield nil.
func CascadeFragments(uid []byte) [][]byte {
	switch len(uid) {
	case 4:
		return [][]byte{{uid[0], uid[1], uid[2], uid[3]}}
	case 7:
		return [][]byte{
			{CascadeTag, uid[0], uid[1], uid[2]},
			{uid[3], uid[4], uid[5], uid[6]},
		}
	case 10:
		return [][]byte{
			{CascadeTag, uid[0], uid[1], uid[2]},
			{CascadeTag, uid[3], uid[4], uid[5]},
			{uid[6], uid[7], uid[8], uid[9]},
		}
	default:
		return nil
	}
}

// AppendFragment adds the UID bytes carried by one cascade level fragment.
// When final is false the leading cascade tag is dropped.
func AppendFragment(uid, fragment []byte, final bool) []byte {
	if len(fragment) < FragmentLength {
		return uid
	}
	if final {
		return append(uid, fragment[:FragmentLength]...)
	}
	return append(uid, fragment[1:FragmentLength]...)
}

// ATQASizeBits returns the UID size bits (b8..b7) of an ATQA for a UID of
// the given length.
func ATQASizeBits(uidLen int) uint16 {
	switch uidLen {
	case 7:
		return 0x0040
	case 10:
		return 0x0080
	default:
		return 0x0000
	}
}
