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

// ISO/IEC 14443-3 type A command bytes as they appear on air.
const (
	REQA       = 0x26
	WUPA       = 0x52
	HLTA       = 0x50
	SelCL1     = 0x93
	SelCL2     = 0x95
	SelCL3     = 0x97
	NVBAnti    = 0x20 // Anticollision: only SEL and NVB are sent
	NVBSelect  = 0x70 // SELECT: full 40-bit fragment follows
	CascadeTag = 0x88
)

// Frame limits.
const (
	ShortFrameBits = 7 // REQA and WUPA are 7-bit short frames
	FragmentLength = 4 // UID bytes per cascade level, cascade tag included
	MaxCascade     = 3
	CRCLength      = 2
)

// SelectCommands lists the SEL byte for each cascade level in order.
var SelectCommands = [MaxCascade]byte{SelCL1, SelCL2, SelCL3}
