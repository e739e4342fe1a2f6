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

package detection

import (
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBlocklist returns USB serial devices that are never readers and
// must not receive probe bytes. Format: VID:PID in hexadecimal
// (case-insensitive).
func DefaultBlocklist() []string {
	return []string{
		"1366:0105", // SEGGER J-Link CDC, forwards bytes to the debug target
		"0483:374B", // ST-LINK/V2-1 virtual COM port
	}
}

func normalizeVIDPID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsBlocked checks if a USB device is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = normalizeVIDPID(vidpid)
	return slices.ContainsFunc(blocklist, func(blocked string) bool {
		return normalizeVIDPID(blocked) == vidpid
	})
}

// ParseVIDPID extracts VID:PID from the descriptor formats serial drivers
// report, such as "VID:1234 PID:5678", "vendor=1234 product=5678" or
// "1234:5678". It returns "" when no pair is found.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(descriptor)

	vid := hexAfter(descriptor, "VID:", "VENDOR=", "VID=")
	pid := hexAfter(descriptor, "PID:", "PRODUCT=", "PID=")
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if v, p, ok := strings.Cut(descriptor, ":"); ok && isHex(v) && isHex(p) {
		return descriptor
	}
	return ""
}

// hexAfter returns the hex digits following the first prefix found.
func hexAfter(s string, prefixes ...string) string {
	for _, prefix := range prefixes {
		if _, rest, ok := strings.Cut(s, prefix); ok {
			return extractHex(rest)
		}
	}
	return ""
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// extractHex returns the first run of upper-case hex digits in s.
func extractHex(s string) string {
	start := strings.IndexFunc(s, func(r rune) bool {
		return isHexDigit(r) && (r < 'a' || r > 'f')
	})
	if start < 0 {
		return ""
	}
	s = s[start:]
	end := strings.IndexFunc(s, func(r rune) bool {
		return !isHexDigit(r) || (r >= 'a' && r <= 'f')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// isHex checks if a string contains only hexadecimal characters.
func isHex(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isHexDigit(r) }) < 0
}

// IsPathIgnored checks if a device path should be ignored. Paths are
// compared after cleaning and case folding, so "COM2" matches "com2".
// I2C paths with an address suffix also match their bare bus path.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}

	device := normalizedPath(devicePath)
	bus, _, hasAddr := strings.Cut(device, ":")
	for _, ignore := range ignorePaths {
		if ignore == "" {
			continue
		}
		normalized := normalizedPath(ignore)
		if device == normalized || (hasAddr && bus == normalized) {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
