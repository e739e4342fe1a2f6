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
	"context"
	"fmt"
	"time"
)

// RegisterAccessor is the part of a reader transport a probe needs.
type RegisterAccessor interface {
	ReadRegister(ctx context.Context, reg byte) (byte, error)
	WriteRegister(ctx context.Context, reg, value byte) error
}

const (
	regCommand     = 0x00
	cmdSoftReset   = 0x1F
	resetSettle    = 2 * time.Millisecond
	scratchPattern = 0xA5
)

// ProbeResult is what a probe learned about one bus node.
type ProbeResult struct {
	Confidence Confidence
	Version    byte
}

// Metadata returns the probe result as DeviceInfo metadata.
func (r ProbeResult) Metadata() map[string]string {
	return map[string]string{"version": fmt.Sprintf("0x%02X", r.Version)}
}

// Probe identifies the chip behind rw. Passive mode returns Low without
// touching the bus. Safe mode reads the Version register. Full mode soft
// resets the chip first and requires a scratch register round trip before
// reporting High.
func Probe(ctx context.Context, rw RegisterAccessor, mode Mode) (ProbeResult, error) {
	if mode == Passive {
		return ProbeResult{Confidence: Low}, nil
	}

	if mode == Full {
		if err := rw.WriteRegister(ctx, regCommand, cmdSoftReset); err != nil {
			return ProbeResult{}, fmt.Errorf("soft reset: %w", err)
		}
		select {
		case <-time.After(resetSettle):
		case <-ctx.Done():
			return ProbeResult{}, ctx.Err()
		}
	}

	version, err := rw.ReadRegister(ctx, RegVersion)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("read version: %w", err)
	}
	result := ProbeResult{Version: version, Confidence: ClassifyVersion(version)}
	if mode != Full || result.Confidence != High {
		return result, nil
	}

	if err := rw.WriteRegister(ctx, ScratchRegister, scratchPattern); err != nil {
		return result, fmt.Errorf("write scratch register: %w", err)
	}
	readBack, err := rw.ReadRegister(ctx, ScratchRegister)
	if err != nil {
		return result, fmt.Errorf("read scratch register: %w", err)
	}
	_ = rw.WriteRegister(ctx, ScratchRegister, 0x00)
	if readBack != scratchPattern {
		result.Confidence = Medium
	}
	return result, nil
}
