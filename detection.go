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
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultWaitInterval is the pause between discovery attempts in WaitForTag.
const DefaultWaitInterval = 100 * time.Millisecond

func (*Device) handleDetectionError(errorCount *int, err error) error {
	const (
		maxErrors      = 10
		errorThreshold = 3
	)

	*errorCount++

	// Log first few errors for debugging
	if *errorCount <= errorThreshold {
		Debugf("Tag detection error #%d: %v", *errorCount, err)
	}

	if *errorCount > maxErrors {
		return fmt.Errorf("too many detection errors (%d), last error: %w", *errorCount, err)
	}

	return nil
}

// attemptDetection runs one discovery. Field-level errors such as a
// collision or a garbled frame only count towards the error budget; bus
// failures end the wait at once.
func (d *Device) attemptDetection(ctx context.Context, errorCount *int) (*Tag, error) {
	tag, err := d.WakeAndSelect(ctx)
	switch {
	case err == nil:
		Debugf("Tag detected: %s", tag)
		return tag, nil
	case errors.Is(err, ErrNoTagPresent):
		return nil, ErrNoTagPresent
	case IsCommunicationError(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		if budgetErr := d.handleDetectionError(errorCount, err); budgetErr != nil {
			return nil, budgetErr
		}
		return nil, ErrNoTagPresent
	}
}

// WaitForTag polls for a card until one is selected or ctx ends. It uses
// WUPA, so cards left halted by an earlier session are found too. A zero
// interval means DefaultWaitInterval.
//
// Example usage:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	tag, err := device.WaitForTag(ctx, 0)
//	if err != nil {
//	    if errors.Is(err, context.DeadlineExceeded) {
//	        fmt.Println("Timeout: no tag detected")
//	    }
//	    return err
//	}
//
//	fmt.Printf("Tag detected: %s\n", tag.UIDString())
func (d *Device) WaitForTag(ctx context.Context, interval time.Duration) (*Tag, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	errorCount := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tag, err := d.attemptDetection(ctx, &errorCount)
		if err == nil {
			return tag, nil
		}
		if !errors.Is(err, ErrNoTagPresent) {
			return nil, err
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
	}
}
