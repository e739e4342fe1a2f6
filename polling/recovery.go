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

package polling

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-mfrc630"
	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

// DeviceRecoverer handles device recovery after sleep/wake or errors
type DeviceRecoverer interface {
	// AttemptRecovery tries to recover the device connection.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error

	// GetDevice returns the current device reference (may change after reconnection)
	GetDevice() *mfrc630.Device
}

// ReopenFunc is a function that attempts to reopen/reconnect the device
type ReopenFunc func(ctx context.Context) (*mfrc630.Device, error)

// DefaultRecoverer brings a reader back after bus errors. It first soft
// resets the chip and reloads the ISO14443A radio profile over the existing
// transport, then closes the device and opens a new one through the reopen
// function.
type DefaultRecoverer struct {
	device      *mfrc630.Device
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with tiered recovery strategy.
// If reopenFunc is nil, only re-initialisation is attempted.
func NewDefaultRecoverer(
	device *mfrc630.Device,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		device:      device,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery runs every tier in order, up to maxAttempts rounds,
// sleeping backoff between rounds. The first tier that succeeds ends it.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(r.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		for _, tier := range r.tiers() {
			err := tier.run(ctx)
			if err == nil {
				mfrc630.Debugf("polling: recovered by %s on attempt %d", tier.name, attempt+1)
				return nil
			}
			mfrc630.Debugf("polling: %s failed: %v", tier.name, err)
			lastErr = err
		}
	}

	return fmt.Errorf("recovery failed after %d attempts: %w", r.maxAttempts, lastErr)
}

type recoveryTier struct {
	run  func(context.Context) error
	name string
}

// tiers lists the recovery steps, cheapest first. A soft reset keeps the
// transport; reopening replaces it.
func (r *DefaultRecoverer) tiers() []recoveryTier {
	tiers := []recoveryTier{{name: "soft reset", run: func(ctx context.Context) error {
		return reinitialise(ctx, r.device)
	}}}
	if r.reopenFunc != nil {
		tiers = append(tiers, recoveryTier{name: "reopen", run: r.reopen})
	}
	return tiers
}

func (r *DefaultRecoverer) reopen(ctx context.Context) error {
	_ = r.device.Close()
	device, err := r.reopenFunc(ctx)
	if err != nil {
		return err
	}
	if err := reinitialise(ctx, device); err != nil {
		_ = device.Close()
		return err
	}
	r.device = device
	return nil
}

// GetDevice returns the current device reference.
// This may return a different device after a successful reconnection.
func (r *DefaultRecoverer) GetDevice() *mfrc630.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// reinitialise runs Init and reloads the radio profile. Init's soft reset
// clears every protocol register, so Configure must follow it.
func reinitialise(ctx context.Context, device *mfrc630.Device) error {
	if err := device.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := device.Configure(ctx, mfrc630.RadioISO14443A106); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}
	return nil
}
