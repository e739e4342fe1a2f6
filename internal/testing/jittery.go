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
	"context"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryTransport.
type JitterConfig struct {
	MaxLatency    time.Duration
	StallDuration time.Duration
	// FailureRate is the probability in [0,1] that an access fails with
	// ErrInjected before reaching the backend.
	FailureRate     float64
	StallAfterCalls int
	Seed            uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 200 * time.Microsecond,
	}
}

// JitteryTransport wraps a Bus to simulate a marginal bus: random latency
// per access, an optional one-off stall and random transient failures.
// Failed accesses never reach the backend, so the simulated chip state is
// the same as if the host had not sent anything.
type JitteryTransport struct {
	backend        Bus
	rng            *rand.Rand
	config         JitterConfig
	calls          int
	failures       int
	mu             syncutil.Mutex
	stallTriggered bool
}

// NewJitteryTransport wraps a backend Bus with jitter simulation.
func NewJitteryTransport(backend Bus, config JitterConfig) *JitteryTransport {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}

	return &JitteryTransport{
		backend: backend,
		config:  config,
		rng:     rng,
	}
}

// disturb applies latency, the stall and failure injection for one access.
func (j *JitteryTransport) disturb(ctx context.Context) error {
	j.mu.Lock()
	j.calls++
	var delay time.Duration
	if j.config.MaxLatency > 0 {
		delay = time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	}
	if j.config.StallAfterCalls > 0 && !j.stallTriggered && j.calls > j.config.StallAfterCalls {
		j.stallTriggered = true
		delay += j.config.StallDuration
	}
	fail := j.config.FailureRate > 0 && j.rng.Float64() < j.config.FailureRate
	if fail {
		j.failures++
	}
	j.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return ErrInjected
	}
	return nil
}

// ReadRegister reads through the backend after the simulated disturbance.
func (j *JitteryTransport) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	if err := j.disturb(ctx); err != nil {
		return 0, err
	}
	return j.backend.ReadRegister(ctx, reg) //nolint:wrapcheck // Pass-through wrapper
}

// WriteRegister writes through the backend after the simulated disturbance.
func (j *JitteryTransport) WriteRegister(ctx context.Context, reg, value byte) error {
	if err := j.disturb(ctx); err != nil {
		return err
	}
	return j.backend.WriteRegister(ctx, reg, value) //nolint:wrapcheck // Pass-through wrapper
}

// ReadFIFO reads through the backend after the simulated disturbance.
func (j *JitteryTransport) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if err := j.disturb(ctx); err != nil {
		return nil, err
	}
	return j.backend.ReadFIFO(ctx, n) //nolint:wrapcheck // Pass-through wrapper
}

// WriteFIFO writes through the backend after the simulated disturbance.
func (j *JitteryTransport) WriteFIFO(ctx context.Context, data []byte) (int, error) {
	if err := j.disturb(ctx); err != nil {
		return 0, err
	}
	return j.backend.WriteFIFO(ctx, data) //nolint:wrapcheck // Pass-through wrapper
}

// Close closes the backend.
func (j *JitteryTransport) Close() error {
	return j.backend.Close() //nolint:wrapcheck // Pass-through wrapper
}

// Failures returns how many accesses were failed on purpose.
func (j *JitteryTransport) Failures() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures
}

// ResetStallState re-arms the one-off stall.
func (j *JitteryTransport) ResetStallState() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = 0
	j.stallTriggered = false
}

var _ Bus = (*JitteryTransport)(nil)
