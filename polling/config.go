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
	"time"

	"github.com/ZaparooProject/go-mfrc630"
)

// SleepRecoveryConfig controls what the session does when a poll comes
// back much later than scheduled, which usually means the host suspended
// and the MFRC630 lost its register state.
type SleepRecoveryConfig struct {
	// TimeDiscontinuityThreshold is how late a poll has to be before the
	// reader is considered stale.
	TimeDiscontinuityThreshold time.Duration
	// RecoveryBackoff separates recovery rounds.
	RecoveryBackoff time.Duration
	// MaxRecoveryAttempts bounds the rounds before the session gives up.
	MaxRecoveryAttempts int
	Enabled             bool
}

// DefaultSleepRecoveryConfig returns the sleep recovery settings used by
// DefaultConfig.
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep reports whether a poll that took elapsed, scheduled every
// pollInterval, ran late enough to need recovery.
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// NewRecoverer builds a DefaultRecoverer using the configured backoff and
// attempt count.
func (cfg SleepRecoveryConfig) NewRecoverer(device *mfrc630.Device, reopen ReopenFunc) *DefaultRecoverer {
	return NewDefaultRecoverer(device, reopen, cfg.RecoveryBackoff, cfg.MaxRecoveryAttempts)
}

// Config holds polling configuration options
type Config struct {
	PollInterval time.Duration
	// IdleInterval replaces PollInterval once no card has been seen for
	// IdleAfter. Zero keeps polling at PollInterval.
	IdleInterval time.Duration
	IdleAfter    time.Duration
	// CardRemovalTimeout is how long a card may go unanswered before it
	// counts as removed.
	CardRemovalTimeout time.Duration
	// MaxConsecutiveErrors bus failures in a row trigger recovery, or end
	// the session when no recoverer is set.
	MaxConsecutiveErrors int
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         250 * time.Millisecond,
		IdleInterval:         500 * time.Millisecond,
		IdleAfter:            5 * time.Second,
		CardRemovalTimeout:   600 * time.Millisecond,
		MaxConsecutiveErrors: 3,
		SleepRecovery:        DefaultSleepRecoveryConfig(),
	}
}
