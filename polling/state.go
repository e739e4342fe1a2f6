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

// CardDetectionState represents the finite state machine for card detection
type CardDetectionState int

const (
	StateIdle CardDetectionState = iota
	StateTagDetected
	StateReading
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTagDetected:
		return "detected"
	case StateReading:
		return "reading"
	default:
		return "unknown"
	}
}

// CardState tracks the state of a card on a reader
type CardState struct {
	LastSeenTime   time.Time
	ReadStartTime  time.Time
	LastUID        string
	LastFamily     mfrc630.CardFamily
	DetectionState CardDetectionState
	Present        bool
}

// TransitionToReading marks the card as being handled by a callback.
// Removal is never reported while reading.
func (cs *CardState) TransitionToReading(now time.Time) {
	cs.DetectionState = StateReading
	cs.ReadStartTime = now
}

// TransitionToDetected records tag as present and seen at now.
func (cs *CardState) TransitionToDetected(tag *mfrc630.Tag, now time.Time) {
	cs.DetectionState = StateTagDetected
	cs.Present = true
	cs.LastUID = tag.UIDString()
	cs.LastFamily = tag.Family()
	cs.LastSeenTime = now
}

// TransitionToIdle resets to idle state
func (cs *CardState) TransitionToIdle() {
	*cs = CardState{}
}

// RemovalDue reports whether a present card has gone unanswered for at
// least timeout.
func (cs *CardState) RemovalDue(now time.Time, timeout time.Duration) bool {
	return cs.Present && cs.DetectionState == StateTagDetected && now.Sub(cs.LastSeenTime) >= timeout
}
