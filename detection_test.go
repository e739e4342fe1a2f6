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
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-mfrc630/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForTag_CardAlreadyPresent(t *testing.T) {
	t.Parallel()

	device, _, _ := newSimDevice(t, testutil.NewVirtualNTAG213(testutil.TestNTAG213UID))

	tag, err := device.WaitForTag(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestNTAG213UID, tag.UID)
}

func TestWaitForTag_FindsHaltedCard(t *testing.T) {
	t.Parallel()

	device, _, _ := newSimDevice(t, testutil.NewVirtualMIFARE1K(testutil.TestMIFARE1KUID))
	selectSimTag(t, device)
	require.NoError(t, device.Halt(context.Background()))

	tag, err := device.WaitForTag(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, FamilyMifareClassic1K, tag.Family())
}

func TestWaitForTag_CardArrivesLater(t *testing.T) {
	t.Parallel()

	card := testutil.NewVirtualNTAG215(testutil.TestNTAG213UID)
	card.Remove()
	device, sim, _ := newSimDevice(t, card)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sim.SetTagPresent(card, true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tag, err := device.WaitForTag(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestNTAG213UID, tag.UID)
}

func TestWaitForTag_ContextDeadline(t *testing.T) {
	t.Parallel()

	device, _, _ := newSimDevice(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	tag, err := device.WaitForTag(ctx, time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, tag)
}

func TestWaitForTag_BusFailureStopsWaiting(t *testing.T) {
	t.Parallel()

	device, _, tr := newSimDevice(t)
	tr.SetStickyError(testutil.ErrInjected)

	_, err := device.WaitForTag(context.Background(), time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsCommunicationError(err))
}

func TestWaitForTag_ErrorBudget(t *testing.T) {
	t.Parallel()

	// Two cards with different UIDs collide on every attempt.
	device, _, _ := newSimDevice(t,
		testutil.NewVirtualNTAG213(testutil.TestNTAG213UID),
		testutil.NewVirtualNTAG213([]byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := device.WaitForTag(ctx, time.Microsecond)
	require.ErrorIs(t, err, ErrCollision)
	assert.Contains(t, err.Error(), "too many detection errors (11)")
}

func TestHandleDetectionError(t *testing.T) {
	t.Parallel()

	device, _, _ := newRawSimDevice(t)
	count := 0
	cause := errors.New("garbled")

	for range 10 {
		require.NoError(t, device.handleDetectionError(&count, cause))
	}
	err := device.handleDetectionError(&count, cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 11, count)
}
