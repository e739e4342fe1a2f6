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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-mfrc630/internal/testing"
)

const (
	testPollTimeout  = 20 * time.Millisecond
	testPollInterval = 100 * time.Microsecond
)

// newSimDevice creates a device on a fresh simulator with the radio
// configured and tags in the field.
func newSimDevice(t *testing.T, tags ...*testutil.VirtualTag) (*Device, *testutil.VirtualMFRC630, *testutil.SimulatorTransport) {
	t.Helper()

	device, sim, tr := newRawSimDevice(t, tags...)
	require.NoError(t, device.Configure(context.Background(), RadioISO14443A106))
	return device, sim, tr
}

// newRawSimDevice is newSimDevice without radio configuration.
func newRawSimDevice(t *testing.T, tags ...*testutil.VirtualTag) (*Device, *testutil.VirtualMFRC630, *testutil.SimulatorTransport) {
	t.Helper()

	sim := testutil.NewVirtualMFRC630()
	for _, tag := range tags {
		sim.AddTag(tag)
	}
	tr := testutil.NewSimulatorTransport(sim)
	device, err := New(tr,
		WithPollTimeout(testPollTimeout),
		WithPollInterval(testPollInterval),
		WithResetSettle(0),
	)
	require.NoError(t, err)
	return device, sim, tr
}

// selectSimTag runs Request and Select and fails the test if no card is
// selected.
func selectSimTag(t *testing.T, device *Device) *Tag {
	t.Helper()

	ctx := context.Background()
	atqa, err := device.Request(ctx)
	require.NoError(t, err)
	require.NotZero(t, atqa, "no card answered REQA")
	tag, err := device.Select(ctx)
	require.NoError(t, err)
	return tag
}

// authSimSector loads the default key and authenticates the sector holding
// block with key A.
func authSimSector(t *testing.T, device *Device, tag *Tag, block byte) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, device.LoadKey(ctx, DefaultKey()))
	ok, err := device.Authenticate(ctx, KeyA, block, tag.UID)
	require.NoError(t, err)
	require.True(t, ok, "authentication rejected")
}
