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
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-mfrc630"
	testutil "github.com/ZaparooProject/go-mfrc630/internal/testing"
)

func TestNewSession_Defaults(t *testing.T) {
	t.Parallel()
	s := NewSession(nil, nil)
	assert.Equal(t, DefaultConfig().PollInterval, s.config.PollInterval)

	s = NewSession(nil, &Config{})
	assert.Equal(t, DefaultConfig().PollInterval, s.config.PollInterval)
	assert.Equal(t, 1, s.config.MaxConsecutiveErrors)
}

func TestSession_ID(t *testing.T) {
	t.Parallel()
	a, b := NewSession(nil, nil), NewSession(nil, nil)

	_, err := uuid.Parse(a.ID())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSession_DetectAndRemove(t *testing.T) {
	t.Parallel()
	tag := testutil.NewVirtualNTAG213(nil)
	s, sim, _ := newSimSession(t, tag)

	detected := make(chan string, 10)
	removed := make(chan struct{}, 10)
	s.SetOnCardDetected(func(_ context.Context, _ *mfrc630.Device, tag *mfrc630.Tag) error {
		detected <- tag.UIDString()
		return nil
	})
	s.SetOnCardRemoved(func() { removed <- struct{}{} })

	stop := runSession(t, s)

	assert.Equal(t, "04ABCDEF123456", receive(t, detected))
	require.Eventually(t, func() bool {
		return s.GetMetrics().PollCycles > 5
	}, waitTimeout, time.Millisecond)

	state := s.GetState()
	assert.True(t, state.Present)
	assert.Equal(t, mfrc630.FamilyNTAG, state.LastFamily)

	sim.SetTagPresent(tag, false)
	receive(t, removed)
	assert.False(t, s.GetState().Present)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Empty(t, detected, "a card left in the field is reported once")
	assert.EqualValues(t, 1, s.GetMetrics().CardsDetected)
}

func TestSession_CallbackReadsSelectedCard(t *testing.T) {
	t.Parallel()
	s, _, _ := newSimSession(t, testutil.NewVirtualNTAG215(nil))

	pages := make(chan []byte, 1)
	s.SetOnCardDetected(func(ctx context.Context, device *mfrc630.Device, _ *mfrc630.Tag) error {
		data, err := device.ReadPage(ctx, 3)
		if err != nil {
			return err
		}
		pages <- data
		return nil
	})
	runSession(t, s)

	assert.Equal(t, []byte{0xE1, 0x10, 0x3E, 0x00}, receive(t, pages))
	assert.Zero(t, s.GetMetrics().CallbackErrors)
}

func TestSession_CardChanged(t *testing.T) {
	t.Parallel()
	first := testutil.NewVirtualNTAG213(nil)
	second := testutil.NewVirtualMIFARE1K(nil)
	s, sim, _ := newSimSession(t, first, second)
	sim.SetTagPresent(second, false)

	detected := make(chan string, 10)
	changed := make(chan string, 10)
	removed := make(chan struct{}, 10)
	s.SetOnCardDetected(func(_ context.Context, _ *mfrc630.Device, tag *mfrc630.Tag) error {
		detected <- tag.UIDString()
		return nil
	})
	s.SetOnCardChanged(func(_ context.Context, _ *mfrc630.Device, tag *mfrc630.Tag) error {
		changed <- tag.UIDString()
		return nil
	})
	s.SetOnCardRemoved(func() { removed <- struct{}{} })
	runSession(t, s)

	receive(t, detected)

	ctx := context.Background()
	require.NoError(t, s.Pause(ctx))
	sim.SetTagPresent(first, false)
	sim.SetTagPresent(second, true)
	s.Resume()

	assert.Equal(t, "12345678", receive(t, changed))
	assert.Equal(t, mfrc630.FamilyMifareClassic1K, s.GetState().LastFamily)
	assert.Empty(t, removed)
	assert.EqualValues(t, 2, s.GetMetrics().CardsDetected)
}

func TestSession_CallbackFailuresAreContained(t *testing.T) {
	t.Parallel()
	tag := testutil.NewVirtualNTAG213(nil)
	s, sim, _ := newSimSession(t, tag)

	s.SetOnCardDetected(func(context.Context, *mfrc630.Device, *mfrc630.Tag) error {
		panic("boom")
	})
	s.SetOnCardRemoved(func() { panic("boom") })
	runSession(t, s)

	require.Eventually(t, func() bool {
		return s.GetMetrics().CallbackErrors == 1
	}, waitTimeout, time.Millisecond)

	sim.SetTagPresent(tag, false)
	require.Eventually(t, func() bool {
		return s.GetMetrics().CallbackErrors == 2
	}, waitTimeout, time.Millisecond)

	// Still polling.
	err := s.Do(context.Background(), func(context.Context, *mfrc630.Device) error { return nil })
	assert.NoError(t, err)
}

func TestSession_Do(t *testing.T) {
	t.Parallel()

	t.Run("runs on the polling goroutine", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t)
		runSession(t, s)

		var version byte
		err := s.Do(context.Background(), func(ctx context.Context, device *mfrc630.Device) error {
			var err error
			version, err = device.Version(ctx)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, byte(mfrc630.VersionMFRC630v1), version)
	})

	t.Run("returns the function's error", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t)
		runSession(t, s)

		sentinel := errors.New("sentinel")
		err := s.Do(context.Background(), func(context.Context, *mfrc630.Device) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("waits for a running session", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := s.Do(ctx, func(context.Context, *mfrc630.Device) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed session", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t)
		require.NoError(t, s.Close())

		err := s.Do(context.Background(), func(context.Context, *mfrc630.Device) error { return nil })
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestSession_WriteToNextTag(t *testing.T) {
	t.Parallel()

	t.Run("writes the card in the field", func(t *testing.T) {
		t.Parallel()
		tag := testutil.NewVirtualNTAG213(nil)
		s, _, _ := newSimSession(t, tag)
		runSession(t, s)

		payload := []byte{0x03, 0x00, 0xFE, 0x00}
		err := s.WriteToNextTag(context.Background(), waitTimeout,
			func(ctx context.Context, device *mfrc630.Device, _ *mfrc630.Tag) error {
				_, err := device.WritePage(ctx, 4, payload)
				return err
			})
		require.NoError(t, err)

		var page []byte
		require.NoError(t, s.Do(context.Background(), func(context.Context, *mfrc630.Device) error {
			page = tag.Block(4)
			return nil
		}))
		assert.Equal(t, payload, page)
	})

	t.Run("times out without a card", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t)
		runSession(t, s)

		called := false
		err := s.WriteToNextTag(context.Background(), 20*time.Millisecond,
			func(context.Context, *mfrc630.Device, *mfrc630.Tag) error {
				called = true
				return nil
			})
		require.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, s.Pause(context.Background()))
		assert.False(t, called)
		assert.Nil(t, s.pending)
	})

	t.Run("returns the write error", func(t *testing.T) {
		t.Parallel()
		s, _, _ := newSimSession(t, testutil.NewVirtualNTAG213(nil))
		runSession(t, s)

		sentinel := errors.New("write rejected")
		err := s.WriteToNextTag(context.Background(), waitTimeout,
			func(context.Context, *mfrc630.Device, *mfrc630.Tag) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})
}

func TestSession_PauseStopsPolling(t *testing.T) {
	t.Parallel()
	s, _, _ := newSimSession(t)
	runSession(t, s)

	require.Eventually(t, func() bool { return s.GetMetrics().PollCycles > 0 }, waitTimeout, time.Millisecond)
	require.NoError(t, s.Pause(context.Background()))
	cycles := s.GetMetrics().PollCycles

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, cycles, s.GetMetrics().PollCycles)

	s.Resume()
	require.Eventually(t, func() bool {
		return s.GetMetrics().PollCycles > cycles
	}, waitTimeout, time.Millisecond)
}

func TestSession_StartTwice(t *testing.T) {
	t.Parallel()
	s, _, _ := newSimSession(t)
	runSession(t, s)

	require.Eventually(t, func() bool { return s.GetMetrics().PollCycles > 0 }, waitTimeout, time.Millisecond)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionRunning)
}

func TestSession_CloseEndsStart(t *testing.T) {
	t.Parallel()
	s, _, _ := newSimSession(t)
	stop := runSession(t, s)

	require.Eventually(t, func() bool { return s.GetMetrics().PollCycles > 0 }, waitTimeout, time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.NoError(t, stop())
}

func TestSession_BusFailure(t *testing.T) {
	t.Parallel()

	t.Run("stops without a recoverer", func(t *testing.T) {
		t.Parallel()
		tag := testutil.NewVirtualNTAG213(nil)
		s, _, tr := newSimSession(t, tag)
		removed := make(chan struct{}, 1)
		s.SetOnCardRemoved(func() { removed <- struct{}{} })
		stop := runSession(t, s)

		require.Eventually(t, func() bool { return s.GetState().Present }, waitTimeout, time.Millisecond)
		tr.SetStickyError(errors.New("unplugged"))

		receive(t, removed)
		err := stop()
		require.Error(t, err)
		assert.True(t, mfrc630.IsCommunicationError(err))
		assert.NotZero(t, s.GetMetrics().PollErrors)
	})

	t.Run("recovers the device", func(t *testing.T) {
		t.Parallel()
		s, _, tr := newSimSession(t)
		s.config.MaxConsecutiveErrors = 1
		s.SetRecoverer(NewDefaultRecoverer(s.GetDevice(), nil, time.Millisecond, 2))
		runSession(t, s)

		require.Eventually(t, func() bool { return s.GetMetrics().PollCycles > 0 }, waitTimeout, time.Millisecond)
		tr.InjectError(errors.New("glitch"))

		require.Eventually(t, func() bool {
			return s.GetMetrics().Recoveries == 1
		}, waitTimeout, time.Millisecond)
		assert.EqualValues(t, 1, s.GetMetrics().PollErrors)
		err := s.Do(context.Background(), func(context.Context, *mfrc630.Device) error { return nil })
		assert.NoError(t, err, "session keeps running")
	})
}

func TestSession_CurrentPollInterval(t *testing.T) {
	t.Parallel()
	cfg := &Config{PollInterval: time.Millisecond, IdleInterval: time.Second, IdleAfter: time.Hour}
	s := NewSession(nil, cfg)
	assert.Equal(t, time.Millisecond, s.CurrentPollInterval())

	s.lastCardDetection.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	assert.Equal(t, time.Second, s.CurrentPollInterval())

	s.config.IdleInterval = 0
	assert.Equal(t, time.Millisecond, s.CurrentPollInterval())
}
