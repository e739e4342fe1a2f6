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

	"github.com/ZaparooProject/go-mfrc630/detection"
	testutil "github.com/ZaparooProject/go-mfrc630/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tr := testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630())
	device, err := New(tr)
	require.NoError(t, err)
	assert.Equal(t, tr, device.Transport())
	assert.Equal(t, *DefaultDeviceConfig(), device.Config())
	assert.Zero(t, device.ChipVersion())

	device, err = New(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Nil(t, device)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check   func(*testing.T, DeviceConfig)
		opt     Option
		name    string
		wantErr bool
	}{
		{
			name:  "poll timeout",
			opt:   WithPollTimeout(time.Second),
			check: func(t *testing.T, c DeviceConfig) { assert.Equal(t, time.Second, c.PollTimeout) },
		},
		{name: "zero poll timeout", opt: WithPollTimeout(0), wantErr: true},
		{
			name:  "poll interval",
			opt:   WithPollInterval(5 * time.Millisecond),
			check: func(t *testing.T, c DeviceConfig) { assert.Equal(t, 5*time.Millisecond, c.PollInterval) },
		},
		{name: "negative poll interval", opt: WithPollInterval(-time.Millisecond), wantErr: true},
		{
			name:  "zero reset settle",
			opt:   WithResetSettle(0),
			check: func(t *testing.T, c DeviceConfig) { assert.Zero(t, c.ResetSettle) },
		},
		{name: "negative reset settle", opt: WithResetSettle(-time.Second), wantErr: true},
		{
			name:  "frame timeout",
			opt:   WithFrameTimeout(4000),
			check: func(t *testing.T, c DeviceConfig) { assert.Equal(t, uint16(4000), c.FrameTimeout) },
		},
		{name: "zero frame timeout", opt: WithFrameTimeout(0), wantErr: true},
		{
			name: "whole config",
			opt:  WithConfig(&DeviceConfig{PollTimeout: time.Second, PollInterval: time.Millisecond, FrameTimeout: 10}),
			check: func(t *testing.T, c DeviceConfig) {
				assert.Equal(t, time.Second, c.PollTimeout)
				assert.Equal(t, uint16(10), c.FrameTimeout)
			},
		},
		{name: "nil config", opt: WithConfig(nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630())
			device, err := New(tr, tt.opt)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParameter)
				assert.Nil(t, device)
				return
			}
			require.NoError(t, err)
			tt.check(t, device.Config())
		})
	}
}

func TestWithConfig_Copies(t *testing.T) {
	t.Parallel()

	cfg := DefaultDeviceConfig()
	device, err := New(testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630()), WithConfig(cfg))
	require.NoError(t, err)

	cfg.PollTimeout = time.Hour
	assert.Equal(t, 50*time.Millisecond, device.Config().PollTimeout)
}

func TestDevice_Init(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version byte
	}{
		{name: "v1", version: VersionMFRC630v1},
		{name: "v2", version: VersionMFRC630v2},
		{name: "unknown version is accepted", version: 0x99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, sim, _ := newRawSimDevice(t)
			sim.SetVersion(tt.version)

			require.NoError(t, device.Init(context.Background()))
			assert.Equal(t, tt.version, device.ChipVersion())
			assert.Equal(t, 1, sim.CommandCount(CmdSoftReset))
		})
	}
}

func TestDevice_InitTransportFailure(t *testing.T) {
	t.Parallel()

	device, _, tr := newRawSimDevice(t)
	tr.FailAfter(1)

	err := device.Init(context.Background())
	require.Error(t, err)
	assert.True(t, IsCommunicationError(err))
	assert.Contains(t, err.Error(), "failed to read version")
}

func TestDevice_InitCanceled(t *testing.T) {
	t.Parallel()

	device, _, _ := newRawSimDevice(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, device.Init(ctx), context.Canceled)
}

func TestDevice_PowerDownPin(t *testing.T) {
	t.Parallel()

	pin := &gpiotest.Pin{N: "PDOWN", L: gpio.High}
	tr := testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630())
	device, err := New(tr, WithPowerDownPin(pin), WithResetSettle(0))
	require.NoError(t, err)

	require.NoError(t, device.Init(context.Background()))
	assert.Equal(t, gpio.Low, pin.L, "Init releases power-down")

	require.NoError(t, device.SetPowerDown(true))
	assert.Equal(t, gpio.High, pin.L)
	require.NoError(t, device.SetPowerDown(false))

	require.NoError(t, device.Close())
	assert.Equal(t, gpio.High, pin.L, "Close powers the chip down")
	assert.False(t, tr.IsConnected())
}

func TestDevice_PowerDownPinNotWired(t *testing.T) {
	t.Parallel()

	device, _, tr := newRawSimDevice(t)
	assert.ErrorIs(t, device.SetPowerDown(true), ErrPinNotWired)

	require.NoError(t, device.Close())
	assert.False(t, tr.IsConnected())
}

func TestWithRetryConfig(t *testing.T) {
	t.Parallel()

	tr := testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630())
	cfg := &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	device, err := New(tr, WithRetryConfig(cfg), WithRetryConfig(cfg))
	require.NoError(t, err)

	wrapped, ok := device.Transport().(*TransportWithRetry)
	require.True(t, ok)
	assert.Equal(t, Transport(tr), wrapped.Unwrap(), "the wrapper is not stacked")

	tr.InjectError(NewBusError("read", "sim", errors.New("nack")))
	version, err := device.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(testutil.DefaultVersion), version)
}

func TestWithTracing(t *testing.T) {
	t.Parallel()

	tr := testutil.NewSimulatorTransport(testutil.NewVirtualMFRC630())
	device, err := New(tr, WithTracing("sim0", 8))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = device.Version(ctx)
	require.NoError(t, err)

	tr.InjectError(errors.New("bus fault"))
	_, err = device.Version(ctx)
	require.Error(t, err)
	assert.True(t, IsCommunicationError(err))

	trace := GetTrace(err)
	require.NotNil(t, trace)
	assert.Equal(t, "sim0", trace.Port)
	assert.Len(t, trace.Trace, 3, "previous read, its value and the failed read")
}

func newConnectTransport(t *testing.T, sim *testutil.VirtualMFRC630) *testutil.SimulatorTransport {
	t.Helper()
	return testutil.NewSimulatorTransport(sim)
}

func fastDeviceOptions() ConnectOption {
	return WithDeviceOptions(WithResetSettle(0), WithPollTimeout(testPollTimeout), WithPollInterval(testPollInterval))
}

func TestConnectDevice(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC630()
	tr := newConnectTransport(t, sim)
	var gotPath string

	device, err := ConnectDevice(context.Background(), "/dev/i2c-1",
		WithTransportFactory(func(path string) (Transport, error) {
			gotPath = path
			return tr, nil
		}),
		fastDeviceOptions(),
	)
	require.NoError(t, err)
	assert.Equal(t, "/dev/i2c-1", gotPath)
	assert.Equal(t, byte(testutil.DefaultVersion), device.ChipVersion())
	assert.True(t, sim.GetState().FieldOn, "radio is configured by default")
}

func TestConnectDevice_WithoutRadioConfig(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC630()
	tr := newConnectTransport(t, sim)

	_, err := ConnectDevice(context.Background(), "/dev/spidev0.0",
		WithTransportFactory(func(string) (Transport, error) { return tr, nil }),
		WithoutRadioConfig(),
		fastDeviceOptions(),
	)
	require.NoError(t, err)
	assert.False(t, sim.GetState().FieldOn)
}

func TestConnectDevice_Errors(t *testing.T) {
	t.Parallel()

	factoryErr := errors.New("no such bus")

	tests := []struct {
		wantErr error
		name    string
		path    string
		opts    []ConnectOption
	}{
		{
			name: "missing factory",
			path: "/dev/i2c-1",
		},
		{
			name:    "factory failure",
			path:    "/dev/i2c-1",
			opts:    []ConnectOption{WithTransportFactory(func(string) (Transport, error) { return nil, factoryErr })},
			wantErr: factoryErr,
		},
		{
			name: "invalid retry count",
			path: "/dev/i2c-1",
			opts: []ConnectOption{WithConnectionRetries(0)},
		},
		{
			name: "nothing detected",
			opts: []ConnectOption{WithDeviceDetector(
				func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) { return nil, nil },
			)},
			wantErr: ErrDeviceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, err := ConnectDevice(context.Background(), tt.path, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, device)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConnectDevice_AutoDetect(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC630()
	tr := newConnectTransport(t, sim)
	found := detection.DeviceInfo{Transport: "i2c", Path: "/dev/i2c-1", Name: "MFRC630 at 0x28"}
	var opened detection.DeviceInfo

	device, err := ConnectDevice(context.Background(), "",
		WithAutoDetection(),
		WithDeviceDetector(func(_ context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
			assert.Equal(t, detection.Safe, opts.Mode)
			return []detection.DeviceInfo{found}, nil
		}),
		WithTransportFromDeviceFactory(func(info detection.DeviceInfo) (Transport, error) {
			opened = info
			return tr, nil
		}),
		fastDeviceOptions(),
	)
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, found.Path, opened.Path)
}

func TestConnectDevice_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC630()
	tr := newConnectTransport(t, sim)
	tr.InjectError(NewBusError("write", "sim", errors.New("nack")))

	device, err := ConnectDevice(context.Background(), "sim",
		WithTransportFactory(func(string) (Transport, error) { return tr, nil }),
		WithConnectionRetries(2),
		fastDeviceOptions(),
	)
	require.NoError(t, err)
	assert.NotNil(t, device)
	assert.Equal(t, 1, sim.CommandCount(CmdSoftReset), "the first soft reset never reached the chip")
}

func TestConnectDevice_ClosesTransportOnFailure(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC630()
	sim.SetStickyRegister(RegDrvMode, 0x00)
	tr := newConnectTransport(t, sim)

	_, err := ConnectDevice(context.Background(), "sim",
		WithTransportFactory(func(string) (Transport, error) { return tr, nil }),
		WithConnectionRetries(1),
		fastDeviceOptions(),
	)
	require.ErrorIs(t, err, ErrConfigMismatch)
	assert.False(t, tr.IsConnected())
}
