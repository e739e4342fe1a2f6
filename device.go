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

	"github.com/ZaparooProject/go-mfrc630/detection"
	"periph.io/x/conn/v3/gpio"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// PollTimeout bounds the IRQ poll loop of a single command.
	PollTimeout time.Duration
	// PollInterval is the sleep between IRQ register reads.
	PollInterval time.Duration
	// ResetSettle is how long Init waits after power-up and soft reset.
	ResetSettle time.Duration
	// FrameTimeout is the Timer0 reload value used as the card's frame
	// waiting time, in 211.875 kHz ticks.
	FrameTimeout uint16
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		PollTimeout:  50 * time.Millisecond,
		PollInterval: time.Millisecond,
		ResetSettle:  10 * time.Millisecond,
		FrameTimeout: defaultFrameTicks,
	}
}

// Device represents an MFRC630 front-end.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization. Card state
// (selected card, Crypto1 session) lives in the chip and the card, so two
// goroutines sharing one chip would corrupt each other's sessions anyway.
type Device struct {
	transport Transport
	config    *DeviceConfig
	powerDown gpio.PinOut
	version   byte
	lastATQA  uint16
}

// New creates a new device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Config returns a copy of the active configuration.
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// Init brings the chip into a known state: releases power-down, soft resets
// and reads the version register. Unknown versions are logged, not rejected,
// since CLRC663 derivatives report their own values.
func (d *Device) Init(ctx context.Context) error {
	if d.powerDown != nil {
		if err := d.SetPowerDown(false); err != nil {
			return err
		}
		if err := sleepCtx(ctx, d.config.ResetSettle); err != nil {
			return err
		}
	}

	if err := d.SoftReset(ctx); err != nil {
		return fmt.Errorf("soft reset failed: %w", err)
	}
	if err := sleepCtx(ctx, d.config.ResetSettle); err != nil {
		return err
	}

	version, err := d.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	d.version = version

	switch version {
	case VersionMFRC630v1:
		Debugf("MFRC630 v1 detected (version 0x%02X)", version)
	case VersionMFRC630v2:
		Debugf("MFRC630 v2/CLRC663 detected (version 0x%02X)", version)
	default:
		Debugf("unknown chip version 0x%02X, continuing", version)
	}
	SessionLogNote("chip version 0x%02X on %s", version, TypeOf(d.transport))

	return nil
}

// ChipVersion returns the version read during Init, or 0 before Init.
func (d *Device) ChipVersion() byte {
	return d.version
}

// SetPowerDown drives the PDOWN pin. It returns ErrPinNotWired when the
// device was built without WithPowerDownPin.
func (d *Device) SetPowerDown(down bool) error {
	if d.powerDown == nil {
		return ErrPinNotWired
	}
	level := gpio.Low
	if down {
		level = gpio.High
	}
	if err := d.powerDown.Out(level); err != nil {
		return fmt.Errorf("failed to drive power-down pin: %w", err)
	}
	return nil
}

// Close powers the chip down (if the pin is wired) and closes the transport.
func (d *Device) Close() error {
	var pinErr error
	if d.powerDown != nil {
		pinErr = d.SetPowerDown(true)
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return pinErr
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         func(context.Context, *detection.Options) ([]detection.DeviceInfo, error)
	deviceOptions          []Option
	connectionRetries      int
	autoDetect             bool
	configureRadio         bool
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

// WithoutRadioConfig leaves the radio unconfigured after Init.
func WithoutRadioConfig() ConnectOption {
	return func(c *connectConfig) error {
		c.configureRadio = false
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		connectionRetries: 3,
		configureRadio:    true,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

// ConnectDevice opens a transport for path (or the first detected reader),
// initializes the chip and configures the ISO14443A radio profile.
//
// Example usage:
//
//	device, err := mfrc630.ConnectDevice(ctx, "/dev/i2c-1",
//	    mfrc630.WithTransportFactory(i2c.New))
//
//	device, err := mfrc630.ConnectDevice(ctx, "", mfrc630.WithAutoDetection(),
//	    mfrc630.WithTransportFromDeviceFactory(openDetected))
func ConnectDevice(ctx context.Context, path string, opts ...ConnectOption) (*Device, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	transport, err := createTransport(ctx, path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	device, err := setupDeviceWithRetry(ctx, transport, config)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	return device, nil
}

func createTransport(ctx context.Context, path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(ctx, config)
	}
	if config.transportFactory == nil {
		return nil, errors.New("transport factory not provided")
	}
	transport, err := config.transportFactory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}
	return transport, nil
}

func createAutoDetectedTransport(ctx context.Context, config *connectConfig) (Transport, error) {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe

	detect := config.deviceDetector
	if detect == nil {
		detect = detection.DetectAll
	}

	devices, err := detect(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no MFRC630 readers detected", ErrDeviceNotFound)
	}
	if config.transportDeviceFactory == nil {
		return nil, errors.New("transport device factory not provided")
	}

	Debugf("using detected reader %s", devices[0])
	return config.transportDeviceFactory(devices[0])
}

func setupDevice(ctx context.Context, transport Transport, config *connectConfig) (*Device, error) {
	device, err := New(transport, config.deviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	if config.configureRadio {
		if err := device.Configure(ctx, RadioISO14443A106); err != nil {
			return nil, fmt.Errorf("failed to configure radio: %w", err)
		}
	}
	return device, nil
}

func setupDeviceWithRetry(ctx context.Context, transport Transport, config *connectConfig) (*Device, error) {
	if config.autoDetect {
		return setupDevice(ctx, transport, config)
	}

	device, err := Retry(ctx, ConnectionRetryConfig(config.connectionRetries), func() (*Device, error) {
		return setupDevice(ctx, transport, config)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup device after %d attempts: %w", config.connectionRetries, err)
	}
	return device, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
