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
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithConfig replaces the whole device configuration.
func WithConfig(config *DeviceConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return fmt.Errorf("%w: nil device config", ErrInvalidParameter)
		}
		cfg := *config
		d.config = &cfg
		return nil
	}
}

// WithPollTimeout bounds how long a single command may run before the
// engine gives up and returns ErrTimeout.
func WithPollTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: poll timeout must be positive, got %v", ErrInvalidParameter, timeout)
		}
		d.config.PollTimeout = timeout
		return nil
	}
}

// WithPollInterval sets the sleep between IRQ register reads.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidParameter, interval)
		}
		d.config.PollInterval = interval
		return nil
	}
}

// WithResetSettle sets the delay Init waits after a soft reset.
func WithResetSettle(settle time.Duration) Option {
	return func(d *Device) error {
		if settle < 0 {
			return fmt.Errorf("%w: reset settle must not be negative", ErrInvalidParameter)
		}
		d.config.ResetSettle = settle
		return nil
	}
}

// WithFrameTimeout sets the Timer0 frame waiting time in 211.875 kHz ticks
// (about 4.7 us each).
func WithFrameTimeout(ticks uint16) Option {
	return func(d *Device) error {
		if ticks == 0 {
			return fmt.Errorf("%w: frame timeout must be non-zero", ErrInvalidParameter)
		}
		d.config.FrameTimeout = ticks
		return nil
	}
}

// WithPowerDownPin wires the PDOWN line. The pin is driven high to power the
// chip down and low to run it.
func WithPowerDownPin(pin gpio.PinOut) Option {
	return func(d *Device) error {
		d.powerDown = pin
		return nil
	}
}

// WithRetryConfig wraps the transport so that single-register accesses are
// retried on transient bus errors.
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		if tr, ok := d.transport.(*TransportWithRetry); ok {
			tr.SetRetryConfig(config)
			return nil
		}
		d.transport = NewTransportWithRetry(d.transport, config)
		return nil
	}
}

// WithTracing records the last depth register accesses and attaches them to
// returned errors as a *TraceableError.
func WithTracing(port string, depth int) Option {
	return func(d *Device) error {
		d.transport = NewTracingTransport(d.transport, port, depth)
		return nil
	}
}
