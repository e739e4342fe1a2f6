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
	"io"
	"runtime"
	"strings"
	"syscall"
)

// Error categories. Every error returned by the driver matches exactly one of
// ErrCommunication, ErrTimeout or ErrProtocol via errors.Is, or is caller
// misuse (ErrInvalidParameter) or a context error.
var (
	// ErrCommunication is a transport-level failure (bus NACK, I/O error).
	ErrCommunication = errors.New("communication error")
	// ErrTimeout means a command did not finish within its poll budget.
	ErrTimeout = errors.New("operation timeout")
	// ErrProtocol means the chip or card reported a framing, CRC or
	// collision error, or returned too little data.
	ErrProtocol = errors.New("protocol error")

	ErrInvalidParameter = errors.New("invalid parameter")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrPinNotWired      = errors.New("power-down pin not wired")
)

// Protocol error details.
var (
	ErrCollision      = fmt.Errorf("%w: bit collision", ErrProtocol)
	ErrCRC            = fmt.Errorf("%w: CRC or parity error", ErrProtocol)
	ErrShortResponse  = fmt.Errorf("%w: short response", ErrProtocol)
	ErrNAK            = fmt.Errorf("%w: card NAK", ErrProtocol)
	ErrConfigMismatch = fmt.Errorf("%w: register readback mismatch", ErrProtocol)
	ErrCascadeLevel   = fmt.Errorf("%w: UID exceeds three cascade levels", ErrProtocol)
)

// ErrNoResponse means the card stayed silent until the frame waiting time
// expired. It matches ErrTimeout.
var ErrNoResponse = fmt.Errorf("%w: no response from card", ErrTimeout)

// ErrNoTagPresent is returned by Discover when request yields a zero ATQA.
// Request and Wakeup themselves report an empty field as ATQA 0 with no error.
var ErrNoTagPresent = errors.New("no tag present")

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context.
// It always matches ErrCommunication.
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports every transport error as a communication error.
func (*TransportError) Is(target error) bool {
	return target == ErrCommunication
}

// ChipError carries the RegError value of a failed command that did not map
// to a more specific protocol error. It matches ErrProtocol.
type ChipError struct {
	Command string
	Code    byte
}

func (e *ChipError) Error() string {
	return fmt.Sprintf("%s error 0x%02X (%s)", e.Command, e.Code, chipErrorMeaning(e.Code))
}

func (*ChipError) Unwrap() error {
	return ErrProtocol
}

// chipErrorMeaning returns a human-readable list of the RegError bits set in code.
func chipErrorMeaning(code byte) string {
	names := []struct {
		name string
		bit  byte
	}{
		{"EEPROM error", ErrorEE},
		{"FIFO write error", ErrorFIFOWr},
		{"FIFO overflow", ErrorFIFOOvl},
		{"frame too short", ErrorMinFrame},
		{"no data", ErrorNoData},
		{"collision", ErrorCollDet},
		{"protocol error", ErrorProt},
		{"CRC/parity error", ErrorInteg},
	}
	var parts []string
	for _, n := range names {
		if code&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "no error"
	}
	return strings.Join(parts, ", ")
}

// decodeChipError maps RegError bits to the driver's error taxonomy.
// Collisions win over integrity errors since a collision usually corrupts the CRC too.
func decodeChipError(command string, code byte) error {
	switch {
	case code&ErrorCollDet != 0:
		return ErrCollision
	case code&ErrorInteg != 0:
		return ErrCRC
	default:
		return &ChipError{Command: command, Code: code}
	}
}

// IsCommunicationError reports whether err is a transport failure.
func IsCommunicationError(err error) bool {
	return errors.Is(err, ErrCommunication)
}

// IsTimeout reports whether err is a poll timeout or a silent card.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsProtocolError reports whether the chip or card rejected the exchange.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrInvalidParameter):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCollision),
		errors.Is(err, ErrCRC),
		errors.Is(err, ErrShortResponse):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/connection is gone
// and polling should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the bus adapter
// or serial bridge disappeared during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewBusError wraps a raw bus failure as a transient transport error.
func NewBusError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, err, ErrorTypeTransient)
}

// NewClosedError reports use of a closed transport (permanent).
func NewClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}
