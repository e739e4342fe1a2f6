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

	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

// DeviceActor runs a Session on a background goroutine and stops it on
// request.
type DeviceActor struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	mu      syncutil.Mutex
}

// NewDeviceActor creates an actor for session. Nothing runs until Start.
func NewDeviceActor(session *Session) *DeviceActor {
	return &DeviceActor{session: session}
}

// Session returns the session the actor drives.
func (da *DeviceActor) Session() *Session {
	return da.session
}

// Start launches the polling goroutine. Starting a running actor is a
// no-op.
func (da *DeviceActor) Start(ctx context.Context) error {
	da.mu.Lock()
	defer da.mu.Unlock()

	if da.done != nil {
		select {
		case <-da.done:
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	da.cancel = cancel
	da.done = done
	da.err = nil

	go func() {
		defer close(done)
		err := da.session.Start(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		da.mu.Lock()
		da.err = err
		da.mu.Unlock()
	}()
	return nil
}

// Stop cancels the polling goroutine and waits for it to exit, or for ctx
// to end. It returns the error that ended polling, if any.
func (da *DeviceActor) Stop(ctx context.Context) error {
	da.mu.Lock()
	cancel, done := da.cancel, da.done
	da.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return da.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the polling goroutine exits. It is nil before Start.
func (da *DeviceActor) Done() <-chan struct{} {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.done
}

// Err returns the error that ended polling. Cancellation through Stop is
// not an error.
func (da *DeviceActor) Err() error {
	da.mu.Lock()
	defer da.mu.Unlock()
	return da.err
}
