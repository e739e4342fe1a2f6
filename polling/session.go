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

// Package polling watches a reader for cards coming and going. A Session
// owns its Device and runs every device access on the polling goroutine:
// callbacks, Do and WriteToNextTag all execute there, between polls.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ZaparooProject/go-mfrc630"
	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

var (
	// ErrSessionClosed is returned by calls made after Close.
	ErrSessionClosed = errors.New("polling session closed")
	// ErrSessionRunning is returned by Start when the session is already polling.
	ErrSessionRunning = errors.New("polling session already running")
)

// CardHandler runs on the polling goroutine while tag is selected. It may
// use device freely until it returns; the card is halted afterwards.
type CardHandler func(ctx context.Context, device *mfrc630.Device, tag *mfrc630.Tag) error

// SessionMetrics tracks operational metrics for a Session
type SessionMetrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of polling errors
	CardsDetected   int64         // Number of card arrivals and changes
	CallbackErrors  int64         // Number of callback errors and panics
	Recoveries      int64         // Number of successful device recoveries
	LastPollLatency time.Duration // Duration of last polling operation
}

type request struct {
	ctx  context.Context
	fn   func(context.Context, *mfrc630.Device) error
	done chan error
}

type pendingWrite struct {
	ctx  context.Context
	fn   CardHandler
	done chan error
}

// Session handles continuous card monitoring with state machine
type Session struct {
	id             string
	config         *Config
	recoverer      DeviceRecoverer
	onCardDetected CardHandler
	onCardChanged  CardHandler
	onCardRemoved  func()
	pending        *pendingWrite
	requests       chan request
	closing        chan struct{}
	device         atomic.Pointer[mfrc630.Device]
	state          CardState
	stateMutex     syncutil.RWMutex
	writeMutex     syncutil.Mutex
	closeOnce      sync.Once
	running        atomic.Bool
	paused         atomic.Bool

	// Touched only by the polling goroutine.
	consecutiveErrors int

	lastCardDetection atomic.Int64
	pollCycles        atomic.Int64
	pollErrors        atomic.Int64
	cardsDetected     atomic.Int64
	callbackErrors    atomic.Int64
	recoveries        atomic.Int64
	lastPollLatency   atomic.Int64
}

// NewSession creates a new card monitoring session. The device must be
// initialised and have its radio configured.
func NewSession(device *mfrc630.Device, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 1
	}

	s := &Session{
		id:       uuid.NewString(),
		config:   &cfg,
		requests: make(chan request),
		closing:  make(chan struct{}),
	}
	s.device.Store(device)
	s.lastCardDetection.Store(time.Now().UnixNano())
	return s
}

// ID identifies the session in debug and session log output.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) debugf(format string, args ...any) {
	mfrc630.Debugf("polling %s: "+format, append([]any{s.id[:8]}, args...)...)
}

// SetOnCardDetected sets the callback for when a card enters the field.
func (s *Session) SetOnCardDetected(callback CardHandler) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.onCardDetected = callback
}

// SetOnCardChanged sets the callback for when a different card replaces
// the present one without a removal in between. Without it, OnCardDetected
// is called instead.
func (s *Session) SetOnCardChanged(callback CardHandler) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.onCardChanged = callback
}

// SetOnCardRemoved sets the callback for when the card leaves the field.
func (s *Session) SetOnCardRemoved(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.onCardRemoved = callback
}

// SetRecoverer enables recovery after bus failures and host sleep. Call it
// before Start.
func (s *Session) SetRecoverer(recoverer DeviceRecoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = recoverer
}

// GetState returns the current card state
func (s *Session) GetState() CardState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetDevice returns the device currently polled. It changes after a
// recovery that reopened the reader.
func (s *Session) GetDevice() *mfrc630.Device {
	return s.device.Load()
}

// GetMetrics returns current operational metrics
func (s *Session) GetMetrics() SessionMetrics {
	return SessionMetrics{
		PollCycles:      s.pollCycles.Load(),
		PollErrors:      s.pollErrors.Load(),
		CardsDetected:   s.cardsDetected.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// CurrentPollInterval returns the interval until the next poll: the idle
// interval once no card has been seen for IdleAfter.
func (s *Session) CurrentPollInterval() time.Duration {
	if s.config.IdleInterval <= 0 {
		return s.config.PollInterval
	}
	last := time.Unix(0, s.lastCardDetection.Load())
	if time.Since(last) > s.config.IdleAfter {
		return s.config.IdleInterval
	}
	return s.config.PollInterval
}

// Start polls until ctx ends or Close is called. It blocks; run it on its
// own goroutine or through a DeviceActor. It returns nil after Close, the
// context error on cancellation, and a wrapped bus error when the reader
// stopped answering and could not be recovered.
func (s *Session) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)
	mfrc630.SessionLogNote("polling session %s started, interval %v", s.id, s.config.PollInterval)

	s.lastCardDetection.Store(time.Now().UnixNano())
	timer := time.NewTimer(0)
	defer timer.Stop()
	var lastPoll time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		case req := <-s.requests:
			req.done <- safeRun(func() error { return req.fn(req.ctx, s.device.Load()) })
		case now := <-timer.C:
			if !lastPoll.IsZero() && s.config.SleepRecovery.DetectSleep(now.Sub(lastPoll), s.CurrentPollInterval()) {
				s.recoverAfterSleep(ctx, now.Sub(lastPoll))
			}
			lastPoll = time.Now()
			if !s.paused.Load() {
				if err := s.pollOnce(ctx); err != nil {
					return err
				}
			}
			timer.Reset(s.CurrentPollInterval())
		}
	}
}

// Close stops a running Start and fails pending and future Do and
// WriteToNextTag calls. It does not close the device.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	return nil
}

// Pause stops polling until Resume. When it returns no poll is in flight.
// Do still runs while paused; WriteToNextTag waits.
func (s *Session) Pause(ctx context.Context) error {
	s.paused.Store(true)
	if !s.running.Load() {
		return nil
	}
	err := s.Do(ctx, func(context.Context, *mfrc630.Device) error { return nil })
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Resume restarts polling after Pause
func (s *Session) Resume() {
	s.paused.Store(false)
}

// Do runs fn on the polling goroutine between polls. It waits for a
// running session; without one it returns when ctx ends.
func (s *Session) Do(ctx context.Context, fn func(context.Context, *mfrc630.Device) error) error {
	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closing:
		return ErrSessionClosed
	}
	return <-req.done
}

// WriteToNextTag runs fn on the next card the session selects, which may
// be the card already present. A positive timeout bounds the wait.
func (s *Session) WriteToNextTag(ctx context.Context, timeout time.Duration, fn CardHandler) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op := &pendingWrite{ctx: ctx, fn: fn, done: make(chan error, 1)}
	s.stateMutex.Lock()
	s.pending = op
	s.stateMutex.Unlock()

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return s.withdraw(op, ctx.Err())
	case <-s.closing:
		return s.withdraw(op, ErrSessionClosed)
	}
}

// withdraw removes op unless the polling goroutine already took it, in
// which case it waits for that run.
func (s *Session) withdraw(op *pendingWrite, err error) error {
	s.stateMutex.Lock()
	taken := s.pending != op
	if !taken {
		s.pending = nil
	}
	s.stateMutex.Unlock()
	if taken {
		return <-op.done
	}
	return err
}

func (s *Session) pollOnce(ctx context.Context) error {
	device := s.device.Load()
	start := time.Now()
	tag, err := device.WakeAndSelect(ctx)
	s.pollCycles.Add(1)
	s.lastPollLatency.Store(int64(time.Since(start)))

	switch {
	case err == nil:
		s.consecutiveErrors = 0
		s.handleTag(ctx, device, tag)
		return s.haltTag(ctx, device)
	case errors.Is(err, mfrc630.ErrNoTagPresent):
		s.consecutiveErrors = 0
		s.checkRemoval(time.Now())
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		s.pollErrors.Add(1)
		return s.handlePollingError(ctx, err)
	}
}

func (s *Session) haltTag(ctx context.Context, device *mfrc630.Device) error {
	err := device.Halt(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case mfrc630.IsCommunicationError(err):
		s.pollErrors.Add(1)
		return s.handlePollingError(ctx, err)
	default:
		s.debugf("halt: %v", err)
		return nil
	}
}

// handlePollingError decides whether a failed poll ends the session.
// Field-level errors are expected while a card slides in and are ignored.
func (s *Session) handlePollingError(ctx context.Context, err error) error {
	if !mfrc630.IsCommunicationError(err) {
		s.debugf("field error: %v", err)
		return nil
	}

	s.handleCardRemoval()
	s.consecutiveErrors++
	if s.consecutiveErrors < s.config.MaxConsecutiveErrors && !mfrc630.IsFatal(err) {
		return nil
	}

	s.stateMutex.RLock()
	recoverer := s.recoverer
	s.stateMutex.RUnlock()
	if recoverer == nil {
		return fmt.Errorf("polling stopped after %d bus errors: %w", s.consecutiveErrors, err)
	}
	if recErr := s.recover(ctx, recoverer); recErr != nil {
		return fmt.Errorf("polling stopped: %w", recErr)
	}
	return nil
}

func (s *Session) recover(ctx context.Context, recoverer DeviceRecoverer) error {
	if err := recoverer.AttemptRecovery(ctx); err != nil {
		return err
	}
	s.device.Store(recoverer.GetDevice())
	s.consecutiveErrors = 0
	s.recoveries.Add(1)
	return nil
}

func (s *Session) recoverAfterSleep(ctx context.Context, gap time.Duration) {
	s.debugf("%v since last poll, host probably slept", gap)
	s.stateMutex.RLock()
	recoverer := s.recoverer
	s.stateMutex.RUnlock()
	if recoverer == nil {
		return
	}
	if err := s.recover(ctx, recoverer); err != nil {
		s.debugf("recovery after sleep failed: %v", err)
	}
}

func (s *Session) handleTag(ctx context.Context, device *mfrc630.Device, tag *mfrc630.Tag) {
	now := time.Now()
	uid := tag.UIDString()

	s.stateMutex.Lock()
	wasPresent := s.state.Present
	changed := wasPresent && s.state.LastUID != uid
	s.state.TransitionToReading(now)
	onDetected, onChanged := s.onCardDetected, s.onCardChanged
	write := s.pending
	s.pending = nil
	s.stateMutex.Unlock()

	s.lastCardDetection.Store(now.UnixNano())
	if !wasPresent || changed {
		s.cardsDetected.Add(1)
	}

	switch {
	case !wasPresent:
		s.runCallback(ctx, "OnCardDetected", onDetected, device, tag)
	case changed && onChanged != nil:
		s.runCallback(ctx, "OnCardChanged", onChanged, device, tag)
	case changed:
		s.runCallback(ctx, "OnCardDetected", onDetected, device, tag)
	}

	if write != nil {
		write.done <- safeRun(func() error { return write.fn(write.ctx, device, tag) })
	}

	s.stateMutex.Lock()
	s.state.TransitionToDetected(tag, time.Now())
	s.stateMutex.Unlock()
}

func (s *Session) runCallback(
	ctx context.Context,
	name string,
	callback CardHandler,
	device *mfrc630.Device,
	tag *mfrc630.Tag,
) {
	if callback == nil {
		return
	}
	if err := safeRun(func() error { return callback(ctx, device, tag) }); err != nil {
		s.callbackErrors.Add(1)
		s.debugf("%s callback: %v", name, err)
	}
}

// checkRemoval reports removal once a present card has missed polls for
// CardRemovalTimeout.
func (s *Session) checkRemoval(now time.Time) {
	s.stateMutex.Lock()
	due := s.state.RemovalDue(now, s.config.CardRemovalTimeout)
	s.stateMutex.Unlock()
	if due {
		s.handleCardRemoval()
	}
}

// handleCardRemoval resets the state and fires OnCardRemoved if a card
// was present.
func (s *Session) handleCardRemoval() {
	s.stateMutex.Lock()
	wasPresent := s.state.Present
	if wasPresent {
		s.state.TransitionToIdle()
	}
	onRemoved := s.onCardRemoved
	s.stateMutex.Unlock()

	if wasPresent && onRemoved != nil {
		err := safeRun(func() error {
			onRemoved()
			return nil
		})
		if err != nil {
			s.callbackErrors.Add(1)
			s.debugf("OnCardRemoved callback: %v", err)
		}
	}
}

// safeRun calls fn and turns a panic into an error.
func safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn()
}
