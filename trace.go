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
	"errors"
	"fmt"
	"strings"
	"time"
)

// TraceDirection tells whether a traced frame went to or came from the chip.
type TraceDirection string

const (
	TraceTX TraceDirection = "TX"
	TraceRX TraceDirection = "RX"
)

// maxTraceBytes bounds how much of a frame is rendered in traces.
const maxTraceBytes = 32

// TraceEntry is one register or FIFO access seen on the bus.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) String() string {
	line := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, formatHexBytes(e.Data))
	if e.Note != "" {
		line += " (" + e.Note + ")"
	}
	return line
}

// TraceableError carries the bus traffic that preceded a failure. Use
// GetTrace or errors.As to get at it:
//
//	if te := mfrc630.GetTrace(err); te != nil {
//	    log.Printf("bus trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one frame per line, ">" for frames sent to
// the chip and "<" for frames read back.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		fmt.Fprintf(&sb, "  %s %s", arrow, formatHexBytes(entry.Data))
		if entry.Note != "" {
			fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// GetTrace returns the trace attached to err, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

func formatHexBytes(data []byte) string {
	switch {
	case len(data) == 0:
		return "(empty)"
	case len(data) > maxTraceBytes:
		return fmt.Sprintf("% X ... (%d bytes total)", data[:maxTraceBytes], len(data))
	default:
		return fmt.Sprintf("% X", data)
	}
}

// TraceBuffer keeps the most recent bus accesses in a ring. It is not safe
// for concurrent use; TracingTransport relies on the Device lock.
type TraceBuffer struct {
	transport string
	port      string
	ring      []TraceEntry
	start     int
	n         int
}

// NewTraceBuffer returns a buffer holding up to depth entries, 16 when depth
// is not positive.
func NewTraceBuffer(transport, port string, depth int) *TraceBuffer {
	if depth <= 0 {
		depth = 16
	}
	return &TraceBuffer{
		transport: transport,
		port:      port,
		ring:      make([]TraceEntry, depth),
	}
}

func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	if tb.n < len(tb.ring) {
		tb.ring[(tb.start+tb.n)%len(tb.ring)] = entry
		tb.n++
		return
	}
	tb.ring[tb.start] = entry
	tb.start = (tb.start + 1) % len(tb.ring)
}

// entries returns the buffered entries oldest first, in a fresh slice.
func (tb *TraceBuffer) entries() []TraceEntry {
	out := make([]TraceEntry, tb.n)
	for i := range out {
		out[i] = tb.ring[(tb.start+i)%len(tb.ring)]
	}
	return out
}

// WrapError attaches a snapshot of the buffer to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Transport: tb.transport,
		Port:      tb.port,
		Trace:     tb.entries(),
	}
}

func (tb *TraceBuffer) Clear() {
	tb.start, tb.n = 0, 0
}

func (tb *TraceBuffer) Len() int {
	return tb.n
}
