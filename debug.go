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
	"os"
	"strings"
)

// Verbosity selects how much the driver writes to the console.
type Verbosity int

const (
	// VerbosityRelease prints nothing.
	VerbosityRelease Verbosity = iota
	// VerbosityDebug prints command-level messages.
	VerbosityDebug
	// VerbosityTrace additionally prints every register access.
	VerbosityTrace
)

var verbosity = VerbosityRelease

func init() {
	verbosity = parseVerbosity(os.Getenv("MFRC630_DEBUG"))
	if verbosity == VerbosityRelease && os.Getenv("DEBUG") != "" {
		verbosity = VerbosityDebug
	}
}

// parseVerbosity maps an environment value to a level. Any non-empty value
// other than "trace" or "0" enables debug output.
func parseVerbosity(v string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "off":
		return VerbosityRelease
	case "trace", "2":
		return VerbosityTrace
	default:
		return VerbosityDebug
	}
}

func logLine(level string, enabled bool, message string) {
	session.printf("%s: %s", level, message)
	if enabled {
		_, _ = fmt.Printf("%s: %s\n", level, message)
	}
}

// Debugf prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugf(format string, args ...any) {
	logLine("DEBUG", verbosity >= VerbosityDebug, fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugln(args ...any) {
	logLine("DEBUG", verbosity >= VerbosityDebug, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// Tracef logs a register-level event. It is only formatted when trace
// verbosity or a session log is active, since it runs on every bus access.
func Tracef(format string, args ...any) {
	if verbosity < VerbosityTrace && !session.active() {
		return
	}
	logLine("TRACE", verbosity >= VerbosityTrace, fmt.Sprintf(format, args...))
}

// SetDebugEnabled allows programmatic control of debug logging
// Useful for testing or application-controlled debug modes
func SetDebugEnabled(enabled bool) {
	if enabled {
		if verbosity < VerbosityDebug {
			verbosity = VerbosityDebug
		}
		return
	}
	verbosity = VerbosityRelease
}

// SetVerbosity sets the console verbosity level.
func SetVerbosity(v Verbosity) {
	verbosity = v
}

// DebugEnabled reports whether debug output goes to the console.
func DebugEnabled() bool {
	return verbosity >= VerbosityDebug
}
