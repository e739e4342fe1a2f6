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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-mfrc630/internal/syncutil"
)

const logTimeFormat = "15:04:05.000"

// sessionLog mirrors every Debugf, Tracef and SessionLogNote line into a
// file, whatever the console verbosity. Polling goroutines write to it
// concurrently.
type sessionLog struct {
	w    io.Writer
	file *os.File
	path string
	mu   syncutil.Mutex
}

var session sessionLog

func (l *sessionLog) active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w != nil
}

func (l *sessionLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	_, _ = fmt.Fprintf(l.w, "%s "+format+"\n", append([]any{time.Now().Format(logTimeFormat)}, args...)...)
}

func (l *sessionLog) open(dir string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.closeLocked(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("mfrc630_%s.log", time.Now().Format("20060102_150405"))
	if dir != "" {
		name = filepath.Join(dir, name)
	}
	f, err := os.Create(name) //nolint:gosec // name is built from a timestamp
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	l.file, l.path, l.w = f, name, f
	writeSessionHeader(f)
	return name, nil
}

func (l *sessionLog) closeLocked() error {
	if l.file == nil {
		return nil
	}
	_, _ = fmt.Fprintf(l.w, "\n%s === Session ended ===\n", time.Now().Format(logTimeFormat))
	err := l.file.Close()
	l.file, l.path, l.w = nil, "", nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// InitSessionLog starts a session log in the current directory and returns
// its path.
func InitSessionLog() (string, error) {
	return session.open("")
}

// InitSessionLogIn starts a session log inside dir, closing any log that is
// already open.
func InitSessionLogIn(dir string) (string, error) {
	return session.open(dir)
}

// CloseSessionLog writes the footer and closes the session log, if any.
func CloseSessionLog() error {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.closeLocked()
}

// GetSessionLogPath returns the open session log's path, or "".
func GetSessionLogPath() string {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.path
}

// SessionLogNote appends a marker line such as the chip version after Init
// or the card being tested. It never reaches the console.
func SessionLogNote(format string, args ...any) {
	session.printf("NOTE: %s", fmt.Sprintf(format, args...))
}

func writeSessionHeader(w io.Writer) {
	exe, err := os.Executable()
	if err != nil {
		exe = "unknown"
	}
	fields := []struct{ name, value string }{
		{"Started", time.Now().Format(time.RFC3339)},
		{"PID", fmt.Sprint(os.Getpid())},
		{"OS", runtime.GOOS + "/" + runtime.GOARCH},
		{"Go Version", runtime.Version()},
		{"Executable", exe},
		{"Command Line", strings.Join(os.Args, " ")},
		{"Verbosity", fmt.Sprint(int(verbosity))},
	}
	_, _ = fmt.Fprintln(w, "=== MFRC630 Debug Session Log ===")
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s: %s\n", f.name, f.value)
	}
	_, _ = fmt.Fprint(w, "=================================\n\n")
}
