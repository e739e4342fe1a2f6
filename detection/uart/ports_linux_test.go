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

//go:build linux

package uart

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o600))
	}
}

// fakeSysfs builds a tty class directory with one CH340 adapter and one
// platform UART, plus the matching device nodes.
func fakeSysfs(t *testing.T) sysfs {
	t.Helper()
	root := t.TempDir()
	ttyDir := filepath.Join(root, "class", "tty")
	devDir := filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(ttyDir, 0o755))
	require.NoError(t, os.MkdirAll(devDir, 0o755))

	usbDev := filepath.Join(root, "devices", "usb1", "1-1")
	usbIface := filepath.Join(usbDev, "1-1:1.0", "ttyUSB0")
	writeAttrs(t, usbDev, map[string]string{
		"idVendor":     "1a86",
		"idProduct":    "7523",
		"manufacturer": "QinHeng",
		"product":      "USB Serial",
	})
	require.NoError(t, os.MkdirAll(usbIface, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(ttyDir, "ttyUSB0"), 0o755))
	require.NoError(t, os.Symlink(usbIface, filepath.Join(ttyDir, "ttyUSB0", "device")))

	platform := filepath.Join(root, "devices", "platform", "serial8250")
	require.NoError(t, os.MkdirAll(platform, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(ttyDir, "ttyS0"), 0o755))
	require.NoError(t, os.Symlink(platform, filepath.Join(ttyDir, "ttyS0", "device")))

	for _, node := range []string{"ttyUSB0", "ttyS0"} {
		require.NoError(t, os.WriteFile(filepath.Join(devDir, node), nil, 0o600))
	}

	return sysfs{ttyDir: ttyDir, devDir: devDir}
}

func TestSysfsPorts(t *testing.T) {
	t.Parallel()
	fs := fakeSysfs(t)

	ports, err := fs.ports(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)

	usb := ports[0]
	assert.Equal(t, filepath.Join(fs.devDir, "ttyUSB0"), usb.Path)
	assert.Equal(t, "1A86:7523", usb.VIDPID)
	assert.Equal(t, "QinHeng", usb.Manufacturer)
	assert.Equal(t, "USB Serial", usb.Product)
	assert.Empty(t, usb.SerialNumber)

	assert.Equal(t, "ttyS0", ports[1].Name)
	assert.Empty(t, ports[1].VIDPID)
}

func TestSysfsPorts_FallbackGlob(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	devDir := filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(devDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "ttyACM0"), nil, 0o600))

	fs := sysfs{ttyDir: filepath.Join(root, "missing"), devDir: devDir}
	ports, err := fs.ports(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "ttyACM0", ports[0].Name)
}
