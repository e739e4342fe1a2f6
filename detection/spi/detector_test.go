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

//nolint:paralleltest // Tests swap the package-level probeFn and environment
package spi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/go-mfrc630/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubProbe(t *testing.T, fn func(context.Context, string, detection.Mode) (detection.ProbeResult, error)) {
	t.Helper()
	orig := probeFn
	probeFn = fn
	t.Cleanup(func() { probeFn = orig })
}

func newTestDetector(t *testing.T, configJSON string) *detector {
	t.Helper()

	dir := t.TempDir()
	var paths []string
	if configJSON != "" {
		path := filepath.Join(dir, "spi.json")
		require.NoError(t, os.WriteFile(path, []byte(configJSON), 0o600))
		paths = append(paths, path)
	}
	return &detector{
		configPaths: append(paths, filepath.Join(dir, "missing.json")),
		spidevGlob:  filepath.Join(dir, "spidev*"),
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.json")
	single := filepath.Join(dir, "single.json")
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(list, []byte(`[{"device":"/dev/spidev0.0"},{"device":"/dev/spidev0.1","cs_pin":8}]`), 0o600))
	require.NoError(t, os.WriteFile(single, []byte(`{"device":"/dev/spidev1.0","name":"hat"}`), 0o600))
	require.NoError(t, os.WriteFile(broken, []byte(`{device`), 0o600))

	configs := loadConfigFile([]string{broken, list, single})
	require.Len(t, configs, 2)
	assert.Equal(t, 8, configs[1].CSPin)

	configs = loadConfigFile([]string{single})
	require.Len(t, configs, 1)
	assert.Equal(t, "hat", configs[0].Name)

	assert.Nil(t, loadConfigFile([]string{broken}))
}

func TestLoadConfigFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spi.yaml")
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- device: /dev/spidev0.0\n  name: hat\n  cs_pin: 8\n  metadata:\n    board: pi\n"), 0o600))
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	configs := loadConfigFile([]string{empty, path})
	require.Len(t, configs, 1)
	assert.Equal(t, Config{
		Device:   "/dev/spidev0.0",
		Name:     "hat",
		CSPin:    8,
		Metadata: map[string]string{"board": "pi"},
	}, configs[0])
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("MFRC630_SPI_DEVICE", "")
	assert.Nil(t, loadEnvConfig())

	t.Setenv("MFRC630_SPI_DEVICE", "/dev/spidev0.1")
	t.Setenv("MFRC630_SPI_CS_PIN", "25")
	config := loadEnvConfig()
	require.NotNil(t, config)
	assert.Equal(t, "/dev/spidev0.1", config.Device)
	assert.Equal(t, 25, config.CSPin)
}

func TestDeduplicateAndDeviceInfo(t *testing.T) {
	configs := deduplicateConfigs([]Config{
		{Device: "/dev/spidev0.0", Name: "from file"},
		{Device: "/dev/spidev0.0", Name: "from glob"},
		{Device: "/dev/spidev0.1"},
	})
	require.Len(t, configs, 2)
	assert.Equal(t, "from file", configs[0].Name)

	info := createDeviceInfo(Config{Device: "/dev/spidev0.1", CSPin: 7, Metadata: map[string]string{"board": "hat"}})
	assert.Equal(t, "spi", info.Transport)
	assert.Equal(t, "SPI device at /dev/spidev0.1", info.Name)
	assert.Equal(t, "7", info.Metadata["cs_pin"])
	assert.Equal(t, "hat", info.Metadata["board"])
	assert.Equal(t, detection.Low, info.Confidence)
}

func TestDetect(t *testing.T) {
	t.Setenv("MFRC630_SPI_DEVICE", "")

	config := `[{"device":"/dev/spidev0.0"},{"device":"/dev/spidev0.1"},{"device":"/dev/spidev1.0"}]`

	t.Run("safe mode keeps confirmed chips", func(t *testing.T) {
		stubProbe(t, func(_ context.Context, path string, mode detection.Mode) (detection.ProbeResult, error) {
			assert.Equal(t, detection.Safe, mode)
			switch path {
			case "/dev/spidev0.0":
				return detection.ProbeResult{Version: detection.VersionV2, Confidence: detection.High}, nil
			case "/dev/spidev0.1":
				return detection.ProbeResult{Version: 0xFF, Confidence: detection.Low}, nil
			default:
				return detection.ProbeResult{}, errors.New("permission denied")
			}
		})

		devices, err := newTestDetector(t, config).Detect(context.Background(), &detection.Options{Mode: detection.Safe})
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "/dev/spidev0.0", devices[0].Path)
		assert.Equal(t, detection.High, devices[0].Confidence)
		assert.Equal(t, "0x1A", devices[0].Metadata["version"])
	})

	t.Run("passive mode does not probe", func(t *testing.T) {
		stubProbe(t, func(context.Context, string, detection.Mode) (detection.ProbeResult, error) {
			t.Fatal("passive mode probed a device")
			return detection.ProbeResult{}, nil
		})

		opts := &detection.Options{Mode: detection.Passive, IgnorePaths: []string{"/dev/spidev1.0"}}
		devices, err := newTestDetector(t, config).Detect(context.Background(), opts)
		require.NoError(t, err)
		assert.Len(t, devices, 2)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := newTestDetector(t, "").Detect(context.Background(), &detection.Options{Mode: detection.Safe})
		require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestDetector(t, config).Detect(ctx, &detection.Options{Mode: detection.Safe})
		require.ErrorIs(t, err, detection.ErrDetectionTimeout)
	})
}
