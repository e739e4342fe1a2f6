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

// Package spi detects MFRC630 readers on SPI ports. SPI has no
// enumeration, so candidates come from a config file, the MFRC630_SPI_DEVICE
// environment variable and the spidev nodes present on Linux.
package spi

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZaparooProject/go-mfrc630/detection"
	"github.com/ZaparooProject/go-mfrc630/transport/spi"
)

// Config describes one SPI port that may have a reader attached.
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device" yaml:"device"`
	// Human-readable name
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Chip select pin (if using GPIO CS)
	CSPin int `json:"cs_pin,omitempty" yaml:"cs_pin,omitempty"`
}

const probeTimeout = 2 * time.Second

// probeFn is replaced in tests.
var probeFn = probeSPIDevice

type detector struct {
	configPaths []string
	spidevGlob  string
}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{
		configPaths: defaultConfigPaths(),
		spidevGlob:  "/dev/spidev*",
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

func defaultConfigPaths() []string {
	home := os.Getenv("HOME")
	return []string{
		"mfrc630-spi.yaml",
		"mfrc630-spi.json",
		".mfrc630-spi.json",
		filepath.Join(home, ".config", "mfrc630", "spi.yaml"),
		filepath.Join(home, ".config", "mfrc630", "spi.json"),
		"/etc/mfrc630/spi.yaml",
		"/etc/mfrc630/spi.json",
	}
}

// gatherConfigs collects SPI candidates from all sources, first source wins
// on duplicate device paths.
func (d *detector) gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile(d.configPaths)...)
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}
	if runtime.GOOS == "linux" {
		configs = append(configs, globSPIDevices(d.spidevGlob)...)
	}
	return deduplicateConfigs(configs)
}

func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	maps.Copy(device.Metadata, config.Metadata)
	if config.CSPin > 0 {
		device.Metadata["cs_pin"] = strconv.Itoa(config.CSPin)
	}
	if device.Name == "" {
		device.Name = "SPI device at " + config.Device
	}
	return device
}

// Detect probes each candidate port. In Passive mode every candidate is
// returned with Low confidence; otherwise only ports whose probe found a
// chip are returned.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := d.gatherConfigs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, config := range configs {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if opts.Mode != detection.Passive {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			result, err := probeFn(probeCtx, config.Device, opts.Mode)
			cancel()
			if err != nil || result.Confidence == detection.Low {
				continue
			}
			device.Confidence = result.Confidence
			maps.Copy(device.Metadata, result.Metadata())
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// loadConfigFile reads the first config file that parses. A file holds
// either one Config or a list of them, as YAML or JSON.
func loadConfigFile(paths []string) []Config {
	for _, path := range paths {
		data, err := os.ReadFile(path) // #nosec G304 -- fixed search path list
		if err != nil {
			continue
		}

		var configs []Config
		if err := yaml.Unmarshal(data, &configs); err == nil && len(configs) > 0 {
			return configs
		}
		var config Config
		if err := yaml.Unmarshal(data, &config); err == nil && config.Device != "" {
			return []Config{config}
		}
	}
	return nil
}

func loadEnvConfig() *Config {
	device := os.Getenv("MFRC630_SPI_DEVICE")
	if device == "" {
		return nil
	}

	config := Config{
		Device: device,
		Name:   "SPI device from environment",
	}
	if pin, err := strconv.Atoi(os.Getenv("MFRC630_SPI_CS_PIN")); err == nil {
		config.CSPin = pin
	}
	return &config
}

func globSPIDevices(pattern string) []Config {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	var configs []Config
	for _, path := range matches {
		if _, err := os.Stat(path); err == nil {
			configs = append(configs, Config{
				Device: path,
				Name:   "SPI device " + filepath.Base(path),
			})
		}
	}
	return configs
}

func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}
	return unique
}

// probeSPIDevice opens the port and reads the chip version. A single
// attempt only: retrying against a port with something else attached can
// upset that device.
func probeSPIDevice(ctx context.Context, path string, mode detection.Mode) (detection.ProbeResult, error) {
	transport, err := spi.New(path)
	if err != nil {
		return detection.ProbeResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = transport.Close() }()

	return detection.Probe(ctx, transport, mode)
}
