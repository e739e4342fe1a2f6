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

// Command mfrc630-reader prints the cards that enter the field of an
// MFRC630 reader and can dump MIFARE Classic sectors.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/ZaparooProject/go-mfrc630"
	"github.com/ZaparooProject/go-mfrc630/detection"
	_ "github.com/ZaparooProject/go-mfrc630/detection/i2c"
	_ "github.com/ZaparooProject/go-mfrc630/detection/spi"
	_ "github.com/ZaparooProject/go-mfrc630/detection/uart"
	"github.com/ZaparooProject/go-mfrc630/polling"
	"github.com/ZaparooProject/go-mfrc630/tagops"
	"github.com/ZaparooProject/go-mfrc630/transport/i2c"
	"github.com/ZaparooProject/go-mfrc630/transport/spi"
	"github.com/ZaparooProject/go-mfrc630/transport/uart"
)

const connectTimeout = 5 * time.Second

type config struct {
	devicePath string
	transport  string
	keys       []mfrc630.MifareKey
	dump       bool
	watch      bool
	debug      bool
}

func parseConfig(args []string) (*config, error) {
	cfg := &config{}
	var keyHex string

	fs := flag.NewFlagSet("mfrc630-reader", flag.ContinueOnError)
	fs.StringVar(&cfg.devicePath, "device", "", "Device path (auto-detect if empty)")
	fs.StringVar(&cfg.transport, "transport", "", "Transport of -device: uart, i2c or spi (guessed from the path if empty)")
	fs.BoolVar(&cfg.dump, "dump", false, "Dump every sector of MIFARE Classic cards")
	fs.StringVar(&keyHex, "key", "", "Extra MIFARE key as 12 hex digits, tried before the well-known keys")
	fs.BoolVar(&cfg.watch, "watch", false, "Keep reading cards until interrupted")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if keyHex != "" {
		key, err := parseKey(keyHex)
		if err != nil {
			return nil, err
		}
		cfg.keys = append(cfg.keys, key)
	}
	cfg.keys = append(cfg.keys, mfrc630.WellKnownKeys()...)

	switch cfg.transport {
	case "", "uart", "i2c", "spi":
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.transport)
	}
	return cfg, nil
}

func parseKey(s string) (mfrc630.MifareKey, error) {
	var key mfrc630.MifareKey
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return key, fmt.Errorf("invalid key %q: %w", s, err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid key %q: want %d bytes, got %d", s, len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

// newTransportFromDevice creates a new transport from a detected device.
func newTransportFromDevice(device detection.DeviceInfo) (mfrc630.Transport, error) {
	return openTransport(strings.ToLower(device.Transport), device.Path)
}

func openTransport(kind, path string) (mfrc630.Transport, error) {
	switch kind {
	case "uart":
		transport, err := uart.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "i2c":
		transport, err := i2c.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}
}

// guessTransport picks a transport from a device path; serial ports are
// the fallback.
func guessTransport(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "i2c"):
		return "i2c"
	case strings.Contains(lower, "spi"):
		return "spi"
	default:
		return "uart"
	}
}

func connectToDevice(ctx context.Context, cfg *config, log *slog.Logger) (*mfrc630.Device, error) {
	var opts []mfrc630.ConnectOption
	if cfg.devicePath == "" {
		log.Info("auto-detecting MFRC630 readers")
		opts = append(opts,
			mfrc630.WithAutoDetection(),
			mfrc630.WithTransportFromDeviceFactory(newTransportFromDevice))
	} else {
		kind := cfg.transport
		if kind == "" {
			kind = guessTransport(cfg.devicePath)
		}
		log.Info("opening reader", "path", cfg.devicePath, "transport", kind)
		opts = append(opts, mfrc630.WithTransportFactory(func(path string) (mfrc630.Transport, error) {
			return openTransport(kind, path)
		}))
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	device, err := mfrc630.ConnectDevice(connectCtx, cfg.devicePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MFRC630: %w", err)
	}
	log.Debug("reader ready", "version", fmt.Sprintf("0x%02X", device.ChipVersion()))
	return device, nil
}

// handleCard prints what the card is and, with -dump, its sectors.
func handleCard(ctx context.Context, device *mfrc630.Device, tag *mfrc630.Tag, cfg *config, w io.Writer) error {
	ops := tagops.New(device, tagops.WithKeys(cfg.keys...))
	if err := ops.UseTag(ctx, tag); err != nil {
		_, _ = fmt.Fprintf(w, "Card %s (%s)\n", tag.UIDString(), tag.Family())
		if errors.Is(err, tagops.ErrUnsupportedTag) {
			return nil
		}
		return fmt.Errorf("identify card: %w", err)
	}

	info, err := ops.GetTagInfo()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Card %s: %s, %s, %d bytes user memory\n",
		tag.UIDString(), info.Model, info.Manufacturer, info.UserMemory)

	if !cfg.dump || ops.TagType() != tagops.TagTypeMIFARE {
		return nil
	}
	dumps, err := ops.DumpSectors(ctx)
	printDump(w, dumps)
	if err != nil {
		return fmt.Errorf("dump sectors: %w", err)
	}
	return nil
}

func printDump(w io.Writer, dumps []tagops.SectorDump) {
	for _, dump := range dumps {
		if dump.Err != nil {
			_, _ = fmt.Fprintf(w, "Sector %2d: %v\n", dump.Sector, dump.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "Sector %2d (%s)\n", dump.Sector, dump.Key)
		first := mfrc630.FirstBlockOf(dump.Sector)
		for i, block := range dump.Blocks {
			_, _ = fmt.Fprintf(w, "  %3d: % X\n", first+i, block)
		}
	}
}

// runOnce waits for one card, reports it and halts it.
func runOnce(ctx context.Context, device *mfrc630.Device, cfg *config, w io.Writer, log *slog.Logger) error {
	log.Info("waiting for a card")
	tag, err := device.WaitForTag(ctx, 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Halt(ctx); err != nil {
			log.Debug("halt failed", "err", err)
		}
	}()
	return handleCard(ctx, device, tag, cfg, w)
}

func runWatch(ctx context.Context, device *mfrc630.Device, cfg *config, w io.Writer, log *slog.Logger) error {
	pollCfg := polling.DefaultConfig()
	session := polling.NewSession(device, pollCfg)
	session.SetRecoverer(pollCfg.SleepRecovery.NewRecoverer(device, func(ctx context.Context) (*mfrc630.Device, error) {
		log.Warn("reader stopped answering, reconnecting")
		return connectToDevice(ctx, cfg, log)
	}))
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close session", "err", err)
		}
	}()

	session.SetOnCardDetected(func(ctx context.Context, device *mfrc630.Device, tag *mfrc630.Tag) error {
		if err := handleCard(ctx, device, tag, cfg, w); err != nil {
			log.Warn("card read failed", "uid", tag.UIDString(), "err", err)
		}
		return nil
	})
	session.SetOnCardRemoved(func() {
		log.Info("card removed")
	})

	log.Info("watching for cards, press Ctrl+C to stop")
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("polling stopped: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config, log *slog.Logger) error {
	device, err := connectToDevice(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			log.Warn("failed to close device", "err", err)
		}
	}()

	if cfg.watch {
		return runWatch(ctx, device, cfg, os.Stdout, log)
	}
	return runOnce(ctx, device, cfg, os.Stdout, log)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.debug {
		mfrc630.SetDebugEnabled(true)
	}
	log := newLogger(os.Stderr, cfg.debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		log.Error("reader failed", "err", err)
		return 1
	}
	return 0
}
