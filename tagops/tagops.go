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

// Package tagops wraps the card-level commands of a Device into
// operations that pick the right command set for the selected card:
// page access for NTAG and Ultralight, sector authentication with key
// probing for MIFARE Classic.
package tagops

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-mfrc630"
)

var (
	// ErrNoTag indicates no tag was detected
	ErrNoTag = errors.New("no tag detected")
	// ErrUnsupportedTag indicates the tag type is not supported
	ErrUnsupportedTag = errors.New("unsupported tag type")
	// ErrAuthFailed indicates all authentication attempts failed
	ErrAuthFailed = errors.New("authentication failed with all known keys")
	// ErrCardChanged indicates a different card answered a re-selection
	ErrCardChanged = errors.New("card changed during operation")
	// ErrProtectedBlock indicates a write to a block the card reserves
	ErrProtectedBlock = errors.New("block is reserved and cannot be written")
)

// TagType represents the type of NFC tag
type TagType int

const (
	// TagTypeUnknown represents an unknown or unsupported tag type
	TagTypeUnknown TagType = iota
	// TagTypeNTAG represents an NTAG2xx or Ultralight tag
	TagTypeNTAG
	// TagTypeMIFARE represents a MIFARE Classic tag
	TagTypeMIFARE
)

const noSector = -1

// TagOperations provides unified high-level tag operations
type TagOperations struct {
	device      *mfrc630.Device
	tag         *mfrc630.Tag
	retry       *mfrc630.RetryConfig
	sectorKeys  map[int]SectorKey
	keys        []mfrc630.MifareKey
	ntagVersion mfrc630.NTAGVersion
	tagType     TagType
	totalPages  int
	authSector  int
	needsSelect bool
}

// Option configures TagOperations.
type Option func(*TagOperations)

// WithKeys replaces the keys tried on MIFARE Classic sectors. Order
// matters; the first key that opens a sector wins.
func WithKeys(keys ...mfrc630.MifareKey) Option {
	return func(t *TagOperations) {
		t.keys = append([]mfrc630.MifareKey(nil), keys...)
	}
}

// WithRetryConfig sets the retry policy of DetectTag.
func WithRetryConfig(config *mfrc630.RetryConfig) Option {
	return func(t *TagOperations) {
		t.retry = config
	}
}

// New creates a new TagOperations instance
func New(device *mfrc630.Device, opts ...Option) *TagOperations {
	t := &TagOperations{
		device:     device,
		keys:       mfrc630.WellKnownKeys(),
		retry:      mfrc630.CardRetryConfig(),
		authSector: noSector,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DetectTag selects a card, retrying field errors, and identifies it.
// This or UseTag must be called before any read/write operations.
func (t *TagOperations) DetectTag(ctx context.Context) error {
	tag, err := mfrc630.Retry(ctx, t.retry, func() (*mfrc630.Tag, error) {
		return t.device.WakeAndSelect(ctx)
	})
	if errors.Is(err, mfrc630.ErrNoTagPresent) {
		return ErrNoTag
	}
	if err != nil {
		return fmt.Errorf("failed to detect tag: %w", err)
	}
	return t.UseTag(ctx, tag)
}

// UseTag identifies a card that is already selected, for example inside a
// polling callback.
func (t *TagOperations) UseTag(ctx context.Context, tag *mfrc630.Tag) error {
	if tag == nil {
		return ErrNoTag
	}
	t.tag = tag
	t.tagType = TypeOf(tag)
	t.sectorKeys = make(map[int]SectorKey)
	t.ntagVersion = mfrc630.NTAGVersion{}
	t.totalPages = 0
	t.authSector = noSector
	t.needsSelect = false

	switch t.tagType {
	case TagTypeNTAG:
		return t.identifyNTAG(ctx)
	case TagTypeMIFARE:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTag, tag.Family())
	}
}

// Tag returns the selected card
func (t *TagOperations) Tag() *mfrc630.Tag {
	return t.tag
}

// TagType returns the detected tag type
func (t *TagOperations) TagType() TagType {
	return t.tagType
}

// GetUID returns the tag's UID
func (t *TagOperations) GetUID() []byte {
	if t.tag == nil {
		return nil
	}
	return t.tag.UID
}

// identifyNTAG sizes the card from GET_VERSION, falling back to the
// capability container for Ultralight cards that lack the command.
func (t *TagOperations) identifyNTAG(ctx context.Context) error {
	version, err := t.device.GetVersion(ctx)
	if err == nil && version.Pages() > 0 {
		t.ntagVersion = version
		t.totalPages = version.Pages()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	mfrc630.Debugf("tagops: GET_VERSION unsupported (%v), reading CC", err)

	// A card that did not understand GET_VERSION has dropped to IDLE.
	if err := t.reselect(ctx); err != nil {
		return err
	}
	cc, err := t.device.ReadPage(ctx, ccPage)
	if err != nil {
		return fmt.Errorf("read capability container: %w", err)
	}
	t.totalPages = pagesFromCC(cc)
	return nil
}

const (
	ccPage          = 3
	ccMagic         = 0xE1
	ntagHeaderPages = 4
	ntagConfigPages = 5
	ultralightPages = 16
)

// pagesFromCC derives the readable page count from the data area size in
// byte 2 of the capability container, in units of 8 bytes.
func pagesFromCC(cc []byte) int {
	if len(cc) < 3 || cc[0] != ccMagic {
		return ultralightPages
	}
	return ntagHeaderPages + int(cc[2])*8/mfrc630.NTAGPageSize
}

// reselect wakes the card again after it fell out of the ACTIVE state and
// checks it is the same card.
func (t *TagOperations) reselect(ctx context.Context) error {
	tag, err := t.device.WakeAndSelect(ctx)
	if errors.Is(err, mfrc630.ErrNoTagPresent) {
		return ErrNoTag
	}
	if err != nil {
		return fmt.Errorf("re-select: %w", err)
	}
	if !tag.Equal(t.tag) {
		return fmt.Errorf("%w: expected %s, got %s", ErrCardChanged, t.tag.UIDString(), tag.UIDString())
	}
	t.authSector = noSector
	t.needsSelect = false
	return nil
}
