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

/*
Package mfrc630 drives NXP MFRC630 and CLRC663 contactless front-end ICs.

The chip exposes a register file, a 255-byte FIFO and a set of commands. This
package builds the ISO14443-A activation sequence, MIFARE Classic
authentication and block access, and NTAG21x page access on top of those
primitives. Bus access is delegated to a Transport; see the transport/i2c,
transport/spi, transport/uart and transport/i2cdev packages.

Basic Usage:

	transport, err := i2c.New("/dev/i2c-1")
	if err != nil {
	    log.Fatal(err)
	}

	device, err := mfrc630.New(transport)
	if err != nil {
	    log.Fatal(err)
	}
	defer device.Close()

	ctx := context.Background()
	if err := device.Init(ctx); err != nil {
	    log.Fatal(err)
	}
	if err := device.Configure(ctx, mfrc630.RadioISO14443A106); err != nil {
	    log.Fatal(err)
	}

	tag, err := device.Discover(ctx)
	if errors.Is(err, mfrc630.ErrNoTagPresent) {
	    return
	}
	fmt.Println(tag.UIDString())

	if tag.IsMifareClassic() {
	    _ = device.LoadKey(ctx, mfrc630.DefaultKey())
	    ok, err := device.Authenticate(ctx, mfrc630.KeyA, 4, tag.UID)
	    if err == nil && ok {
	        block, _ := device.ReadBlock(ctx, 4)
	        fmt.Printf("% X\n", block)
	    }
	}

Error Handling:

Every error matches one of ErrCommunication (bus failure), ErrTimeout (the
chip or card did not finish in time) or ErrProtocol (the chip reported a
CRC, collision or framing error, or the card sent a NAK). Caller mistakes
return ErrInvalidParameter. An empty field is not an error: Request and
Wakeup return ATQA 0, and a rejected key makes Authenticate return false.

Thread Safety:

A Device is owned by one goroutine. It takes no internal locks. The polling
package serializes device access for long-running readers.
*/
package mfrc630
