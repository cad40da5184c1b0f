// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fakeovmf builds synthetic firmware images with an OVMF GUIDed table for tests.
package fakeovmf

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/google/vmsa-builder/ovmf/abi"
)

// SevEsAddrVal is the reset address CleanExample places in its SEV-ES reset block.
const SevEsAddrVal = 0xffffe410

// Block is a GUIDed table entry to place in a fake firmware.
type Block struct {
	GUID    uuid.UUID
	Payload []byte
}

// Size returns the ABI size of the block including its trailer.
func (b Block) Size() int { return len(b.Payload) + abi.SizeofFwGUIDEntry }

// SevEsResetBlock returns the block OVMF uses to declare the AP reset address.
func SevEsResetBlock(addr uint32) Block {
	payload := make([]byte, abi.SizeofSevEsResetBlockPayload)
	binary.LittleEndian.PutUint32(payload, addr)
	return Block{GUID: uuid.MustParse(abi.SevEsResetBlockGUID), Payload: payload}
}

// InitializeGUIDTable writes blocks and a footer into firmware such that the footer ends
// baseOffsetFromEnd bytes before the end of firmware. blocks[0] is placed directly before the
// footer, so it is the first entry a backward walk visits. Returns the firmware offset of each
// block's FwGUIDEntry trailer.
func InitializeGUIDTable(firmware []byte, baseOffsetFromEnd int, blocks []Block) ([]int, error) {
	// If GUID table is used in the firmware, the footer GUID will be
	// `FwGuidTableFooterGuid`. Make sure that the firmware is large
	// enough to have the footer block.
	footerOffsetFromEnd := baseOffsetFromEnd + abi.SizeofFwGUIDEntry
	tableSize := abi.SizeofFwGUIDEntry
	for _, b := range blocks {
		tableSize += b.Size()
	}
	if len(firmware) < baseOffsetFromEnd+tableSize {
		return nil, fmt.Errorf("firmware size %d is too small for a GUIDed table of size %d", len(firmware), tableSize)
	}
	if tableSize > 0xffff {
		return nil, fmt.Errorf("GUIDed table size %d does not fit in 16 bits", tableSize)
	}

	trailers := make([]int, len(blocks))
	cursor := len(firmware) - footerOffsetFromEnd
	for i, b := range blocks {
		trailer := cursor - abi.SizeofFwGUIDEntry
		copy(firmware[trailer-len(b.Payload):trailer], b.Payload)
		entry := &abi.FwGUIDEntry{Size: uint16(b.Size()), GUID: b.GUID}
		if err := entry.Put(firmware[trailer:cursor]); err != nil {
			return nil, err
		}
		trailers[i] = trailer
		cursor -= b.Size()
	}
	// The footer size is the sum of the footer block and all the other blocks in the GUID table.
	footer := &abi.FwGUIDEntry{GUID: uuid.MustParse(abi.FwGUIDTableFooterGUID), Size: uint16(tableSize)}
	if err := footer.Put(firmware[len(firmware)-footerOffsetFromEnd:]); err != nil {
		return nil, err
	}
	return trailers, nil
}

// Firmware returns a size-byte fake firmware image holding the given blocks at the standard
// GUIDed table position.
func Firmware(size int, blocks ...Block) ([]byte, error) {
	firmware := make([]byte, size)
	if _, err := InitializeGUIDTable(firmware, abi.FwGUIDTableEndOffset, blocks); err != nil {
		return nil, err
	}
	return firmware, nil
}

// CleanExample returns an example "UEFI" binary that contains an SEV-ES reset block at
// SevEsAddrVal.
func CleanExample(t testing.TB, size int) []byte {
	t.Helper()
	if size < 0x1000 {
		t.Fatalf("example size must be >= 0x1000")
	}
	firmware, err := Firmware(size, SevEsResetBlock(SevEsAddrVal))
	if err != nil {
		t.Fatal(err)
	}
	copy(firmware[0x800:], []byte("LGTMLGTMLGTMLGTM"))
	return firmware
}
