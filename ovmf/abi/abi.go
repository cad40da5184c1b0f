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

// Package abi defines binary interface conversion functions for the OVMF GUIDed table format.
package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// SizeofFwGUIDEntry is the ABI size of the FwGUIDEntry type. Every GUIDed table entry ends with
	// one, so it is also the smallest legal entry.
	SizeofFwGUIDEntry = 18

	// FwGUIDTableFooterGUID is the GUIDed Table Footer GUID defined at upstream edk2
	// https://github.com/tianocore/edk2/blob/01726b6d23d4c8a870dbd5b96c0b9e3caf38ef3c/OvmfPkg/ResetVector/Ia16/ResetVectorVtf0.asm.
	FwGUIDTableFooterGUID = "96b582de-1fb2-45f7-baea-a366c55a082d"

	// FwGUIDTableEndOffset is the offset from the end of the Firmware ROM to the end of the GUIDed
	// Table structure.
	FwGUIDTableEndOffset = 0x20

	// FwGUIDFooterOffsetFromEnd is where the footer entry starts, counted back from the end of the
	// firmware. Images shorter than this cannot carry a GUIDed table.
	FwGUIDFooterOffsetFromEnd = FwGUIDTableEndOffset + SizeofFwGUIDEntry

	// SevEsResetBlockGUID is the SEV-ES Reset Block GUID defined at upstream edk2
	// https://github.com/tianocore/edk2/blob/01726b6d23d4c8a870dbd5b96c0b9e3caf38ef3c/OvmfPkg/ResetVector/Ia16/ResetVectorVtf0.asm.
	SevEsResetBlockGUID = "00f771de-1a7e-4fcb-890e-68c77e2fb44e"

	// SizeofSevEsResetBlockPayload is the size of the reset block data that precedes its entry
	// trailer: a single little-endian 32-bit address.
	SizeofSevEsResetBlockPayload = 4
	// SizeofSevEsResetBlock is the ABI size of the packed struct of an SevEsResetBlock.
	SizeofSevEsResetBlock = SizeofSevEsResetBlockPayload + SizeofFwGUIDEntry
)

// FwGUIDEntry is an ABI type found in OVMF binaries for describing a run of data in the binary as
// associated with a given GUID. It trails the data it describes, and Size counts the data plus
// the FwGUIDEntry itself.
type FwGUIDEntry struct {
	Size uint16
	GUID uuid.UUID
}

// efiSwap converts a GUID between EFI_GUID byte order, where the first three fields are little
// endian, and the RFC 4122 byte order of uuid.UUID. The conversion is its own inverse.
func efiSwap(dst, src []byte) {
	dst[0], dst[1], dst[2], dst[3] = src[3], src[2], src[1], src[0]
	dst[4], dst[5] = src[5], src[4]
	dst[6], dst[7] = src[7], src[6]
	copy(dst[8:16], src[8:16])
}

// FromEFIGUID parses an EFI_GUID into a uuid.UUID.
func FromEFIGUID(efiguid []byte) (uuid.UUID, error) {
	var result uuid.UUID
	if len(efiguid) != 16 {
		return result, fmt.Errorf("incorrect data size for EFI GUID: %d, want 16", len(efiguid))
	}
	efiSwap(result[:], efiguid)
	return result, nil
}

// PutUUID writes a uuid.UUID to the beginning of data as an EFI_GUID.
func PutUUID(data []byte, guid uuid.UUID) error {
	if len(data) < 16 {
		return fmt.Errorf("data too small for GUID: %d < 16", len(data))
	}
	efiSwap(data, guid[:])
	return nil
}

// Put writes f in its ABI format to the beginning of data.
func (f *FwGUIDEntry) Put(data []byte) error {
	if len(data) < SizeofFwGUIDEntry {
		return fmt.Errorf("data too small for FwGUIDEntry: %d < %d", len(data), SizeofFwGUIDEntry)
	}
	binary.LittleEndian.PutUint16(data[0:2], f.Size)
	return PutUUID(data[2:SizeofFwGUIDEntry], f.GUID)
}

// FwGUIDEntryFromBytes interprets the first SizeofFwGUIDEntry bytes of data as a packed
// FwGUIDEntry.
func FwGUIDEntryFromBytes(data []byte) (*FwGUIDEntry, error) {
	if len(data) < SizeofFwGUIDEntry {
		return nil, fmt.Errorf("data too small for FwGUIDEntry: %d < %d", len(data), SizeofFwGUIDEntry)
	}
	entry := &FwGUIDEntry{Size: binary.LittleEndian.Uint16(data[0:2])}
	efiSwap(entry.GUID[:], data[2:SizeofFwGUIDEntry])
	return entry, nil
}

// SevEsResetBlock is the GUIDed table entry OVMF uses to tell the VMM where application
// processors start executing under SEV-ES, since the VMM cannot emulate INIT-SIPI-SIPI for an
// encrypted vCPU.
type SevEsResetBlock struct {
	Addr uint32
}

// SevEsResetBlockFromPayload interprets the data portion of the SEV-ES reset block entry.
func SevEsResetBlockFromPayload(payload []byte) (*SevEsResetBlock, error) {
	if len(payload) < SizeofSevEsResetBlockPayload {
		return nil, fmt.Errorf("unexpected SEV-ES reset block size %d, want at least %d",
			len(payload), SizeofSevEsResetBlockPayload)
	}
	return &SevEsResetBlock{Addr: binary.LittleEndian.Uint32(payload[0:4])}, nil
}

// Put writes the SEV-ES reset block with its entry trailer in ABI format to data.
func (s *SevEsResetBlock) Put(data []byte) error {
	if len(data) < SizeofSevEsResetBlock {
		return fmt.Errorf("unexpected SEV-ES reset block size %d < %d", len(data), SizeofSevEsResetBlock)
	}
	binary.LittleEndian.PutUint32(data[0:4], s.Addr)
	entry := &FwGUIDEntry{Size: SizeofSevEsResetBlock, GUID: uuid.MustParse(SevEsResetBlockGUID)}
	return entry.Put(data[SizeofSevEsResetBlockPayload:SizeofSevEsResetBlock])
}
