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

package abi

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/google/vmsa-builder/testing/match"
)

// FwGUIDTable footer as it appears in OVMF binary
var ovmfFooter = []byte{0xde, 0x82, 0xb5, 0x96, 0xb2, 0x1f, 0xf7, 0x45, 0xba, 0xea, 0xa3, 0x66, 0xc5, 0x5a, 0x08, 0x2d}

func TestEfiSwapIsInvolution(t *testing.T) {
	var once, twice [16]byte
	efiSwap(once[:], ovmfFooter)
	efiSwap(twice[:], once[:])
	if !bytes.Equal(twice[:], ovmfFooter) {
		t.Errorf("efiSwap(efiSwap(%v)) = %v", ovmfFooter, twice)
	}
	wantErr := "incorrect data size for EFI GUID"
	if _, err := FromEFIGUID(nil); !match.Error(err, wantErr) {
		t.Errorf("FromEFIGUID(nil) = %v, want error %q", err, wantErr)
	}
	if err := PutUUID(make([]byte, 15), uuid.Nil); !match.Error(err, "data too small for GUID") {
		t.Errorf("PutUUID(short) = %v, want too small error", err)
	}
}

func TestFromEFIGUID(t *testing.T) {
	got, err := FromEFIGUID(ovmfFooter)
	if err != nil {
		t.Fatal(err)
	}
	want := uuid.MustParse(FwGUIDTableFooterGUID)
	if got != want {
		t.Errorf("FromEFIGUID(%v) = %v, want %v", ovmfFooter, got, want)
	}
	var back [16]byte
	if err := PutUUID(back[:], got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back[:], ovmfFooter) {
		t.Errorf("PutUUID(%v) = %v, want %v", got, back, ovmfFooter)
	}
}

func TestFwGUIDEntry(t *testing.T) {
	entry := &FwGUIDEntry{Size: 0x1234, GUID: uuid.MustParse(FwGUIDTableFooterGUID)}
	var data [SizeofFwGUIDEntry]byte
	if err := entry.Put(data[:]); err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x34, 0x12}, ovmfFooter...)
	if diff := cmp.Diff(want, data[:]); diff != "" {
		t.Errorf("Put() mismatch (-want +got):\n%s", diff)
	}
	got, err := FwGUIDEntryFromBytes(data[:])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("FwGUIDEntryFromBytes() mismatch (-want +got):\n%s", diff)
	}
	wantErr := "data too small for FwGUIDEntry: 17 < 18"
	if _, err := FwGUIDEntryFromBytes(data[:17]); !match.Error(err, wantErr) {
		t.Errorf("FwGUIDEntryFromBytes(short) = %v, want error %q", err, wantErr)
	}
	if err := entry.Put(data[:3]); !match.Error(err, "data too small for FwGUIDEntry") {
		t.Errorf("Put(short) = %v, want too small error", err)
	}
}

func TestSevEsResetBlock(t *testing.T) {
	var data [SizeofSevEsResetBlock]byte
	block := &SevEsResetBlock{Addr: 0xffffe410}
	if err := block.Put(data[:]); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:4], []byte{0x10, 0xe4, 0xff, 0xff}) {
		t.Errorf("reset block address bytes = %v, want little endian 0xffffe410", data[:4])
	}
	entry, err := FwGUIDEntryFromBytes(data[SizeofSevEsResetBlockPayload:])
	if err != nil {
		t.Fatal(err)
	}
	if entry.Size != SizeofSevEsResetBlock || entry.GUID.String() != SevEsResetBlockGUID {
		t.Errorf("reset block trailer = %+v, want size %d guid %s", entry, SizeofSevEsResetBlock, SevEsResetBlockGUID)
	}
	got, err := SevEsResetBlockFromPayload(data[:SizeofSevEsResetBlockPayload])
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != block.Addr {
		t.Errorf("SevEsResetBlockFromPayload() = 0x%x, want 0x%x", got.Addr, block.Addr)
	}
	wantErr := "unexpected SEV-ES reset block size 3"
	if _, err := SevEsResetBlockFromPayload(data[:3]); !match.Error(err, wantErr) {
		t.Errorf("SevEsResetBlockFromPayload(short) = %v, want error %q", err, wantErr)
	}
	if err := block.Put(data[:10]); !match.Error(err, "unexpected SEV-ES reset block size 10") {
		t.Errorf("Put(short) = %v, want size error", err)
	}
}
