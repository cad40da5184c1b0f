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

package ovmf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/google/vmsa-builder/ovmf/abi"
	"github.com/google/vmsa-builder/testing/fakeovmf"
	"github.com/google/vmsa-builder/testing/match"
)

const (
	// Dummy guid for first element from bottom.
	elem1GUID = "12345678-1234-1234-1234-123456789123"

	// Dummy guid for second element from bottom.
	elem2GUID = "23456789-2341-2341-2341-234567891234"

	// Dummy guid for a third element.
	elem3GUID = "34567892-3412-3412-3412-345678912345"

	sizeofFwGUIDElem1 = 64 + abi.SizeofFwGUIDEntry
	sizeofFwGUIDElem2 = 128 + abi.SizeofFwGUIDEntry
	sizeofFwGUIDTable = sizeofFwGUIDElem1 + sizeofFwGUIDElem2
	sizeofFwImg       = sizeofFwGUIDTable + abi.SizeofFwGUIDEntry + abi.FwGUIDTableEndOffset
)

type fwGUIDElem struct {
	data      []byte
	guidEntry abi.FwGUIDEntry
}

func (f fwGUIDElem) populateBytes(result []byte) {
	copy(result, f.data)
	binary.LittleEndian.PutUint16(result[len(f.data):], f.guidEntry.Size)
	abi.PutUUID(result[len(f.data)+2:], f.guidEntry.GUID)
}

func (f fwGUIDElem) toBytes() []byte {
	result := make([]byte, len(f.data)+abi.SizeofFwGUIDEntry)
	f.populateBytes(result)
	return result
}

// fwImg is a firmware image whose GUIDed table starts at offset 0: elem2, elem1, footer, and the
// unused area after the table.
type fwImg struct {
	elem2  fwGUIDElem
	elem1  fwGUIDElem
	footer abi.FwGUIDEntry
}

func newFwImg() *fwImg {
	return &fwImg{
		elem1: fwGUIDElem{
			data:      bytes.Repeat([]byte{'1'}, 64),
			guidEntry: abi.FwGUIDEntry{Size: sizeofFwGUIDElem1, GUID: uuid.MustParse(elem1GUID)},
		},
		elem2: fwGUIDElem{
			data:      bytes.Repeat([]byte{'2'}, 128),
			guidEntry: abi.FwGUIDEntry{Size: sizeofFwGUIDElem2, GUID: uuid.MustParse(elem2GUID)},
		},
		footer: abi.FwGUIDEntry{
			Size: sizeofFwGUIDTable + abi.SizeofFwGUIDEntry,
			GUID: uuid.MustParse(abi.FwGUIDTableFooterGUID),
		},
	}
}

func (f *fwImg) toBytes() []byte {
	result := make([]byte, sizeofFwImg)
	f.elem2.populateBytes(result[:sizeofFwGUIDElem2])
	f.elem1.populateBytes(result[sizeofFwGUIDElem2:sizeofFwGUIDTable])
	f.footer.Put(result[sizeofFwGUIDTable : sizeofFwGUIDTable+abi.SizeofFwGUIDEntry])
	return result
}

func TestEntriesErrors(t *testing.T) {
	tcs := []struct {
		name     string
		corrupt  func(*fwImg)
		truncate func([]byte) []byte
		wantIs   error
		wantErr  string
	}{
		{
			name:    "footer guid",
			corrupt: func(f *fwImg) { f.footer.GUID = uuid.UUID{} },
			wantIs:  ErrFooterNotFound,
			wantErr: "invalid firmware image without the GUIDed table",
		},
		{
			name:    "footer size zero",
			corrupt: func(f *fwImg) { f.footer.Size = 0 },
			wantIs:  ErrMalformedEntry,
			wantErr: "invalid GUIDed table size",
		},
		{
			name:    "footer size past start",
			corrupt: func(f *fwImg) { f.footer.Size += sizeofFwImg },
			wantIs:  ErrTruncatedImage,
			wantErr: "invalid GUIDed table size",
		},
		{
			name:     "firmware too small",
			truncate: func(b []byte) []byte { return b[0:abi.SizeofFwGUIDEntry] },
			wantIs:   ErrFooterNotFound,
			wantErr:  "firmware is too small",
		},
		{
			name:     "truncated before footer offset",
			truncate: func(b []byte) []byte { return b[:len(b)-1] },
			wantIs:   ErrFooterNotFound,
		},
		{
			name:    "entry below minimum",
			corrupt: func(f *fwImg) { f.elem1.guidEntry.Size = abi.SizeofFwGUIDEntry - 1 },
			wantIs:  ErrMalformedEntry,
			wantErr: "GUIDed table entries are corrupted",
		},
		{
			name:    "entry length zero",
			corrupt: func(f *fwImg) { f.elem1.guidEntry.Size = 0 },
			wantIs:  ErrMalformedEntry,
		},
		{
			name:    "entry exceeds table",
			corrupt: func(f *fwImg) { f.elem1.guidEntry.Size += sizeofFwGUIDTable },
			wantIs:  ErrMalformedEntry,
			wantErr: "remaining size",
		},
		{
			// Leaves 4 bytes at the start of the table, fewer than an entry trailer.
			name:    "unexpected remainder",
			corrupt: func(f *fwImg) { f.elem1.guidEntry.Size += sizeofFwGUIDElem2 - 4 },
			wantIs:  ErrMalformedEntry,
			wantErr: "GUIDed table size unexpected",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			fw := newFwImg()
			if tc.corrupt != nil {
				tc.corrupt(fw)
			}
			firmware := fw.toBytes()
			if tc.truncate != nil {
				firmware = tc.truncate(firmware)
			}
			_, err := Entries(firmware)
			if !errors.Is(err, tc.wantIs) {
				t.Errorf("Entries() = %v, want %v", err, tc.wantIs)
			}
			if !match.Error(err, tc.wantErr) {
				t.Errorf("Entries() = %v, want an error containing %q", err, tc.wantErr)
			}
			if _, err := FindEntry(firmware, uuid.MustParse(elem1GUID)); !errors.Is(err, tc.wantIs) {
				t.Errorf("FindEntry() = %v, want %v", err, tc.wantIs)
			}
		})
	}
}

func TestValidEntries(t *testing.T) {
	fw := newFwImg()
	firmware := fw.toBytes()

	got, err := Entries(firmware)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{GUID: uuid.MustParse(elem1GUID), Offset: sizeofFwGUIDElem2, Payload: fw.elem1.data},
		{GUID: uuid.MustParse(elem2GUID), Offset: 0, Payload: fw.elem2.data},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
	if got[1].Size() != sizeofFwGUIDElem2 {
		t.Errorf("Entry.Size() = %d, want %d", got[1].Size(), sizeofFwGUIDElem2)
	}
	if !bytes.Equal(firmware[got[0].Offset:got[0].Offset+got[0].Size()], fw.elem1.toBytes()) {
		t.Errorf("entry offset %d does not address elem1", got[0].Offset)
	}
}

func TestEmptyTable(t *testing.T) {
	firmware, err := fakeovmf.Firmware(0x1000)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := Entries(firmware)
	if err != nil || len(entries) != 0 {
		t.Errorf("Entries(empty table) = %v, %v, want no entries and no error", entries, err)
	}
	if _, err := FindEntry(firmware, uuid.MustParse(elem1GUID)); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("FindEntry(empty table) = %v, want %v", err, ErrEntryNotFound)
	}
}

func TestFindEntryPosition(t *testing.T) {
	target := uuid.MustParse(abi.SevEsResetBlockGUID)
	targetPayload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	filler := func(guid string, n int) fakeovmf.Block {
		return fakeovmf.Block{GUID: uuid.MustParse(guid), Payload: bytes.Repeat([]byte{byte(n)}, n)}
	}
	targetBlock := fakeovmf.Block{GUID: target, Payload: targetPayload}
	tcs := []struct {
		name   string
		blocks []fakeovmf.Block
	}{
		{
			name:   "first",
			blocks: []fakeovmf.Block{targetBlock, filler(elem1GUID, 7), filler(elem2GUID, 33)},
		},
		{
			name:   "middle",
			blocks: []fakeovmf.Block{filler(elem1GUID, 7), targetBlock, filler(elem2GUID, 33)},
		},
		{
			name:   "last",
			blocks: []fakeovmf.Block{filler(elem1GUID, 7), filler(elem2GUID, 33), targetBlock},
		},
		{
			name:   "only",
			blocks: []fakeovmf.Block{targetBlock},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			firmware, err := fakeovmf.Firmware(0x2000, tc.blocks...)
			if err != nil {
				t.Fatal(err)
			}
			got, err := FindEntry(firmware, target)
			if err != nil {
				t.Fatalf("FindEntry() = _, %v, want nil", err)
			}
			if !bytes.Equal(got, targetPayload) {
				t.Errorf("FindEntry() = %v, want %v", got, targetPayload)
			}
			// The payload is a copy that does not alias the firmware.
			got[0] = 0
			again, _ := FindEntry(firmware, target)
			if !bytes.Equal(again, targetPayload) {
				t.Errorf("FindEntry() returned a payload aliasing the firmware")
			}

			missing, err := fakeovmf.Firmware(0x2000, filler(elem1GUID, 7), filler(elem3GUID, 12))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := FindEntry(missing, target); !errors.Is(err, ErrEntryNotFound) {
				t.Errorf("FindEntry(no target) = %v, want %v", err, ErrEntryNotFound)
			}
		})
	}
}

func TestFindEntryCorruptedBeforeTarget(t *testing.T) {
	target := uuid.MustParse(elem3GUID)
	firmware := make([]byte, 0x1000)
	trailers, err := fakeovmf.InitializeGUIDTable(firmware, abi.FwGUIDTableEndOffset, []fakeovmf.Block{
		{GUID: uuid.MustParse(elem1GUID), Payload: make([]byte, 10)},
		{GUID: target, Payload: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Declare the first entry longer than the whole remaining table.
	binary.LittleEndian.PutUint16(firmware[trailers[0]:], 0x800)
	if _, err := FindEntry(firmware, target); !errors.Is(err, ErrMalformedEntry) {
		t.Errorf("FindEntry() = %v, want %v", err, ErrMalformedEntry)
	}
}
