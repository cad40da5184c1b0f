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
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/google/vmsa-builder/ovmf/abi"
	"github.com/google/vmsa-builder/testing/fakeovmf"
)

func TestResetAddress(t *testing.T) {
	got, err := ResetAddress(fakeovmf.CleanExample(t, 0x10000))
	if err != nil {
		t.Fatal(err)
	}
	if got != fakeovmf.SevEsAddrVal {
		t.Errorf("ResetAddress() = 0x%x, want 0x%x", got, fakeovmf.SevEsAddrVal)
	}
}

func TestResetAddressErrors(t *testing.T) {
	badSize, err := fakeovmf.Firmware(0x1000, fakeovmf.Block{
		GUID:    uuid.MustParse(abi.SevEsResetBlockGUID),
		Payload: []byte{1, 2, 3, 4, 5, 6},
	})
	if err != nil {
		t.Fatal(err)
	}
	noBlock, err := fakeovmf.Firmware(0x1000, fakeovmf.Block{GUID: uuid.MustParse(elem1GUID)})
	if err != nil {
		t.Fatal(err)
	}
	tcs := []struct {
		name     string
		firmware []byte
		want     error
	}{
		{name: "payload size", firmware: badSize, want: ErrMalformedEntry},
		{name: "no reset block", firmware: noBlock, want: ErrEntryNotFound},
		{name: "no table", firmware: make([]byte, 0x1000), want: ErrFooterNotFound},
		{name: "empty", want: ErrFooterNotFound},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ResetAddress(tc.firmware); !errors.Is(err, tc.want) {
				t.Errorf("ResetAddress() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestResetVectorSplit(t *testing.T) {
	tcs := []struct {
		addr       uint32
		wantRip    uint64
		wantCsBase uint64
	}{
		{addr: 0xffffe410, wantRip: 0xe410, wantCsBase: 0xffff0000},
		{addr: 0xffff0000, wantRip: 0, wantCsBase: 0xffff0000},
		{addr: 0x0000fff0, wantRip: 0xfff0, wantCsBase: 0},
	}
	for _, tc := range tcs {
		rip, csBase := ResetVectorSplit(tc.addr)
		if rip != tc.wantRip || csBase != tc.wantCsBase {
			t.Errorf("ResetVectorSplit(0x%x) = 0x%x, 0x%x, want 0x%x, 0x%x", tc.addr, rip, csBase,
				tc.wantRip, tc.wantCsBase)
		}
	}
}
