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

// Package ovmf includes tools for parsing OVMF binaries for measurement-specific values.
package ovmf

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/google/vmsa-builder/ovmf/abi"
	"golang.org/x/exp/slices"
)

var (
	// ErrFooterNotFound is returned when the firmware is too small to hold a GUIDed table footer, or
	// the footer GUID is not where it should be.
	ErrFooterNotFound = errors.New("GUIDed table footer not found")
	// ErrTruncatedImage is returned when the footer declares a table that starts before the
	// beginning of the firmware.
	ErrTruncatedImage = errors.New("GUIDed table is truncated")
	// ErrMalformedEntry is returned when an entry length is too small or overruns the table.
	ErrMalformedEntry = errors.New("GUIDed table entries are corrupted")
	// ErrEntryNotFound is returned when the table is well-formed but has no entry for the
	// requested GUID.
	ErrEntryNotFound = errors.New("no matching GUIDed table entry")
)

// Entry is one validated GUIDed table entry.
type Entry struct {
	GUID uuid.UUID
	// Offset is the position of the entry's first byte in the firmware.
	Offset int
	// Payload is the entry's data without the trailing FwGUIDEntry. It aliases the firmware.
	Payload []byte
}

// Size returns the entry's total ABI size, including its trailer.
func (e *Entry) Size() int { return len(e.Payload) + abi.SizeofFwGUIDEntry }

// GetFwGUIDTable returns OVMF's embedded GUID table and the firmware offset at which it starts.
// GUIDed table must end with a footer block. So it will search for the footer
// first, and if the footer is found, it will use the GUIDed table size written
// in the footer to calculate the beginning and end offset for the GUIDed table
// and return the entire GUIDed table except for the GUID footer block.
func GetFwGUIDTable(firmware []byte) ([]byte, int, error) {
	if len(firmware) < abi.FwGUIDFooterOffsetFromEnd {
		return nil, 0, fmt.Errorf("%w: firmware is too small: found size 0x%x < 0x%x", ErrFooterNotFound,
			len(firmware), abi.FwGUIDFooterOffsetFromEnd)
	}

	footerStart := len(firmware) - abi.FwGUIDFooterOffsetFromEnd
	footer, err := abi.FwGUIDEntryFromBytes(firmware[footerStart:])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFooterNotFound, err)
	}

	// The last entry should be GUIDed Table Footer GUID.
	if footer.GUID != uuid.MustParse(abi.FwGUIDTableFooterGUID) {
		return nil, 0, fmt.Errorf("%w: invalid firmware image without the GUIDed table. Got %v, want %v",
			ErrFooterNotFound, footer.GUID, abi.FwGUIDTableFooterGUID)
	}

	// The footer's size covers itself as well as every entry before it.
	if footer.Size < abi.SizeofFwGUIDEntry {
		return nil, 0, fmt.Errorf("%w: invalid GUIDed table size: found size %d < %d", ErrMalformedEntry,
			footer.Size, abi.SizeofFwGUIDEntry)
	}
	if len(firmware) < int(footer.Size)+abi.FwGUIDTableEndOffset {
		return nil, 0, fmt.Errorf("%w: invalid GUIDed table size: found size %d fw_size: %d", ErrTruncatedImage,
			footer.Size, len(firmware))
	}

	tableStart := len(firmware) - abi.FwGUIDTableEndOffset - int(footer.Size)
	return firmware[tableStart:footerStart], tableStart, nil
}

// Entries returns every GUIDed table entry in walk order, i.e., starting from the entry closest
// to the footer and moving toward the start of the firmware. Any structural violation rejects the
// whole table.
func Entries(firmware []byte) ([]Entry, error) {
	table, tableStart, err := GetFwGUIDTable(firmware)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	unprocessed := len(table)
	for unprocessed > 0 {
		if unprocessed < abi.SizeofFwGUIDEntry {
			return nil, fmt.Errorf("%w: GUIDed table size unexpected, min exp size: %d remaining size: %d table length: %d",
				ErrMalformedEntry, abi.SizeofFwGUIDEntry, unprocessed, len(table))
		}

		trailerPos := unprocessed - abi.SizeofFwGUIDEntry
		trailer, err := abi.FwGUIDEntryFromBytes(table[trailerPos:unprocessed])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
		}
		size := int(trailer.Size)
		if size < abi.SizeofFwGUIDEntry || size > unprocessed {
			return nil, fmt.Errorf("%w: remaining size: %d, size found: %d, table length: %d",
				ErrMalformedEntry, unprocessed, size, len(table))
		}

		start := unprocessed - size
		entries = append(entries, Entry{
			GUID:    trailer.GUID,
			Offset:  tableStart + start,
			Payload: table[start:trailerPos],
		})
		unprocessed = start
	}
	return entries, nil
}

// FindEntry returns a copy of the payload of the first entry for guid encountered when walking
// the table back from its footer.
func FindEntry(firmware []byte, guid uuid.UUID) ([]byte, error) {
	entries, err := Entries(firmware)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(entries, func(e Entry) bool { return e.GUID == guid })
	if i < 0 {
		return nil, fmt.Errorf("%w: %v", ErrEntryNotFound, guid)
	}
	return slices.Clone(entries[i].Payload), nil
}
