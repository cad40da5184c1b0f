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
	"fmt"

	"github.com/google/uuid"
	"github.com/google/vmsa-builder/ovmf/abi"
)

// ResetAddress returns the application processor reset address from the firmware's SEV-ES
// reset block. The reset block is needed when SEV-ES is enabled to initialize Application
// Processors (APs), as SEV-ES does not allow the INIT-SIPI-SIPI procedure to be emulated by the
// VMM (CPU state is encrypted).
func ResetAddress(firmware []byte) (uint32, error) {
	payload, err := FindEntry(firmware, uuid.MustParse(abi.SevEsResetBlockGUID))
	if err != nil {
		return 0, fmt.Errorf("could not extract SEV-ES reset block: %w", err)
	}
	if len(payload) != abi.SizeofSevEsResetBlockPayload {
		return 0, fmt.Errorf("%w: mismatch with SEV-ES reset block size, expected %d found: %d",
			ErrMalformedEntry, abi.SizeofSevEsResetBlockPayload, len(payload))
	}
	// Length is checked above.
	block, _ := abi.SevEsResetBlockFromPayload(payload)
	return block.Addr, nil
}

// ResetVectorSplit returns the value of RIP and CS base for a real-mode reset address. Returns the
// pair <rip, cs base>.
func ResetVectorSplit(addr uint32) (uint64, uint64) {
	const (
		ripMask    = uint64(0x0000ffff)
		csBaseMask = uint64(0xffff0000)
	)
	return uint64(addr) & ripMask, uint64(addr) & csBaseMask
}
