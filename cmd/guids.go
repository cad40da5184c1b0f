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

package cmd

import (
	"errors"

	"github.com/google/uuid"
	"github.com/google/vmsa-builder/cmd/output"
	"github.com/google/vmsa-builder/ovmf"
	"github.com/google/vmsa-builder/ovmf/abi"
	"github.com/google/vmsa-builder/storage/storagei"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

var knownGUIDs = map[uuid.UUID]string{
	uuid.MustParse(abi.SevEsResetBlockGUID): "SEV-ES reset block",
}

func runGUIDs(ctx context.Context, client storagei.Client, path string) error {
	firmware, err := readFirmware(ctx, client, path)
	if err != nil {
		return err
	}
	entries, err := ovmf.Entries(firmware)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := knownGUIDs[e.GUID]
		output.Infof(ctx, "%v  offset 0x%08x  payload %4d bytes  %s", e.GUID, e.Offset, len(e.Payload), name)
	}
	if addr, err := ovmf.ResetAddress(firmware); err == nil {
		rip, csBase := ovmf.ResetVectorSplit(addr)
		output.Infof(ctx, "SEV-ES reset address 0x%08x (cs.base 0x%x, rip 0x%x)", addr, csBase, rip)
	} else if errors.Is(err, ovmf.ErrEntryNotFound) {
		output.Warningf(ctx, "no SEV-ES reset block")
	} else {
		return err
	}
	return nil
}

func makeGUIDsCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	var firmware string
	cmd := &cobra.Command{
		Use:   "guids --firmware PATH",
		Short: "List the firmware's GUIDed table",
		Long:  `Lists each entry of the OVMF GUIDed table that ends 0x20 bytes before the end of the firmware.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if firmware == "" {
				return errors.New("--firmware is required")
			}
			return nil
		},
		RunE: composeRun(Compose(app.Global), func(ctx context.Context) error {
			return runGUIDs(ctx, app.Storage, firmware)
		}),
	}
	cmd.SetContext(ctx)
	addFirmwareFlag(cmd, &firmware)
	return cmd
}
