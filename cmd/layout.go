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
	"github.com/google/vmsa-builder/cmd/output"
	"github.com/google/vmsa-builder/vmsa"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

func runLayout(ctx context.Context, archName string) error {
	arch, err := vmsa.ParseArchitecture(archName)
	if err != nil {
		return err
	}
	layout, err := vmsa.LayoutFor(arch)
	if err != nil {
		return err
	}
	for _, f := range layout.Fields {
		if f.Reserved {
			output.Debugf(ctx, "0x%03x %5d %s", f.Offset, f.Size, f.Name)
			continue
		}
		output.Infof(ctx, "0x%03x %5d %s", f.Offset, f.Size, f.Name)
	}
	output.Infof(ctx, "%v VMSA is 0x%x bytes", arch, layout.Size)
	return nil
}

func makeLayoutCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	var arch string
	cmd := &cobra.Command{
		Use:   "layout [--arch ARCH]",
		Short: "Print the VMSA field layout",
		Long:  `Prints the offset, size, and name of every VMSA field. Reserved ranges are shown with --verbose.`,
		RunE: composeRun(Compose(app.Global), func(ctx context.Context) error {
			return runLayout(ctx, arch)
		}),
	}
	cmd.SetContext(ctx)
	addArchFlag(cmd, &arch)
	return cmd
}
