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

// Package cmd provides the vmsabuild CLI command abstractions.
package cmd

import (
	"golang.org/x/net/context"
	"os"

	"github.com/google/vmsa-builder/cmd/output"
	"github.com/spf13/cobra"
)

// makeRootCmd creates an entrypoint for vmsabuild.
func makeRootCmd(ctx0 context.Context, app *AppComponents) *cobra.Command {
	flags := &output.Options{}
	ctx := output.NewContext(ctx0, flags)
	cmd := &cobra.Command{
		Use: "vmsabuild",
		Long: `Command line tool for building SEV-ES/SEV-SNP initial VMSAs

This tool writes the VMCB save area each vCPU of a confidential VM starts with, as the AMD secure
processor measures it at launch.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(cmd); err != nil {
				return err
			}
			// Tests redirect output with SetOut and SetErr.
			if w := cmd.OutOrStdout(); w != os.Stdout {
				flags.Out = w
			}
			if w := cmd.ErrOrStderr(); w != os.Stderr {
				flags.Err = w
			}
			if app.Global != nil {
				return app.Global.PersistentPreRunE(cmd, args)
			}
			return nil
		},
	}
	cmd.SetContext(ctx)
	if app.Global != nil {
		app.Global.AddFlags(cmd)
	}
	flags.AddFlags(cmd)
	return cmd
}

type runFn func(*cobra.Command, []string) error
