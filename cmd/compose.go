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
	"context"

	"github.com/google/vmsa-builder/storage/storagei"
	"github.com/spf13/cobra"
)

// CommandComponent represents any setup that must happen before running a command.
type CommandComponent interface {
	// InitContext extends the given context with whatever else the component needs before execution.
	InitContext(ctx context.Context) (context.Context, error)
	// AddFlags adds any implementation-specific flags for this command component.
	AddFlags(cmd *cobra.Command)
	// PersistentPreRunE returns an error if the results of the parsed flags constitute an error.
	PersistentPreRunE(cmd *cobra.Command, args []string) error
}

// AppComponents contains implementations of application interfaces needed to instantiate the
// vmsabuild CLI tool.
type AppComponents struct {
	// Global provides flags, validation, and context for every command.
	Global CommandComponent
	// Storage reads firmware and writes VMSA images.
	Storage storagei.Client
}

// MakeApp returns an initialized cobra root command for a CLI tool that includes all expected
// subcommands.
func MakeApp(ctx context.Context, app *AppComponents) *cobra.Command {
	cobra.EnableTraverseRunHooks = true
	root := makeRootCmd(ctx, app)
	root.AddCommand(makeBuildCmd(root.Context(), app))
	root.AddCommand(makeGUIDsCmd(root.Context(), app))
	root.AddCommand(makeLayoutCmd(root.Context(), app))
	return root
}

// Components dispatches to each held component in order.
type Components []CommandComponent

// InitContext extends the given context with whatever else the held components need before
// execution, or returns the first error encountered.
func (c Components) InitContext(ctx context.Context) (context.Context, error) {
	var err error
	for _, cmp := range c {
		if cmp == nil {
			continue
		}
		if ctx, err = cmp.InitContext(ctx); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// AddFlags adds any implementation-specific flags for the held command components.
func (c Components) AddFlags(cmd *cobra.Command) {
	for _, cmp := range c {
		if cmp != nil {
			cmp.AddFlags(cmd)
		}
	}
}

// PersistentPreRunE returns the first error from the held components' flag validation.
func (c Components) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	for _, cmp := range c {
		if cmp == nil {
			continue
		}
		if err := cmp.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
	}
	return nil
}

// Compose returns a component that runs all the given components in the order given. Nil
// components are skipped.
func Compose(cmps ...CommandComponent) Components { return cmps }

// PartialComponent implements a CommandComponent with the provided functions. Missing fields have
// reasonable default behavior.
type PartialComponent struct {
	FInitContext       func(ctx context.Context) (context.Context, error)
	FAddFlags          func(cmd *cobra.Command)
	FPersistentPreRunE func(cmd *cobra.Command, args []string) error
}

// InitContext extends the given context with whatever else the component needs before execution.
func (p *PartialComponent) InitContext(ctx context.Context) (context.Context, error) {
	if p.FInitContext == nil {
		return ctx, nil
	}
	return p.FInitContext(ctx)
}

// AddFlags adds any implementation-specific flags for this command component.
func (p *PartialComponent) AddFlags(cmd *cobra.Command) {
	if p.FAddFlags != nil {
		p.FAddFlags(cmd)
	}
}

// PersistentPreRunE returns an error if the results of the parsed flags constitute an error.
func (p *PartialComponent) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	if p.FPersistentPreRunE == nil {
		return nil
	}
	return p.FPersistentPreRunE(cmd, args)
}

// composeRun returns run called with a command's context that has been extended by cmp's
// InitContext.
func composeRun(cmp CommandComponent, run func(context.Context) error) runFn {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, err := cmp.InitContext(cmd.Context())
		if err != nil {
			return err
		}
		return run(ctx)
	}
}
