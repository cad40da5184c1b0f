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
	"fmt"

	"github.com/google/go-sev-guest/kds"
	sgpb "github.com/google/go-sev-guest/proto/sevsnp"
	"github.com/google/vmsa-builder/build"
	"github.com/google/vmsa-builder/cmd/output"
	"github.com/google/vmsa-builder/config"
	"github.com/google/vmsa-builder/storage/ops"
	"github.com/google/vmsa-builder/storage/storagei"
	"github.com/google/vmsa-builder/vmsa"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// stdoutName is the --out value that writes the VMSA to stdout.
const stdoutName = "-"

// buildFlags are the build command's flag destinations. Flags a user sets override the same key of
// the --config file.
type buildFlags struct {
	config  string
	profile config.Profile
	product sgpb.SevProduct_SevProductName
	vcpuSig uint64
}

// overrides maps each flag to how it replaces a profile value.
var overrides = map[string]func(dst *config.Profile, f *buildFlags){
	"arch":       func(dst *config.Profile, f *buildFlags) { dst.Arch = f.profile.Arch },
	"hypervisor": func(dst *config.Profile, f *buildFlags) { dst.Hypervisor = f.profile.Hypervisor },
	"vmm":        func(dst *config.Profile, f *buildFlags) { dst.Vmm = f.profile.Vmm },
	"cpu":        func(dst *config.Profile, f *buildFlags) { dst.CPU = f.profile.CPU },
	"vcpus":      func(dst *config.Profile, f *buildFlags) { dst.Vcpus = f.profile.Vcpus },
	"family":     func(dst *config.Profile, f *buildFlags) { dst.Family = f.profile.Family },
	"model":      func(dst *config.Profile, f *buildFlags) { dst.Model = f.profile.Model },
	"stepping":   func(dst *config.Profile, f *buildFlags) { dst.Stepping = f.profile.Stepping },
	"product": func(dst *config.Profile, f *buildFlags) {
		dst.Product = kds.ProductLine(&sgpb.SevProduct{Name: f.product})
		// A product replaces the whole identity. Identity flags apply after it.
		dst.Family, dst.Model, dst.Stepping = 0, 0, 0
	},
	"vcpu_sig": func(dst *config.Profile, f *buildFlags) {
		id := vmsa.IdentityFromSignature(uint32(f.vcpuSig))
		dst.Family, dst.Model, dst.Stepping = id.Family, id.Model, id.Stepping
	},
	"sev_features": func(dst *config.Profile, f *buildFlags) { dst.SevFeatures = f.profile.SevFeatures },
	"firmware":     func(dst *config.Profile, f *buildFlags) { dst.Firmware = f.profile.Firmware },
	"out":          func(dst *config.Profile, f *buildFlags) { dst.Out = f.profile.Out },
	"allow_missing_reset_block": func(dst *config.Profile, f *buildFlags) {
		dst.AllowMissingResetBlock = f.profile.AllowMissingResetBlock
	},
}

// The identity flags apply after vcpu_sig so that explicit components win.
var overrideOrder = []string{"arch", "hypervisor", "vmm", "cpu", "vcpus", "product", "vcpu_sig", "family",
	"model", "stepping", "sev_features", "firmware", "out", "allow_missing_reset_block"}

func (f *buildFlags) addFlags(cmd *cobra.Command) {
	p := &f.profile
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "Path to a YAML build profile. Flags override its values.")
	addArchFlag(cmd, &p.Arch)
	pf.StringVar(&p.Hypervisor, "hypervisor", "kvm", "Hypervisor backend. One of kvm, gce")
	pf.StringVar(&p.Vmm, "vmm", "qemu", "Userspace VMM. One of qemu, krun")
	pf.IntVar(&p.CPU, "cpu", 0, "Index of the single vCPU to build")
	pf.IntVar(&p.Vcpus, "vcpus", 0, "Build vCPUs 0 through N-1. --out must then contain %d.")
	pf.Uint64Var(&p.Family, "family", 0, "CPUID family of the emulated CPU")
	pf.Uint64Var(&p.Model, "model", 0, "CPUID model of the emulated CPU")
	pf.Uint64Var(&p.Stepping, "stepping", 0, "CPUID stepping of the emulated CPU")
	pf.AddGoFlag(amdProductVar(&f.product, "product", sgpb.SevProduct_SEV_PRODUCT_UNKNOWN,
		"AMD product line whose CPU identity to emulate. One of Milan, Genoa"))
	pf.AddGoFlag(hexVar(&f.vcpuSig, 32, "vcpu_sig", "CPUID Fn0000_0001_EAX signature of the emulated CPU"))
	pf.AddGoFlag(hexVar(&p.SevFeatures, 64, "sev_features", "SEV_FEATURES of the guest. 0 keeps the hypervisor default."))
	addFirmwareFlag(cmd, &p.Firmware)
	pf.StringVar(&p.Out, "out", "", "Output file, or - for stdout")
	pf.BoolVar(&p.AllowMissingResetBlock, "allow_missing_reset_block", false,
		"Keep the VMM entry point for application processors if the firmware has no SEV-ES reset block.")
}

// resolve returns the --config profile with every flag the user set applied on top.
func (f *buildFlags) resolve(cmd *cobra.Command) (*config.Profile, error) {
	p := &config.Profile{}
	if f.config != "" {
		var err error
		if p, err = config.Load(f.config); err != nil {
			return nil, err
		}
	}
	for _, name := range overrideOrder {
		if cmd.Flags().Changed(name) {
			overrides[name](p, f)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Out == "" {
		return nil, errors.New("--out is required")
	}
	if p.Out == stdoutName && p.Count() > 1 {
		return nil, errors.New("--out - holds a single VMSA, use a file pattern with --vcpus")
	}
	return p, nil
}

func readFirmware(ctx context.Context, client storagei.Client, path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	firmware, err := ops.ReadFile(ctx, client, "", path)
	if err != nil {
		return nil, fmt.Errorf("could not read firmware: %w", err)
	}
	output.Debugf(ctx, "read %d bytes of firmware from %s", len(firmware), path)
	return firmware, nil
}

func runBuild(ctx context.Context, client storagei.Client, p *config.Profile) error {
	if p.Out == stdoutName {
		ctx = output.WithImageOnStdout(ctx)
	}
	opts, err := p.Options()
	if err != nil {
		return err
	}
	if opts.Firmware, err = readFirmware(ctx, client, p.Firmware); err != nil {
		return err
	}
	var images [][]byte
	var names []string
	if p.Vcpus > 0 {
		if names, err = build.ImageNames(p.Out, 0, p.Vcpus); err != nil {
			return err
		}
		if images, err = build.All(ctx, opts, p.Vcpus); err != nil {
			return err
		}
	} else {
		if p.Out != stdoutName {
			if names, err = build.ImageNames(p.Out, p.CPU, 1); err != nil {
				return err
			}
		}
		image, err := build.VCPU(ctx, opts, p.CPU)
		if err != nil {
			return err
		}
		images = [][]byte{image}
	}
	if p.Out == stdoutName {
		return output.Image(ctx, images[0])
	}
	if err := build.WriteAll(ctx, client, "", names, images); err != nil {
		return err
	}
	for _, name := range names {
		output.Infof(ctx, "%s", name)
	}
	return nil
}

func makeBuildCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	f := &buildFlags{}
	var profile *config.Profile
	cmp := &PartialComponent{
		FAddFlags: f.addFlags,
		FPersistentPreRunE: func(cmd *cobra.Command, _ []string) (err error) {
			profile, err = f.resolve(cmd)
			return err
		},
	}
	cmd := &cobra.Command{
		Use:   "build [flags]",
		Short: "Build initial VMSAs",
		Long: `Builds the initial VMSA of one vCPU, or of vCPUs 0 through N-1 with --vcpus, for the
given architecture, hypervisor, userspace VMM, CPU identity, and firmware.`,
		PersistentPreRunE: cmp.PersistentPreRunE,
		RunE: composeRun(Compose(app.Global, cmp), func(ctx context.Context) error {
			return runBuild(ctx, app.Storage, profile)
		}),
	}
	cmd.SetContext(ctx)
	cmp.AddFlags(cmd)
	return cmd
}
