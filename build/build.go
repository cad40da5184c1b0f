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

// Package build sequences the construction of initial VMSAs for a launch: the architecture
// default, then the hypervisor, VMM, CPU identity, and firmware reset address in that order.
package build

import (
	"errors"
	"fmt"

	"github.com/google/vmsa-builder/cmd/output"
	"github.com/google/vmsa-builder/ovmf"
	"github.com/google/vmsa-builder/vmsa"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
)

// Options describe every vCPU of one launch.
type Options struct {
	Profile vmsa.Profile
	// Identity overrides the CPUID signature in RDX unless zero.
	Identity vmsa.CPUIdentity
	// SevFeatures overrides the hypervisor's SEV_FEATURES unless zero.
	SevFeatures uint64
	// Firmware is the OVMF image the guest boots, if any.
	Firmware []byte
	// RequireResetBlock fails the build when a vCPU needs the firmware's SEV-ES reset block and
	// the firmware has none. Otherwise the VMM's entry point is kept with a warning.
	RequireResetBlock bool
}

// firmwareReset is what a launch needs from the firmware.
type firmwareReset struct {
	addr  uint32
	found bool
}

// parseFirmware validates the firmware's GUID table and, if needed, finds its reset address.
func parseFirmware(ctx context.Context, opts *Options, needReset bool) (*firmwareReset, error) {
	result := &firmwareReset{}
	if opts.Firmware == nil {
		return result, nil
	}
	entries, err := ovmf.Entries(opts.Firmware)
	if err != nil {
		return nil, &Error{Phase: PhaseParse, VCPU: -1, Err: err}
	}
	output.Debugf(ctx, "firmware GUID table has %d entries", len(entries))
	if !needReset {
		return result, nil
	}
	addr, err := ovmf.ResetAddress(opts.Firmware)
	if errors.Is(err, ovmf.ErrEntryNotFound) && !opts.RequireResetBlock {
		output.Warningf(ctx, "firmware has no SEV-ES reset block, keeping the %v entry point", opts.Profile.Vmm)
		return result, nil
	}
	if err != nil {
		return nil, &Error{Phase: PhaseParse, VCPU: -1, Err: err}
	}
	output.Debugf(ctx, "firmware SEV-ES reset address 0x%08x", addr)
	result.addr = addr
	result.found = true
	return result, nil
}

func buildVCPU(ctx context.Context, opts *Options, index int, reset *firmwareReset) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, &Error{Phase: PhaseBuild, VCPU: index, Err: err}
	}
	if index < 0 {
		return fail(fmt.Errorf("vCPU index %d is negative", index))
	}
	img, err := vmsa.NewDefault(opts.Profile.Arch)
	if err != nil {
		return fail(err)
	}
	img.ApplyHypervisorDefaults(opts.Profile.Hypervisor)
	img.ApplyVmmDefaults(opts.Profile.Vmm, index)
	if err := img.ApplyCPUIdentity(opts.Identity); err != nil {
		return fail(err)
	}
	img.ApplySevFeatures(opts.SevFeatures)
	if reset.found && vmsa.AppliesFirmwareReset(opts.Profile.Vmm, index) {
		img.ApplyResetAddress(reset.addr)
	}
	output.Debugf(ctx, "vCPU %d: %v VMSA starts at 0x%x", index, opts.Profile, img.ResetVector())
	return img.Bytes(), nil
}

// VCPU returns the initial VMSA of the vCPU at index.
func VCPU(ctx context.Context, opts *Options, index int) ([]byte, error) {
	reset, err := parseFirmware(ctx, opts, vmsa.AppliesFirmwareReset(opts.Profile.Vmm, index))
	if err != nil {
		return nil, err
	}
	return buildVCPU(ctx, opts, index, reset)
}

// All returns the initial VMSAs of vCPUs 0 through count-1. The firmware is parsed once and the
// vCPUs are built concurrently.
func All(ctx context.Context, opts *Options, count int) ([][]byte, error) {
	if count < 1 {
		return nil, &Error{Phase: PhaseBuild, VCPU: -1, Err: fmt.Errorf("vCPU count %d is not positive", count)}
	}
	needReset := false
	for i := 0; i < count; i++ {
		needReset = needReset || vmsa.AppliesFirmwareReset(opts.Profile.Vmm, i)
	}
	reset, err := parseFirmware(ctx, opts, needReset)
	if err != nil {
		return nil, err
	}
	images := make([][]byte, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			image, err := buildVCPU(gctx, opts, i, reset)
			if err != nil {
				return err
			}
			images[i] = image
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
