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

package vmsa

import (
	"fmt"
	"strings"
)

// Architecture is the CPU architecture a VMSA is laid out for.
type Architecture int

const (
	// ArchitectureUnknown is the zero value and never has a layout.
	ArchitectureUnknown Architecture = iota
	// ArchitectureAMD64 is AMD SEV-ES/SEV-SNP.
	ArchitectureAMD64
	// ArchitectureARM64 is recognized but has no VMSA layout.
	ArchitectureARM64
)

func (a Architecture) String() string {
	switch a {
	case ArchitectureAMD64:
		return "amd64"
	case ArchitectureARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Architecture(%d)", int(a))
	}
}

// ParseArchitecture returns the architecture named by s.
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(s) {
	case "amd64", "x86_64", "x86-64":
		return ArchitectureAMD64, nil
	case "arm64", "aarch64":
		return ArchitectureARM64, nil
	}
	return ArchitectureUnknown, fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, s)
}

// Hypervisor is the kernel-side virtualization backend whose launch contract fixes some VMSA
// fields.
type Hypervisor int

const (
	// HypervisorKVM is upstream Linux KVM.
	HypervisorKVM Hypervisor = iota
	// HypervisorGCE is the Google Compute Engine hypervisor.
	HypervisorGCE
)

func (h Hypervisor) String() string {
	switch h {
	case HypervisorKVM:
		return "kvm"
	case HypervisorGCE:
		return "gce"
	default:
		return fmt.Sprintf("Hypervisor(%d)", int(h))
	}
}

// ParseHypervisor returns the hypervisor backend named by s.
func ParseHypervisor(s string) (Hypervisor, error) {
	switch strings.ToLower(s) {
	case "kvm":
		return HypervisorKVM, nil
	case "gce":
		return HypervisorGCE, nil
	}
	return 0, fmt.Errorf("unknown hypervisor %q, want one of kvm|gce", s)
}

// Vmm is the userspace VMM variant. Variants differ in where they stage firmware and how they
// wire each vCPU's entry point.
type Vmm int

const (
	// VmmQEMU is QEMU.
	VmmQEMU Vmm = iota
	// VmmKrun is libkrun.
	VmmKrun
)

func (v Vmm) String() string {
	switch v {
	case VmmQEMU:
		return "qemu"
	case VmmKrun:
		return "krun"
	default:
		return fmt.Sprintf("Vmm(%d)", int(v))
	}
}

// ParseVmm returns the userspace VMM variant named by s.
func ParseVmm(s string) (Vmm, error) {
	switch strings.ToLower(s) {
	case "qemu":
		return VmmQEMU, nil
	case "krun", "libkrun":
		return VmmKrun, nil
	}
	return 0, fmt.Errorf("unknown vmm %q, want one of qemu|krun", s)
}

// Profile selects the platform a VMSA is built for.
type Profile struct {
	Arch       Architecture
	Hypervisor Hypervisor
	Vmm        Vmm
}

func (p Profile) String() string {
	return fmt.Sprintf("%v/%v/%v", p.Arch, p.Hypervisor, p.Vmm)
}

// AppliesFirmwareReset returns whether the vCPU at index starts from the reset address the
// firmware declares in its SEV-ES reset block rather than from the VMM's own entry point.
//
// Under QEMU the boot processor keeps the architectural reset vector and application processors
// are released through the firmware's AP reset vector.
func AppliesFirmwareReset(vmm Vmm, index int) bool {
	return vmm == VmmQEMU && index != 0
}
