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

// Package config reads build profiles from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/go-sev-guest/kds"
	"github.com/google/vmsa-builder/build"
	"github.com/google/vmsa-builder/vmsa"
	"gopkg.in/yaml.v3"
)

// Profile is the file form of a build. Empty platform fields take the defaults amd64, kvm, and
// qemu.
type Profile struct {
	Arch       string `yaml:"arch"`
	Hypervisor string `yaml:"hypervisor"`
	Vmm        string `yaml:"vmm"`
	// CPU is the index of the single vCPU to build. Mutually exclusive with Vcpus.
	CPU int `yaml:"cpu"`
	// Vcpus is the number of vCPUs to build, in which case Out must contain %d.
	Vcpus    int    `yaml:"vcpus"`
	Family   uint64 `yaml:"family"`
	Model    uint64 `yaml:"model"`
	Stepping uint64 `yaml:"stepping"`
	// Product is an AMD product line such as Milan or Genoa. Explicit family, model, or stepping
	// take precedence.
	Product                string `yaml:"product"`
	SevFeatures            uint64 `yaml:"sev_features"`
	Firmware               string `yaml:"firmware"`
	Out                    string `yaml:"out"`
	AllowMissingResetBlock bool   `yaml:"allow_missing_reset_block"`
}

// Parse decodes a profile. Unknown keys are an error.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate returns an error if the profile's fields are inconsistent.
func (p *Profile) Validate() error {
	if p.CPU < 0 {
		return fmt.Errorf("cpu %d is negative", p.CPU)
	}
	if p.Vcpus < 0 {
		return fmt.Errorf("vcpus %d is negative", p.Vcpus)
	}
	if p.Vcpus > 0 && p.CPU != 0 {
		return errors.New("cpu and vcpus are mutually exclusive")
	}
	return nil
}

// Count returns how many vCPUs the profile builds.
func (p *Profile) Count() int {
	if p.Vcpus > 0 {
		return p.Vcpus
	}
	return 1
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Identity returns the CPU identity the profile asks for, which is zero if it names none.
func (p *Profile) Identity() (vmsa.CPUIdentity, error) {
	id := vmsa.CPUIdentity{Family: p.Family, Model: p.Model, Stepping: p.Stepping}
	if !id.IsZero() || p.Product == "" {
		return id, nil
	}
	product, err := kds.ParseProductLine(p.Product)
	if err != nil {
		return vmsa.CPUIdentity{}, fmt.Errorf("product %q: %w", p.Product, err)
	}
	return vmsa.IdentityForProduct(product.Name)
}

// Options resolves the profile into build options. The firmware is left for the caller to load
// from the Firmware path.
func (p *Profile) Options() (*build.Options, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	arch, err := vmsa.ParseArchitecture(orDefault(p.Arch, "amd64"))
	if err != nil {
		return nil, err
	}
	hypervisor, err := vmsa.ParseHypervisor(orDefault(p.Hypervisor, "kvm"))
	if err != nil {
		return nil, err
	}
	vmm, err := vmsa.ParseVmm(orDefault(p.Vmm, "qemu"))
	if err != nil {
		return nil, err
	}
	id, err := p.Identity()
	if err != nil {
		return nil, err
	}
	return &build.Options{
		Profile:                vmsa.Profile{Arch: arch, Hypervisor: hypervisor, Vmm: vmm},
		Identity:               id,
		SevFeatures:            p.SevFeatures,
		RequireResetBlock:      !p.AllowMissingResetBlock,
	}, nil
}
