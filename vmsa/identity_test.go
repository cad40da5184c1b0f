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
	"errors"
	"testing"

	sgpb "github.com/google/go-sev-guest/proto/sevsnp"
)

func TestIdentityForProduct(t *testing.T) {
	tcs := []struct {
		product sgpb.SevProduct_SevProductName
		want    uint32
		wantErr bool
	}{
		{product: sgpb.SevProduct_SEV_PRODUCT_MILAN, want: 0x00a00f11},
		{product: sgpb.SevProduct_SEV_PRODUCT_GENOA, want: 0x00a10f11},
		{product: sgpb.SevProduct_SEV_PRODUCT_UNKNOWN, wantErr: true},
	}
	for _, tc := range tcs {
		id, err := IdentityForProduct(tc.product)
		if (err != nil) != tc.wantErr {
			t.Fatalf("IdentityForProduct(%v) = %v, %v, want error %v", tc.product, id, err, tc.wantErr)
		}
		if err != nil {
			continue
		}
		sig, err := id.Signature()
		if err != nil || sig != tc.want {
			t.Errorf("IdentityForProduct(%v).Signature() = 0x%x, %v, want 0x%x", tc.product, sig, err, tc.want)
		}
	}
}

func TestParseProfile(t *testing.T) {
	if a, err := ParseArchitecture("x86_64"); err != nil || a != ArchitectureAMD64 {
		t.Errorf("ParseArchitecture(x86_64) = %v, %v, want amd64", a, err)
	}
	if a, err := ParseArchitecture("aarch64"); err != nil || a != ArchitectureARM64 {
		t.Errorf("ParseArchitecture(aarch64) = %v, %v, want arm64", a, err)
	}
	if _, err := ParseArchitecture("riscv64"); !errors.Is(err, ErrUnsupportedArchitecture) {
		t.Errorf("ParseArchitecture(riscv64) = %v, want %v", err, ErrUnsupportedArchitecture)
	}
	if h, err := ParseHypervisor("GCE"); err != nil || h != HypervisorGCE {
		t.Errorf("ParseHypervisor(GCE) = %v, %v, want gce", h, err)
	}
	if _, err := ParseHypervisor("xen"); err == nil {
		t.Error("ParseHypervisor(xen) succeeded, want error")
	}
	if v, err := ParseVmm("libkrun"); err != nil || v != VmmKrun {
		t.Errorf("ParseVmm(libkrun) = %v, %v, want krun", v, err)
	}
	if _, err := ParseVmm("firecracker"); err == nil {
		t.Error("ParseVmm(firecracker) succeeded, want error")
	}
	p := Profile{Arch: ArchitectureAMD64, Hypervisor: HypervisorKVM, Vmm: VmmQEMU}
	if got := p.String(); got != "amd64/kvm/qemu" {
		t.Errorf("%#v.String() = %q, want %q", p, got, "amd64/kvm/qemu")
	}
}
