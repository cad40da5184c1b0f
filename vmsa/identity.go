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

	sgpb "github.com/google/go-sev-guest/proto/sevsnp"
)

// Widths of the CPUID Fn0000_0001_EAX family/model/stepping encoding.
const (
	maxStepping = 0xf
	maxModel    = 0xff
	// Base family 0xf plus an 8-bit extended family.
	maxFamily = 0xf + 0xff
)

// CPUIdentity is the family, model, and stepping of an emulated CPU. The zero value means the
// hypervisor default is kept.
type CPUIdentity struct {
	Family   uint64
	Model    uint64
	Stepping uint64
}

var productIdentity = map[sgpb.SevProduct_SevProductName]CPUIdentity{
	sgpb.SevProduct_SEV_PRODUCT_MILAN: {Family: 0x19, Model: 0x01, Stepping: 1},
	sgpb.SevProduct_SEV_PRODUCT_GENOA: {Family: 0x19, Model: 0x11, Stepping: 1},
}

// IdentityForProduct returns the identity QEMU's EPYC CPU model of the given AMD product line
// reports.
func IdentityForProduct(product sgpb.SevProduct_SevProductName) (CPUIdentity, error) {
	id, ok := productIdentity[product]
	if !ok {
		return CPUIdentity{}, fmt.Errorf("no CPU identity known for product %v", product)
	}
	return id, nil
}

// IsZero returns whether no component of the identity is set.
func (c CPUIdentity) IsZero() bool {
	return c.Family == 0 && c.Model == 0 && c.Stepping == 0
}

func (c CPUIdentity) String() string {
	return fmt.Sprintf("family 0x%x model 0x%x stepping 0x%x", c.Family, c.Model, c.Stepping)
}

// Signature returns the CPUID Fn0000_0001_EAX encoding of the identity.
func (c CPUIdentity) Signature() (uint32, error) {
	if c.Stepping > maxStepping {
		return 0, fmt.Errorf("%w: stepping 0x%x > 0x%x", ErrValueOutOfRange, c.Stepping, maxStepping)
	}
	if c.Model > maxModel {
		return 0, fmt.Errorf("%w: model 0x%x > 0x%x", ErrValueOutOfRange, c.Model, maxModel)
	}
	if c.Family > maxFamily {
		return 0, fmt.Errorf("%w: family 0x%x > 0x%x", ErrValueOutOfRange, c.Family, maxFamily)
	}
	sig := uint32(c.Stepping)
	if c.Family > 0xf {
		sig |= 0xf<<8 | uint32(c.Family-0xf)<<20
	} else {
		sig |= uint32(c.Family) << 8
	}
	sig |= uint32(c.Model&0xf)<<4 | uint32(c.Model>>4)<<16
	return sig, nil
}

// IdentityFromSignature decodes a CPUID Fn0000_0001_EAX value.
func IdentityFromSignature(sig uint32) CPUIdentity {
	family := uint64(sig>>8) & 0xf
	if family == 0xf {
		family += uint64(sig>>20) & 0xff
	}
	return CPUIdentity{
		Family:   family,
		Model:    uint64(sig>>4)&0xf | (uint64(sig>>16)&0xf)<<4,
		Stepping: uint64(sig) & 0xf,
	}
}
