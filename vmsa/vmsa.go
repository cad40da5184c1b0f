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

// Package vmsa builds the initial VMCB save area (VMSA) of an SEV-ES or SEV-SNP vCPU as the AMD
// secure processor measures it at launch.
package vmsa

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

var (
	// ErrUnsupportedArchitecture is returned for architectures without a VMSA layout.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	// ErrValueOutOfRange is returned when a value does not fit the bit width of its field.
	ErrValueOutOfRange = errors.New("value out of range")
)

// EntryStateFields are the fields a VMM's entry convention writes to select where and with what
// register arguments a vCPU starts.
var EntryStateFields = []string{
	SegmentCs + ".selector",
	SegmentCs + ".base",
	FieldRip,
	FieldRsp,
	FieldRbp,
	FieldRsi,
}

// Segment is the VMCB segment register encoding (struct vmcb_seg in the linux kernel).
type Segment struct {
	Selector uint16
	Attrib   uint16
	Limit    uint32
	Base     uint64
}

// Image is one vCPU's VMSA.
type Image struct {
	layout *Layout
	data   []byte
}

// NewDefault returns the VMSA an architecture's vCPU holds coming out of reset, before any
// hypervisor or VMM configures it.
func NewDefault(arch Architecture) (*Image, error) {
	layout, err := LayoutFor(arch)
	if err != nil {
		return nil, err
	}
	img := &Image{layout: layout, data: make([]byte, layout.Size)}
	switch arch {
	case ArchitectureAMD64:
		img.initAMD64()
	}
	return img, nil
}

// Values from the AMD64 APM Volume 2, Section 14.1.3 "Processor Initialization State".
func (img *Image) initAMD64() {
	data := Segment{Attrib: 0x0093, Limit: 0xffff}
	for _, name := range []string{SegmentEs, SegmentSs, SegmentDs, SegmentFs, SegmentGs} {
		img.setSegment(name, data)
	}
	img.setSegment(SegmentCs, Segment{Selector: 0xf000, Attrib: 0x009b, Limit: 0xffff, Base: 0xffff0000})
	img.setSegment(SegmentGdtr, Segment{Limit: 0xffff})
	img.setSegment(SegmentIdtr, Segment{Limit: 0xffff})
	// Present, LDT.
	img.setSegment(SegmentLdtr, Segment{Attrib: 0x0082, Limit: 0xffff})
	// Present, busy 32-bit TSS.
	img.setSegment(SegmentTr, Segment{Attrib: 0x008b, Limit: 0xffff})

	img.set(FieldCr0, 0x10) // CR0.ET
	img.set(FieldDr6, 0xffff0ff0)
	img.set(FieldDr7, 0x400)
	img.set(FieldRflags, 0x2)
	img.set(FieldRip, 0xfff0)
	img.set(FieldGPat, 0x0007040600070406) // PAT MSR: See AMD APM Vol 2, Section A.3.
	img.set(FieldXcr0, 0x1)
}

// ApplyHypervisorDefaults sets the fields the hypervisor backend fixes when it creates the vCPU.
func (img *Image) ApplyHypervisorDefaults(h Hypervisor) {
	// svm_set_efer() sets EFER_SVME and svm_set_cr4() sets X86_CR4_MCE if the host has it.
	img.set(FieldEfer, 0x1000)
	img.set(FieldCr4, 0x40)
	// RDX holds the CPUID signature at reset; 0x600 when no CPUID is configured yet.
	img.set(FieldRdx, 0x600)
	switch h {
	case HypervisorKVM:
		// fx_init() on vCPU reset.
		img.set(FieldMxcsr, 0x1f80)
		img.set(FieldX87Fcw, 0x37f)
	case HypervisorGCE:
		// The GCE hypervisor overwrites the default g_pat and always launches SNP-active vCPUs.
		img.set(FieldGPat, 0x00070106)
		img.set(FieldSevFeatures, 0x1)
	}
}

// ApplyVmmDefaults sets the entry state the userspace VMM gives the vCPU at index.
func (img *Image) ApplyVmmDefaults(v Vmm, index int) {
	switch v {
	case VmmQEMU:
		// QEMU leaves every vCPU at the architectural reset vector. Application processors are
		// redirected by the firmware's reset block instead.
		cs := img.Segment(SegmentCs)
		cs.Selector = 0xf000
		cs.Base = 0xffff0000
		img.setSegment(SegmentCs, cs)
		img.set(FieldRip, 0xfff0)
	case VmmKrun:
		if index == 0 {
			// Zero page and boot stack of the libkrun firmware.
			img.set(FieldRsi, 0x7000)
			img.set(FieldRbp, 0x8ff0)
			img.set(FieldRsp, 0x8ff0)
			return
		}
		// Secondary vCPUs start in the trampoline at 0x9100:0000.
		cs := img.Segment(SegmentCs)
		cs.Selector = 0x9100
		cs.Base = 0x91000
		img.setSegment(SegmentCs, cs)
		img.set(FieldRip, 0)
		img.set(FieldRsp, 0)
		img.set(FieldRbp, 0)
		img.set(FieldRsi, 0)
	}
}

// ApplyCPUIdentity writes the CPUID signature of the emulated CPU into RDX. A zero identity leaves
// the image unchanged.
func (img *Image) ApplyCPUIdentity(id CPUIdentity) error {
	if id.IsZero() {
		return nil
	}
	sig, err := id.Signature()
	if err != nil {
		return err
	}
	img.set(FieldRdx, uint64(sig))
	return nil
}

// ApplyResetAddress points CS:RIP at a real-mode reset address.
func (img *Image) ApplyResetAddress(addr uint32) {
	cs := img.Segment(SegmentCs)
	cs.Base = uint64(addr & 0xffff0000)
	img.setSegment(SegmentCs, cs)
	img.set(FieldRip, uint64(addr&0x0000ffff))
}

// ApplySevFeatures sets the guest's SEV_FEATURES. Zero keeps the hypervisor default.
func (img *Image) ApplySevFeatures(features uint64) {
	if features != 0 {
		img.set(FieldSevFeatures, features)
	}
}

// ResetVector returns the linear address CS:RIP designates.
func (img *Image) ResetVector() uint64 {
	rip, _ := img.Field(FieldRip)
	return img.Segment(SegmentCs).Base + rip
}

// Layout returns the layout the image follows.
func (img *Image) Layout() *Layout { return img.layout }

// Bytes returns the image in its ABI format.
func (img *Image) Bytes() []byte { return slices.Clone(img.data) }

// Clone returns an independent copy of the image.
func (img *Image) Clone() *Image { return &Image{layout: img.layout, data: slices.Clone(img.data)} }

// Field returns the value of a field of width 1, 2, 4, or 8 bytes.
func (img *Image) Field(name string) (uint64, error) {
	f, ok := img.layout.Field(name)
	if !ok {
		return 0, fmt.Errorf("no field %q in %v VMSA", name, img.layout.Arch)
	}
	b := img.data[f.Offset:f.End()]
	switch f.Size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("field %q has size %d, which is not an integer", name, f.Size)
}

// SetField writes an integer field. Values wider than the field are rejected rather than
// truncated.
func (img *Image) SetField(name string, value uint64) error {
	f, ok := img.layout.Field(name)
	if !ok {
		return fmt.Errorf("no field %q in %v VMSA", name, img.layout.Arch)
	}
	if f.Reserved {
		return fmt.Errorf("field %q is reserved", name)
	}
	b := img.data[f.Offset:f.End()]
	if f.Size < 8 && value >= uint64(1)<<(8*f.Size) {
		return fmt.Errorf("%w: 0x%x does not fit in %d-byte field %q", ErrValueOutOfRange, value, f.Size, name)
	}
	switch f.Size {
	case 1:
		b[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		return fmt.Errorf("field %q has size %d, which is not an integer", name, f.Size)
	}
	return nil
}

// set is SetField for fields and values the builder knows are valid.
func (img *Image) set(name string, value uint64) {
	if err := img.SetField(name, value); err != nil {
		panic(fmt.Sprintf("internal: %v", err))
	}
}

// Segment returns the named segment register.
func (img *Image) Segment(name string) Segment {
	selector, _ := img.Field(name + ".selector")
	attrib, _ := img.Field(name + ".attrib")
	limit, _ := img.Field(name + ".limit")
	base, _ := img.Field(name + ".base")
	return Segment{Selector: uint16(selector), Attrib: uint16(attrib), Limit: uint32(limit), Base: base}
}

func (img *Image) setSegment(name string, s Segment) {
	img.set(name+".selector", uint64(s.Selector))
	img.set(name+".attrib", uint64(s.Attrib))
	img.set(name+".limit", uint64(s.Limit))
	img.set(name+".base", s.Base)
}
