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

	"golang.org/x/exp/slices"
)

// Size is the ABI size of the amd64 VMSA page as measured by the AMD secure processor.
const Size = 0x1000

// Names of the layout fields the builder writes.
const (
	FieldEfer        = "efer"
	FieldCr4         = "cr4"
	FieldCr0         = "cr0"
	FieldDr7         = "dr7"
	FieldDr6         = "dr6"
	FieldRflags      = "rflags"
	FieldRip         = "rip"
	FieldRsp         = "rsp"
	FieldGPat        = "g_pat"
	FieldRdx         = "rdx"
	FieldRbp         = "rbp"
	FieldRsi         = "rsi"
	FieldSevFeatures = "sev_features"
	FieldXcr0        = "xcr0"
	FieldMxcsr       = "mxcsr"
	FieldX87Fcw      = "x87_fcw"

	SegmentEs   = "es"
	SegmentCs   = "cs"
	SegmentSs   = "ss"
	SegmentDs   = "ds"
	SegmentFs   = "fs"
	SegmentGs   = "gs"
	SegmentGdtr = "gdtr"
	SegmentLdtr = "ldtr"
	SegmentIdtr = "idtr"
	SegmentTr   = "tr"
)

// Field is one named byte range of a VMSA. All multi-byte values are little endian.
type Field struct {
	Name     string
	Offset   int
	Size     int
	Reserved bool
}

// End returns the offset just past the field.
func (f Field) End() int { return f.Offset + f.Size }

// Layout describes every byte of an architecture's VMSA.
type Layout struct {
	Arch   Architecture
	Size   int
	Fields []Field

	byName map[string]Field
}

func newLayout(arch Architecture, size int, fields []Field) *Layout {
	l := &Layout{Arch: arch, Size: size, Fields: fields, byName: make(map[string]Field, len(fields))}
	for _, f := range fields {
		l.byName[f.Name] = f
	}
	return l
}

// Field returns the named field if the layout has it.
func (l *Layout) Field(name string) (Field, bool) {
	f, ok := l.byName[name]
	return f, ok
}

// Validate returns an error unless the fields are uniquely named, sorted, and tile [0, Size)
// without gaps or overlap.
func (l *Layout) Validate() error {
	if len(l.byName) != len(l.Fields) {
		return fmt.Errorf("%v layout has %d fields but only %d unique names", l.Arch, len(l.Fields), len(l.byName))
	}
	if !slices.IsSortedFunc(l.Fields, func(a, b Field) int { return a.Offset - b.Offset }) {
		return fmt.Errorf("%v layout fields are not sorted by offset", l.Arch)
	}
	next := 0
	for _, f := range l.Fields {
		if f.Size <= 0 {
			return fmt.Errorf("%v layout field %q has size %d", l.Arch, f.Name, f.Size)
		}
		if f.Offset < next {
			return fmt.Errorf("%v layout field %q at 0x%x overlaps the previous field ending at 0x%x",
				l.Arch, f.Name, f.Offset, next)
		}
		if f.Offset > next {
			return fmt.Errorf("%v layout has a gap [0x%x, 0x%x) before field %q", l.Arch, next, f.Offset, f.Name)
		}
		next = f.End()
	}
	if next != l.Size {
		return fmt.Errorf("%v layout covers 0x%x bytes, want 0x%x", l.Arch, next, l.Size)
	}
	return nil
}

func segment(name string, offset int) []Field {
	return []Field{
		{Name: name + ".selector", Offset: offset, Size: 2},
		{Name: name + ".attrib", Offset: offset + 2, Size: 2},
		{Name: name + ".limit", Offset: offset + 4, Size: 4},
		{Name: name + ".base", Offset: offset + 8, Size: 8},
	}
}

func reserved(offset, size int) Field {
	return Field{Name: fmt.Sprintf("reserved_0x%x", offset), Offset: offset, Size: size, Reserved: true}
}

// Types and offsets specified by the AMD64 Architecture Programmer's Manual Volume 2, Table B-4
// "VMSA Layout, State Save Area for SEV-ES".
func amd64Fields() []Field {
	var fields []Field
	for i, name := range []string{SegmentEs, SegmentCs, SegmentSs, SegmentDs, SegmentFs, SegmentGs,
		SegmentGdtr, SegmentLdtr, SegmentIdtr, SegmentTr} {
		fields = append(fields, segment(name, i*0x10)...)
	}
	return append(fields,
		Field{Name: "vmpl0_ssp", Offset: 0x0A0, Size: 8},
		Field{Name: "vmpl1_ssp", Offset: 0x0A8, Size: 8},
		Field{Name: "vmpl2_ssp", Offset: 0x0B0, Size: 8},
		Field{Name: "vmpl3_ssp", Offset: 0x0B8, Size: 8},
		Field{Name: "u_cet", Offset: 0x0C0, Size: 8},
		reserved(0x0C8, 2),
		Field{Name: "vmpl", Offset: 0x0CA, Size: 1},
		Field{Name: "cpl", Offset: 0x0CB, Size: 1},
		reserved(0x0CC, 4),
		Field{Name: FieldEfer, Offset: 0x0D0, Size: 8},
		reserved(0x0D8, 0x68),
		Field{Name: "xss", Offset: 0x140, Size: 8},
		Field{Name: FieldCr4, Offset: 0x148, Size: 8},
		Field{Name: "cr3", Offset: 0x150, Size: 8},
		Field{Name: FieldCr0, Offset: 0x158, Size: 8},
		Field{Name: FieldDr7, Offset: 0x160, Size: 8},
		Field{Name: FieldDr6, Offset: 0x168, Size: 8},
		Field{Name: FieldRflags, Offset: 0x170, Size: 8},
		Field{Name: FieldRip, Offset: 0x178, Size: 8},
		Field{Name: "dr0", Offset: 0x180, Size: 8},
		Field{Name: "dr1", Offset: 0x188, Size: 8},
		Field{Name: "dr2", Offset: 0x190, Size: 8},
		Field{Name: "dr3", Offset: 0x198, Size: 8},
		Field{Name: "dr0_addr_mask", Offset: 0x1A0, Size: 8},
		Field{Name: "dr1_addr_mask", Offset: 0x1A8, Size: 8},
		Field{Name: "dr2_addr_mask", Offset: 0x1B0, Size: 8},
		Field{Name: "dr3_addr_mask", Offset: 0x1B8, Size: 8},
		reserved(0x1C0, 0x18),
		Field{Name: FieldRsp, Offset: 0x1D8, Size: 8},
		Field{Name: "s_cet", Offset: 0x1E0, Size: 8},
		Field{Name: "ssp", Offset: 0x1E8, Size: 8},
		Field{Name: "isst_addr", Offset: 0x1F0, Size: 8},
		Field{Name: "rax", Offset: 0x1F8, Size: 8},
		Field{Name: "star", Offset: 0x200, Size: 8},
		Field{Name: "lstar", Offset: 0x208, Size: 8},
		Field{Name: "cstar", Offset: 0x210, Size: 8},
		Field{Name: "sfmask", Offset: 0x218, Size: 8},
		Field{Name: "kernel_gs_base", Offset: 0x220, Size: 8},
		Field{Name: "sysenter_cs", Offset: 0x228, Size: 8},
		Field{Name: "sysenter_esp", Offset: 0x230, Size: 8},
		Field{Name: "sysenter_eip", Offset: 0x238, Size: 8},
		Field{Name: "cr2", Offset: 0x240, Size: 8},
		reserved(0x248, 0x20),
		Field{Name: FieldGPat, Offset: 0x268, Size: 8},
		Field{Name: "dbgctl", Offset: 0x270, Size: 8},
		Field{Name: "br_from", Offset: 0x278, Size: 8},
		Field{Name: "br_to", Offset: 0x280, Size: 8},
		Field{Name: "last_excp_from", Offset: 0x288, Size: 8},
		Field{Name: "last_excp_to", Offset: 0x290, Size: 8},
		reserved(0x298, 0x50),
		Field{Name: "pkru", Offset: 0x2E8, Size: 4},
		Field{Name: "tsc_aux", Offset: 0x2EC, Size: 4},
		reserved(0x2F0, 0x18),
		Field{Name: "rcx", Offset: 0x308, Size: 8},
		Field{Name: FieldRdx, Offset: 0x310, Size: 8},
		Field{Name: "rbx", Offset: 0x318, Size: 8},
		reserved(0x320, 8),
		Field{Name: FieldRbp, Offset: 0x328, Size: 8},
		Field{Name: FieldRsi, Offset: 0x330, Size: 8},
		Field{Name: "rdi", Offset: 0x338, Size: 8},
		Field{Name: "r8", Offset: 0x340, Size: 8},
		Field{Name: "r9", Offset: 0x348, Size: 8},
		Field{Name: "r10", Offset: 0x350, Size: 8},
		Field{Name: "r11", Offset: 0x358, Size: 8},
		Field{Name: "r12", Offset: 0x360, Size: 8},
		Field{Name: "r13", Offset: 0x368, Size: 8},
		Field{Name: "r14", Offset: 0x370, Size: 8},
		Field{Name: "r15", Offset: 0x378, Size: 8},
		reserved(0x380, 0x10),
		Field{Name: "guest_exit_info_1", Offset: 0x390, Size: 8},
		Field{Name: "guest_exit_info_2", Offset: 0x398, Size: 8},
		Field{Name: "guest_exit_int_info", Offset: 0x3A0, Size: 8},
		Field{Name: "guest_nrip", Offset: 0x3A8, Size: 8},
		Field{Name: FieldSevFeatures, Offset: 0x3B0, Size: 8},
		Field{Name: "vintr_ctrl", Offset: 0x3B8, Size: 8},
		Field{Name: "guest_exit_code", Offset: 0x3C0, Size: 8},
		Field{Name: "virtual_tom", Offset: 0x3C8, Size: 8},
		Field{Name: "tlb_id", Offset: 0x3D0, Size: 8},
		Field{Name: "pcpu_id", Offset: 0x3D8, Size: 8},
		Field{Name: "event_inj", Offset: 0x3E0, Size: 8},
		Field{Name: FieldXcr0, Offset: 0x3E8, Size: 8},
		reserved(0x3F0, 0x10),
		Field{Name: "x87_dp", Offset: 0x400, Size: 8},
		Field{Name: FieldMxcsr, Offset: 0x408, Size: 4},
		Field{Name: "x87_ftw", Offset: 0x40C, Size: 2},
		Field{Name: "x87_fsw", Offset: 0x40E, Size: 2},
		Field{Name: FieldX87Fcw, Offset: 0x410, Size: 2},
		Field{Name: "x87_fop", Offset: 0x412, Size: 2},
		Field{Name: "x87_ds", Offset: 0x414, Size: 2},
		Field{Name: "x87_cs", Offset: 0x416, Size: 2},
		Field{Name: "x87_rip", Offset: 0x418, Size: 8},
		Field{Name: "fpreg_x87", Offset: 0x420, Size: 0x50},
		Field{Name: "fpreg_xmm", Offset: 0x470, Size: 0x100},
		Field{Name: "fpreg_ymm", Offset: 0x570, Size: 0x100},
		reserved(0x670, Size-0x670),
	)
}

var layouts = map[Architecture]*Layout{
	ArchitectureAMD64: newLayout(ArchitectureAMD64, Size, amd64Fields()),
}

func init() {
	for arch, l := range layouts {
		if err := l.Validate(); err != nil {
			panic(fmt.Sprintf("internal: invalid VMSA layout for %v: %v", arch, err))
		}
	}
}

// LayoutFor returns the VMSA layout of the given architecture.
func LayoutFor(arch Architecture) (*Layout, error) {
	l, ok := layouts[arch]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArchitecture, arch)
	}
	return l, nil
}
