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

package build

import "fmt"

// Phase is the step of a build an error happened in.
type Phase int

const (
	// PhaseParse is reading the firmware's GUID table.
	PhaseParse Phase = iota
	// PhaseBuild is assembling a vCPU's VMSA.
	PhaseBuild
	// PhaseWrite is storing a finished VMSA.
	PhaseWrite
)

func (p Phase) String() string {
	switch p {
	case PhaseParse:
		return "parse"
	case PhaseBuild:
		return "build"
	case PhaseWrite:
		return "write"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Error tags an error with the phase and vCPU it belongs to. VCPU is -1 when the error concerns
// every vCPU, like a corrupt firmware image.
type Error struct {
	Phase Phase
	VCPU  int
	Err   error
}

func (e *Error) Error() string {
	if e.VCPU < 0 {
		return fmt.Sprintf("%v: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("vCPU %d: %v: %v", e.VCPU, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
