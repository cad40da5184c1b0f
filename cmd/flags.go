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
	"flag"
	"fmt"
	"strconv"

	"github.com/google/go-sev-guest/kds"
	sgpb "github.com/google/go-sev-guest/proto/sevsnp"
	"github.com/spf13/cobra"
)

// Lets this command specify an input firmware file.
func addFirmwareFlag(cmd *cobra.Command, f *string) {
	cmd.PersistentFlags().StringVar(f, "firmware", "", "Path to the OVMF firmware binary")
}

// Lets this command specify the VMSA architecture.
func addArchFlag(cmd *cobra.Command, f *string) {
	cmd.PersistentFlags().StringVar(f, "arch", "amd64", "VMSA architecture. One of amd64, arm64")
}

// hexFlag is an integer flag that accepts decimal, 0x-prefixed hex, or 0-prefixed octal.
type hexFlag struct {
	v    *uint64
	bits int
}

func (h *hexFlag) String() string {
	if h.v == nil {
		return "<unset>"
	}
	return fmt.Sprintf("0x%x", *h.v)
}

func (h *hexFlag) Set(value string) error {
	if value == "" {
		return nil
	}
	v, err := strconv.ParseUint(value, 0, h.bits)
	if err != nil {
		return fmt.Errorf("%q is not a %d-bit unsigned integer", value, h.bits)
	}
	*h.v = v
	return nil
}

func hexVar(v *uint64, bits int, name string, usage string) *flag.Flag {
	return &flag.Flag{
		Name:     name,
		Value:    &hexFlag{v: v, bits: bits},
		Usage:    usage,
		DefValue: "0x0",
	}
}

type amdProductFlag struct {
	v *sgpb.SevProduct_SevProductName
}

func (p *amdProductFlag) String() string {
	if p.v == nil {
		return "<unset>"
	}
	return kds.ProductLine(&sgpb.SevProduct{Name: *p.v})
}

func (p *amdProductFlag) Set(value string) error {
	if value != "" {
		product, err := kds.ParseProductLine(value)
		if err != nil {
			return err
		}
		*p.v = product.Name
		return nil
	}
	return nil
}

func amdProductVar(v *sgpb.SevProduct_SevProductName, name string, defaultValue sgpb.SevProduct_SevProductName, usage string) *flag.Flag {
	f := &amdProductFlag{v: v}
	*v = defaultValue
	return &flag.Flag{
		Name:     name,
		Value:    f,
		Usage:    usage,
		DefValue: kds.ProductLine(&sgpb.SevProduct{Name: defaultValue}),
	}
}
