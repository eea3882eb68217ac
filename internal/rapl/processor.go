// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"errors"
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

var (
	// ErrUnsupportedVendor is returned for non Intel processors
	ErrUnsupportedVendor = errors.New("unsupported processor vendor")
	// ErrUnsupportedFamily is returned for Intel processors outside family 6
	ErrUnsupportedFamily = errors.New("unsupported processor family")
)

const (
	vendorIntel = "GenuineIntel"
	familyP6    = 6
)

// Signature is a CPUID leaf 1 EAX processor signature with the stepping
// bits cleared, as used by the kernel's intel-family.h
type Signature uint32

// Family 6 models of interest. Only the ones with a DRAM energy unit
// quirk matter for the measurements; the others are named in debug logs.
const (
	SandyBridge   Signature = 0x206A0
	SandyBridgeX  Signature = 0x206D0
	IvyBridge     Signature = 0x306A0
	IvyBridgeX    Signature = 0x306E0
	Haswell       Signature = 0x306C0
	HaswellX      Signature = 0x306F0
	HaswellL      Signature = 0x40650
	HaswellG      Signature = 0x40660
	Broadwell     Signature = 0x306D0
	BroadwellG    Signature = 0x40670
	BroadwellX    Signature = 0x406F0
	BroadwellD    Signature = 0x50660
	Skylake       Signature = 0x506E0
	SkylakeL      Signature = 0x406E0
	SkylakeX      Signature = 0x50650
	KabyLake      Signature = 0x906E0
	KabyLakeL     Signature = 0x806E0
	GoldmontD     Signature = 0x506F0
	XeonPhiKNL    Signature = 0x50670
	XeonPhiKNM    Signature = 0x80650
	IceLakeX      Signature = 0x606A0
	SapphireRapid Signature = 0x806F0
)

var signatureNames = map[Signature]string{
	SandyBridge:   "Sandy Bridge",
	SandyBridgeX:  "Sandy Bridge-EP",
	IvyBridge:     "Ivy Bridge",
	IvyBridgeX:    "Ivy Bridge-EP",
	Haswell:       "Haswell",
	HaswellX:      "Haswell-EP",
	HaswellL:      "Haswell ULT",
	HaswellG:      "Haswell GT3e",
	Broadwell:     "Broadwell",
	BroadwellG:    "Broadwell GT3e",
	BroadwellX:    "Broadwell-EP",
	BroadwellD:    "Broadwell Xeon-D",
	Skylake:       "Skylake",
	SkylakeL:      "Skylake mobile",
	SkylakeX:      "Skylake-SP",
	KabyLake:      "Kaby Lake",
	KabyLakeL:     "Kaby Lake mobile",
	GoldmontD:     "Goldmont Xeon-D",
	XeonPhiKNL:    "Knights Landing",
	XeonPhiKNM:    "Knights Mill",
	IceLakeX:      "Ice Lake-SP",
	SapphireRapid: "Sapphire Rapids",
}

// server parts whose DRAM domain counts in fixed 15.3 microjoule units
// regardless of MSR_RAPL_POWER_UNIT
var fixedDRAMUnit = map[Signature]bool{
	HaswellX:   true,
	BroadwellX: true,
	BroadwellD: true,
	SkylakeX:   true,
	XeonPhiKNL: true,
	XeonPhiKNM: true,
}

func (s Signature) String() string {
	if name, ok := signatureNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%X)", uint32(s))
}

// Processor identifies the processor model
type Processor struct {
	Vendor   string
	Family   int
	Model    int
	Stepping int
}

// DetectProcessor returns the processor the program runs on
func DetectProcessor() Processor {
	return Processor{
		Vendor:   cpuid.CPU.VendorString,
		Family:   cpuid.CPU.Family,
		Model:    cpuid.CPU.Model,
		Stepping: cpuid.CPU.Stepping,
	}
}

// Validate returns an error unless the processor is an Intel family 6 part
func (p Processor) Validate() error {
	if p.Vendor != vendorIntel {
		return fmt.Errorf("%w: %q", ErrUnsupportedVendor, p.Vendor)
	}
	if p.Family != familyP6 {
		return fmt.Errorf("%w: %d", ErrUnsupportedFamily, p.Family)
	}
	return nil
}

// Signature encodes family and display model back into the CPUID layout
func (p Processor) Signature() Signature {
	family, extFamily := p.Family, 0
	if family >= 0xf {
		extFamily = family - 0xf
		family = 0xf
	}
	return Signature(uint32(extFamily&0xff)<<20 |
		uint32((p.Model>>4)&0xf)<<16 |
		uint32(family&0xf)<<8 |
		uint32(p.Model&0xf)<<4)
}

// Name returns the marketing family name of the model, if known
func (p Processor) Name() string {
	return p.Signature().String()
}

// HasFixedDRAMUnit reports whether the DRAM domain ignores the energy unit
// advertised in MSR_RAPL_POWER_UNIT
func (p Processor) HasFixedDRAMUnit() bool {
	return p.Vendor == vendorIntel && p.Family == familyP6 && fixedDRAMUnit[p.Signature()]
}

func (p Processor) String() string {
	return fmt.Sprintf("%s family %d model 0x%X stepping %d (%s)",
		p.Vendor, p.Family, p.Model, p.Stepping, p.Name())
}
