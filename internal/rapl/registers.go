// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import "fmt"

// Register is the address of a RAPL model specific register.
type Register uint32

// RAPL register addresses, see Intel SDM Vol. 4, "Model-Specific Registers".
const (
	PowerUnit            Register = 0x606 // MSR_RAPL_POWER_UNIT
	PkgEnergyStatus      Register = 0x611 // MSR_PKG_ENERGY_STATUS
	PkgPowerInfo         Register = 0x614 // MSR_PKG_POWER_INFO
	DRAMEnergyStatus     Register = 0x619 // MSR_DRAM_ENERGY_STATUS
	PP0EnergyStatus      Register = 0x639 // MSR_PP0_ENERGY_STATUS
	PP1EnergyStatus      Register = 0x641 // MSR_PP1_ENERGY_STATUS
	PlatformEnergyStatus Register = 0x64d // MSR_PLATFORM_ENERGY_STATUS
)

// Registers lists every register probed at startup, in probe order
var Registers = []Register{
	PowerUnit,
	PkgEnergyStatus,
	PkgPowerInfo,
	DRAMEnergyStatus,
	PP0EnergyStatus,
	PP1EnergyStatus,
	PlatformEnergyStatus,
}

var registerNames = map[Register]string{
	PowerUnit:            "power_unit",
	PkgEnergyStatus:      "pkg_energy_status",
	PkgPowerInfo:         "pkg_power_info",
	DRAMEnergyStatus:     "dram_energy_status",
	PP0EnergyStatus:      "pp0_energy_status",
	PP1EnergyStatus:      "pp1_energy_status",
	PlatformEnergyStatus: "platform_energy_status",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return fmt.Sprintf("%s(0x%x)", name, uint32(r))
	}
	return fmt.Sprintf("0x%x", uint32(r))
}

// Domain is a RAPL power domain
type Domain int

const (
	PKG  Domain = iota // package
	PP0                // cores
	PP1                // uncore, usually the integrated graphics
	DRAM               // memory
	PSYS               // whole platform
)

// Domains lists all power domains in canonical order
var Domains = []Domain{PKG, PP0, PP1, DRAM, PSYS}

var domainInfo = [...]struct {
	name      string
	formatted string
	energy    Register
}{
	PKG:  {"package", "Package", PkgEnergyStatus},
	PP0:  {"core", "Core", PP0EnergyStatus},
	PP1:  {"uncore", "Uncore", PP1EnergyStatus},
	DRAM: {"dram", "DRAM", DRAMEnergyStatus},
	PSYS: {"psys", "PSYS", PlatformEnergyStatus},
}

func (d Domain) valid() bool {
	return d >= PKG && d <= PSYS
}

// String returns the canonical lower case name used in raw reports and labels
func (d Domain) String() string {
	if !d.valid() {
		return fmt.Sprintf("domain(%d)", int(d))
	}
	return domainInfo[d].name
}

// FormattedName returns the name used in human readable reports
func (d Domain) FormattedName() string {
	if !d.valid() {
		return d.String()
	}
	return domainInfo[d].formatted
}

// EnergyRegister returns the energy-status register of the domain.
// It panics for an unknown domain; callers iterate over Domains.
func (d Domain) EnergyRegister() Register {
	if !d.valid() {
		panic(fmt.Sprintf("rapl: unknown domain %d", int(d)))
	}
	return domainInfo[d].energy
}
