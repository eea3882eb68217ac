// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"math"
	"time"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
)

// FixedDRAMEnergyUnit is the DRAM energy unit of server parts that do not
// follow MSR_RAPL_POWER_UNIT, in Joules per LSB
const FixedDRAMEnergyUnit = 15.3e-6

// counterRange is the span of a 32-bit energy counter, matching the
// wraparound compensation of the energy-status registers
const counterRange = math.MaxUint32

// Units holds the scale factors decoded from MSR_RAPL_POWER_UNIT
type Units struct {
	Power      float64 // Watts per LSB
	Energy     float64 // Joules per LSB
	Time       float64 // seconds per LSB
	DRAMEnergy float64 // Joules per LSB of the DRAM energy-status register
}

func exponentUnit(exp uint64) float64 {
	return math.Ldexp(1, -int(exp))
}

// DecodeUnits decodes the raw value of MSR_RAPL_POWER_UNIT for processor p
func DecodeUnits(raw uint64, p Processor) Units {
	u := Units{
		Power:  exponentUnit(powerUnitField.Extract(raw)),
		Energy: exponentUnit(energyUnitField.Extract(raw)),
		Time:   exponentUnit(timeUnitField.Extract(raw)),
	}
	u.DRAMEnergy = u.Energy
	if p.HasFixedDRAMUnit() {
		u.DRAMEnergy = FixedDRAMEnergyUnit
	}
	return u
}

// EnergyUnitFor returns the energy unit applying to the counter in reg
func (u Units) EnergyUnitFor(reg Register) float64 {
	if reg == DRAMEnergyStatus {
		return u.DRAMEnergy
	}
	return u.Energy
}

// Joules converts a raw energy-status value of reg
func (u Units) Joules(raw uint64, reg Register) device.Energy {
	return device.Energy(float64(DecodeEnergyStatus(raw)) * u.EnergyUnitFor(reg))
}

// MaxEnergy is the energy the counter of reg can hold before it wraps
func (u Units) MaxEnergy(reg Register) device.Energy {
	return device.Energy(counterRange * u.EnergyUnitFor(reg))
}

// Watts converts a power field value
func (u Units) Watts(raw uint64) device.Power {
	return device.Power(float64(raw) * u.Power)
}

// Seconds converts a time field value
func (u Units) Seconds(raw uint64) time.Duration {
	return time.Duration(float64(raw) * u.Time * float64(time.Second))
}

// DecodeEnergyStatus returns the 32-bit energy counter of a raw
// energy-status register value
func DecodeEnergyStatus(raw uint64) uint32 {
	return uint32(energyCountField.Extract(raw))
}

// Delta returns the energy consumed between two readings of the counter in
// reg, compensating for at most one wraparound
func (u Units) Delta(previous, current device.Energy, reg Register) device.Energy {
	delta := current - previous
	if delta < 0 {
		delta += u.MaxEnergy(reg)
	}
	return delta
}
