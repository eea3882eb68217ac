// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

// Field describes a bit field inside a 64-bit register value
type Field struct {
	Offset uint
	Width  uint
}

// Extract returns the value of the field in raw
func (f Field) Extract(raw uint64) uint64 {
	if f.Width == 0 || f.Offset >= 64 {
		return 0
	}
	v := raw >> f.Offset
	if f.Width >= 64 {
		return v
	}
	return v & (uint64(1)<<f.Width - 1)
}

// MSR_RAPL_POWER_UNIT
var (
	powerUnitField  = Field{Offset: 0, Width: 4}
	energyUnitField = Field{Offset: 8, Width: 5}
	timeUnitField   = Field{Offset: 16, Width: 4}
)

// MSR_*_ENERGY_STATUS: the upper 32 bits are reserved
var energyCountField = Field{Offset: 0, Width: 32}

// MSR_PKG_POWER_INFO
var (
	thermalSpecPowerField  = Field{Offset: 0, Width: 15}
	minimumPowerField      = Field{Offset: 16, Width: 15}
	maximumPowerField      = Field{Offset: 32, Width: 15}
	maximumTimeWindowField = Field{Offset: 48, Width: 6}
)
