// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"math"
	"time"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
)

const (
	// FallbackMaxPower is assumed for a node without a usable maximum power
	FallbackMaxPower device.Power = 200 * device.Watt

	// readings at or below this are treated as unreported
	minPlausiblePower device.Power = 1 * device.MilliWatt
)

// PowerInfo holds the raw fields of MSR_PKG_POWER_INFO
type PowerInfo struct {
	ThermalSpecPower  uint64
	MinimumPower      uint64
	MaximumPower      uint64
	MaximumTimeWindow uint64
}

// DecodePowerInfo decodes the raw value of MSR_PKG_POWER_INFO
func DecodePowerInfo(raw uint64) PowerInfo {
	return PowerInfo{
		ThermalSpecPower:  thermalSpecPowerField.Extract(raw),
		MinimumPower:      minimumPowerField.Extract(raw),
		MaximumPower:      maximumPowerField.Extract(raw),
		MaximumTimeWindow: maximumTimeWindowField.Extract(raw),
	}
}

// PackageParameters are the package power limits in physical units
type PackageParameters struct {
	ThermalSpecPower  device.Power
	MinimumPower      device.Power
	MaximumPower      device.Power
	MaximumTimeWindow time.Duration
}

// Parameters converts the raw fields with units u
func (pi PowerInfo) Parameters(u Units) PackageParameters {
	return PackageParameters{
		ThermalSpecPower:  u.Watts(pi.ThermalSpecPower),
		MinimumPower:      u.Watts(pi.MinimumPower),
		MaximumPower:      u.Watts(pi.MaximumPower),
		MaximumTimeWindow: u.Seconds(pi.MaximumTimeWindow),
	}
}

// Peak is the larger of the thermal spec power and the maximum power.
// Some parts leave the maximum power field at zero.
func (p PackageParameters) Peak() device.Power {
	return device.Power(math.Max(float64(p.ThermalSpecPower), float64(p.MaximumPower)))
}

func (p PackageParameters) String() string {
	return fmt.Sprintf("tdp=%s min=%s max=%s window=%s",
		p.ThermalSpecPower, p.MinimumPower, p.MaximumPower, p.MaximumTimeWindow)
}

// NodePeak is the peak power of one node. An implausibly small peak is
// replaced by FallbackMaxPower and assumed is true.
func (p PackageParameters) NodePeak() (power device.Power, assumed bool) {
	if peak := p.Peak(); peak > minPlausiblePower {
		return peak, false
	}
	return FallbackMaxPower, true
}

// MaxPower returns the largest node peak over params, one entry per node.
// A zero PackageParameters stands for a node whose power info could not be
// read. assumed is true when any node, or the empty set, fell back to
// FallbackMaxPower.
func MaxPower(params []PackageParameters) (power device.Power, assumed bool) {
	if len(params) == 0 {
		return FallbackMaxPower, true
	}
	for _, p := range params {
		peak, fallback := p.NodePeak()
		assumed = assumed || fallback
		power = max(power, peak)
	}
	return power, assumed
}

// SafeInterval returns the longest sampling interval at which no energy
// counter can wrap more than once between two reads, drawing maxPower.
// A whole number of seconds is preferred; very small results fall back
// to the fractional half period.
func SafeInterval(u Units, maxPower device.Power) time.Duration {
	if maxPower <= minPlausiblePower {
		maxPower = FallbackMaxPower
	}
	unit := math.Min(u.Energy, u.DRAMEnergy)
	seconds := counterRange * unit / maxPower.Watts()

	whole := math.Floor(seconds/2) - 1
	if whole > 0 {
		return time.Duration(whole) * time.Second
	}
	return time.Duration(seconds / 2 * float64(time.Second))
}
