// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
)

func TestDecodePowerInfo(t *testing.T) {
	raw := uint64(1320) | // thermal spec power
		1<<15 | // reserved
		uint64(560)<<16 | // minimum power
		uint64(2400)<<32 | // maximum power
		uint64(0x2A)<<48 | // maximum time window
		uint64(0xFF)<<56 // reserved

	pi := DecodePowerInfo(raw)
	assert.Equal(t, PowerInfo{
		ThermalSpecPower:  1320,
		MinimumPower:      560,
		MaximumPower:      2400,
		MaximumTimeWindow: 0x2A,
	}, pi)

	params := pi.Parameters(Units{Power: 1.0 / 8, Time: 1.0 / 1024})
	assert.Equal(t, device.Power(165), params.ThermalSpecPower)
	assert.Equal(t, device.Power(70), params.MinimumPower)
	assert.Equal(t, device.Power(300), params.MaximumPower)
	assert.Equal(t, time.Duration(42*float64(time.Second)/1024), params.MaximumTimeWindow)
	assert.Equal(t, device.Power(300), params.Peak())
}

func TestPackageParameters_Peak(t *testing.T) {
	tests := []struct {
		name   string
		params PackageParameters
		want   device.Power
	}{
		{"maximum above tdp", PackageParameters{ThermalSpecPower: 165, MaximumPower: 300}, 300},
		{"maximum unreported", PackageParameters{ThermalSpecPower: 165}, 165},
		{"nothing reported", PackageParameters{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Peak())
		})
	}
}

func TestMaxPower(t *testing.T) {
	tests := []struct {
		name        string
		params      []PackageParameters
		wantPower   device.Power
		wantAssumed bool
	}{{
		name:        "no nodes report power info",
		params:      nil,
		wantPower:   FallbackMaxPower,
		wantAssumed: true,
	}, {
		name:      "single node",
		params:    []PackageParameters{{ThermalSpecPower: 165}},
		wantPower: 165,
	}, {
		name: "largest peak over nodes",
		params: []PackageParameters{
			{ThermalSpecPower: 125, MaximumPower: 150},
			{ThermalSpecPower: 120, MaximumPower: 200},
		},
		wantPower: 200,
	}, {
		name:        "implausibly small readings",
		params:      []PackageParameters{{ThermalSpecPower: 0.0005}, {}},
		wantPower:   FallbackMaxPower,
		wantAssumed: true,
	}, {
		name:        "one node without power info falls back",
		params:      []PackageParameters{{ThermalSpecPower: 95}, {}},
		wantPower:   FallbackMaxPower,
		wantAssumed: true,
	}, {
		name:        "one implausible node falls back",
		params:      []PackageParameters{{ThermalSpecPower: 0.0005}, {ThermalSpecPower: 95}},
		wantPower:   FallbackMaxPower,
		wantAssumed: true,
	}, {
		name:        "real peak above the fallback",
		params:      []PackageParameters{{ThermalSpecPower: 205, MaximumPower: 350}, {}},
		wantPower:   350,
		wantAssumed: true,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			power, assumed := MaxPower(tt.params)
			assert.Equal(t, tt.wantPower, power)
			assert.Equal(t, tt.wantAssumed, assumed)
		})
	}
}

func TestPackageParameters_NodePeak(t *testing.T) {
	tests := []struct {
		name        string
		params      PackageParameters
		wantPower   device.Power
		wantAssumed bool
	}{
		{"reported", PackageParameters{ThermalSpecPower: 95}, 95, false},
		{"nothing reported", PackageParameters{}, FallbackMaxPower, true},
		{"at the plausibility bound", PackageParameters{ThermalSpecPower: minPlausiblePower}, FallbackMaxPower, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			power, assumed := tt.params.NodePeak()
			assert.Equal(t, tt.wantPower, power)
			assert.Equal(t, tt.wantAssumed, assumed)
		})
	}
}

func TestSafeInterval(t *testing.T) {
	tests := []struct {
		name     string
		units    Units
		maxPower device.Power
		want     time.Duration
	}{{
		name:     "client part",
		units:    Units{Energy: 1.0 / 16384, DRAMEnergy: 1.0 / 16384},
		maxPower: 165,
		// 2^32-1 / 16384 / 165 = 1588.7s, halved and rounded down less one
		want: 793 * time.Second,
	}, {
		name:     "server part uses the smaller DRAM unit",
		units:    Units{Energy: 1.0 / 16384, DRAMEnergy: FixedDRAMEnergyUnit},
		maxPower: 200,
		// 2^32-1 * 15.3e-6 / 200 = 328.6s
		want: 163 * time.Second,
	}, {
		name:     "fallback power",
		units:    Units{Energy: 1.0 / 16384, DRAMEnergy: 1.0 / 16384},
		maxPower: FallbackMaxPower,
		// 1310.7s
		want: 654 * time.Second,
	}, {
		name:     "unset power uses fallback",
		units:    Units{Energy: 1.0 / 16384, DRAMEnergy: 1.0 / 16384},
		maxPower: 0,
		want:     654 * time.Second,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeInterval(tt.units, tt.maxPower))
		})
	}
}

func TestSafeInterval_SubSecond(t *testing.T) {
	// a 2^-31 J unit at 200 W wraps every ~10ms
	u := Units{Energy: math.Ldexp(1, -31), DRAMEnergy: math.Ldexp(1, -31)}
	got := SafeInterval(u, 200)

	assert.Greater(t, got, time.Duration(0))
	assert.Less(t, got, time.Second)
	assert.InDelta(t, float64(5*time.Millisecond), float64(got), float64(time.Microsecond))
}

func TestSafeInterval_NeverMissesWrap(t *testing.T) {
	for exp := 8; exp <= 31; exp++ {
		for _, power := range []device.Power{0.5, 1, 15, 65, 165, 200, 350, 1000} {
			unit := math.Ldexp(1, -exp)
			u := Units{Energy: unit, DRAMEnergy: unit}
			interval := SafeInterval(u, power)

			assert.Greater(t, interval, time.Duration(0), "exp=%d power=%v", exp, power)
			// two polls must fit into one wrap period
			wrapPeriod := float64(math.MaxUint32) * unit / power.Watts()
			assert.LessOrEqual(t, 2*interval.Seconds(), wrapPeriod, "exp=%d power=%v", exp, power)
		}
	}
}
