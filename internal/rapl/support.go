// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"log/slog"
	"slices"
)

// Support records which RAPL registers the processor implements
type Support struct {
	registers map[Register]bool
}

// NewSupport returns a Support with exactly the given registers supported
func NewSupport(supported ...Register) *Support {
	s := &Support{registers: make(map[Register]bool, len(Registers))}
	for _, r := range supported {
		s.registers[r] = true
	}
	return s
}

// ProbeSupport reads every RAPL register once with read; a register is
// supported when the read succeeds. Failures are expected on parts that
// lack a domain and are only logged at debug level.
func ProbeSupport(read func(Register) error, logger *slog.Logger) *Support {
	if logger == nil {
		logger = slog.Default()
	}
	s := NewSupport()
	for _, r := range Registers {
		if err := read(r); err != nil {
			logger.Debug("RAPL register not supported", "register", r, "error", err)
			continue
		}
		s.registers[r] = true
	}
	return s
}

// Register reports whether r is supported
func (s *Support) Register(r Register) bool {
	return s.registers[r]
}

// Domain reports whether the energy counter of d is supported
func (s *Support) Domain(d Domain) bool {
	return s.registers[d.EnergyRegister()]
}

// PackageParameters reports whether package power limits can be queried
func (s *Support) PackageParameters() bool {
	return s.registers[PkgEnergyStatus] && s.registers[PkgPowerInfo]
}

// Domains returns the supported domains in canonical order
func (s *Support) Domains() []Domain {
	return slices.DeleteFunc(slices.Clone(Domains), func(d Domain) bool {
		return !s.Domain(d)
	})
}

// Registers returns the supported registers in probe order
func (s *Support) Registers() []Register {
	return slices.DeleteFunc(slices.Clone(Registers), func(r Register) bool {
		return !s.registers[r]
	})
}
