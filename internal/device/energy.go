// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
)

// Energy represents an amount of energy in Joules.
// RAPL energy units are fractions of a Joule (typically 1/2^14 or 1/2^16),
// so the value is kept as a float64 rather than an integer count.
type Energy float64

const (
	MicroJoule Energy = 1e-6
	MilliJoule Energy = 1e-3
	Joule      Energy = 1
)

func (e Energy) MicroJoules() float64 {
	return float64(e / MicroJoule)
}

func (e Energy) MilliJoules() float64 {
	return float64(e / MilliJoule)
}

func (e Energy) Joules() float64 {
	return float64(e)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.6fJ", e.Joules())
}

// Power represents power in Watts.
type Power float64

const (
	MicroWatt Power = 1e-6
	MilliWatt Power = 1e-3
	Watt      Power = 1
)

func (p Power) MicroWatts() float64 {
	return float64(p / MicroWatt)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}
