// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/rapl"
)

// testEnergyUnit is 1/2^14 J, a common MSR_RAPL_POWER_UNIT energy unit
const testEnergyUnit = 6.103515625e-5

var testUnits = rapl.Units{
	Power:      1.0 / 8,
	Energy:     testEnergyUnit,
	Time:       1.0 / 1024,
	DRAMEnergy: rapl.FixedDRAMEnergyUnit,
}

type regKey struct {
	node int
	reg  uint32
}

type result struct {
	raw uint64
	err error
}

// fakeReader serves scripted results per (node, register). Once a script
// is exhausted, the last successful value is advanced by step on every read.
type fakeReader struct {
	mu      sync.Mutex
	scripts map[regKey][]result
	last    map[regKey]uint64
	step    uint64
	reads   []regKey
}

func newFakeReader(step uint64) *fakeReader {
	return &fakeReader{
		scripts: map[regKey][]result{},
		last:    map[regKey]uint64{},
		step:    step,
	}
}

func (f *fakeReader) script(node int, reg rapl.Register, results ...result) *fakeReader {
	k := regKey{node, uint32(reg)}
	f.scripts[k] = append(f.scripts[k], results...)
	return f
}

func (f *fakeReader) values(node int, reg rapl.Register, raws ...uint64) *fakeReader {
	for _, r := range raws {
		f.script(node, reg, result{raw: r})
	}
	return f
}

func (f *fakeReader) Read(node int, reg uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := regKey{node, reg}
	f.reads = append(f.reads, k)

	if s := f.scripts[k]; len(s) > 0 {
		next := s[0]
		f.scripts[k] = s[1:]
		if next.err != nil {
			return 0, next.err
		}
		f.last[k] = next.raw
		return next.raw, nil
	}
	f.last[k] += f.step
	return f.last[k], nil
}

func (f *fakeReader) readRegisters() map[uint32]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := map[uint32]bool{}
	for _, k := range f.reads {
		ret[k.reg] = true
	}
	return ret
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Report(r *Report) error {
	args := m.Called(r)
	return args.Error(0)
}

// chanReporter forwards every report to a channel
type chanReporter chan *Report

func (c chanReporter) Report(r *Report) error {
	c <- r
	return nil
}
