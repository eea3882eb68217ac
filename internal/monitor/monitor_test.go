// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/rapl"
)

func newTestMonitor(reader *fakeReader, support *rapl.Support, nodes int, opts ...OptionFn) *EnergyMonitor {
	defaults := []OptionFn{
		WithLogger(slog.Default()),
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithInterval(time.Second),
	}
	return NewEnergyMonitor(reader, support, testUnits, nodes, append(defaults, opts...)...)
}

func energyOf(t *testing.T, m *EnergyMonitor, node int, d Domain) Reading {
	t.Helper()
	s, err := m.Snapshot()
	require.NoError(t, err)
	for _, r := range s.Readings {
		if r.Node == node && r.Domain == d {
			return r
		}
	}
	t.Fatalf("no reading for node %d domain %s", node, d)
	return Reading{}
}

func TestNewEnergyMonitor(t *testing.T) {
	support := rapl.NewSupport(rapl.PkgEnergyStatus, rapl.DRAMEnergyStatus, rapl.PowerUnit)
	m := NewEnergyMonitor(newFakeReader(1), support, testUnits, 2)

	assert.Equal(t, "monitor", m.Name())
	assert.Equal(t, Initializing, m.State())
	assert.Equal(t, []Domain{rapl.PKG, rapl.DRAM}, m.Domains())
	assert.Equal(t, time.Second, m.Interval())
	assert.NotNil(t, m.DataChannel())

	_, err := m.Snapshot()
	assert.ErrorIs(t, err, ErrNotSampling)
}

func TestEnergyMonitor_Init(t *testing.T) {
	t.Run("seeds previous readings without accumulating", func(t *testing.T) {
		reader := newFakeReader(0).values(0, rapl.PkgEnergyStatus, 1000)
		m := newTestMonitor(reader, rapl.NewSupport(rapl.PkgEnergyStatus), 1)

		require.NoError(t, m.Init())
		assert.Equal(t, Sampling, m.State())

		r := energyOf(t, m, 0, rapl.PKG)
		assert.Zero(t, r.Energy)

		s, err := m.Snapshot()
		require.NoError(t, err)
		assert.Zero(t, s.Window.Duration())
		assert.Equal(t, 1, s.NumNodes)

		select {
		case <-m.DataChannel():
		default:
			t.Fatal("expected data signal after init")
		}
	})

	t.Run("no supported domain", func(t *testing.T) {
		m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PowerUnit, rapl.PkgPowerInfo), 1)
		assert.ErrorIs(t, m.Init(), ErrNoReadings)
	})

	t.Run("seed read failure is fatal", func(t *testing.T) {
		readErr := errors.New("input/output error")
		reader := newFakeReader(1).
			values(0, rapl.PkgEnergyStatus, 10).
			script(1, rapl.PkgEnergyStatus, result{err: readErr})
		m := newTestMonitor(reader, rapl.NewSupport(rapl.PkgEnergyStatus), 2)

		err := m.Init()
		assert.ErrorIs(t, err, readErr)
		assert.Equal(t, Initializing, m.State())
	})

	t.Run("invalid node count", func(t *testing.T) {
		m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PkgEnergyStatus), 0)
		assert.Error(t, m.Init())
	})

	t.Run("invalid interval", func(t *testing.T) {
		m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PkgEnergyStatus), 1, WithInterval(0))
		assert.Error(t, m.Init())
	})

	t.Run("init twice", func(t *testing.T) {
		m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PkgEnergyStatus), 1)
		require.NoError(t, m.Init())
		assert.Error(t, m.Init())
	})
}

func TestEnergyMonitor_PollBeforeInit(t *testing.T) {
	m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PkgEnergyStatus), 1)
	assert.ErrorIs(t, m.Poll(), ErrNotSampling)
}

func TestEnergyMonitor_NormalRun(t *testing.T) {
	reader := newFakeReader(0).
		values(0, rapl.PkgEnergyStatus, 1000, 1500, 2100).
		values(0, rapl.PP0EnergyStatus, 200, 260, 310)
	m := newTestMonitor(reader, rapl.NewSupport(rapl.PkgEnergyStatus, rapl.PP0EnergyStatus), 1)

	require.NoError(t, m.Init())
	require.NoError(t, m.Poll())
	require.NoError(t, m.Poll())

	assert.InDelta(t, (2100-1000)*testEnergyUnit, energyOf(t, m, 0, rapl.PKG).Energy.Joules(), 1e-9)
	assert.InDelta(t, (310-200)*testEnergyUnit, energyOf(t, m, 0, rapl.PP0).Energy.Joules(), 1e-9)
}

func TestEnergyMonitor_Wraparound(t *testing.T) {
	tests := []struct {
		name   string
		reg    rapl.Register
		domain Domain
		unit   float64
	}{
		{"package", rapl.PkgEnergyStatus, rapl.PKG, testEnergyUnit},
		{"dram uses the dram unit", rapl.DRAMEnergyStatus, rapl.DRAM, rapl.FixedDRAMEnergyUnit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newFakeReader(0).values(0, tt.reg, 4294967290, 5)
			m := newTestMonitor(reader, rapl.NewSupport(tt.reg), 1)

			require.NoError(t, m.Init())
			require.NoError(t, m.Poll())

			got := energyOf(t, m, 0, tt.domain).Energy.Joules()
			want := (5 - 4294967290 + float64(math.MaxUint32)) * tt.unit
			assert.InDelta(t, want, got, 1e-9)
			assert.Greater(t, got, 0.0)
		})
	}
}

func TestEnergyMonitor_PartialFailure(t *testing.T) {
	readErr := errors.New("input/output error")
	reader := newFakeReader(0).
		values(0, rapl.PkgEnergyStatus, 100, 200, 300).
		values(1, rapl.PkgEnergyStatus, 1000).
		script(1, rapl.PkgEnergyStatus, result{err: readErr}).
		values(1, rapl.PkgEnergyStatus, 1300)
	m := newTestMonitor(reader, rapl.NewSupport(rapl.PkgEnergyStatus), 2)
	require.NoError(t, m.Init())

	// node 1 fails
	err := m.Poll()
	assert.ErrorIs(t, err, readErr)
	assert.InDelta(t, 100*testEnergyUnit, energyOf(t, m, 0, rapl.PKG).Energy.Joules(), 1e-9)
	node1 := energyOf(t, m, 1, rapl.PKG)
	assert.Zero(t, node1.Energy)
	assert.Equal(t, uint64(1), node1.Errors)

	// node 1 recovers, the delta spans both intervals
	require.NoError(t, m.Poll())
	assert.InDelta(t, 200*testEnergyUnit, energyOf(t, m, 0, rapl.PKG).Energy.Joules(), 1e-9)
	node1 = energyOf(t, m, 1, rapl.PKG)
	assert.InDelta(t, 300*testEnergyUnit, node1.Energy.Joules(), 1e-9)
	assert.Equal(t, uint64(1), node1.Errors)
}

func TestEnergyMonitor_DomainGating(t *testing.T) {
	reader := newFakeReader(7)
	support := rapl.NewSupport(rapl.PowerUnit, rapl.PkgEnergyStatus, rapl.PkgPowerInfo, rapl.DRAMEnergyStatus)
	m := newTestMonitor(reader, support, 2)

	require.NoError(t, m.Init())
	for range 5 {
		require.NoError(t, m.Poll())
	}

	assert.Equal(t, map[uint32]bool{
		uint32(rapl.PkgEnergyStatus):  true,
		uint32(rapl.DRAMEnergyStatus): true,
	}, reader.readRegisters())
}

func TestEnergyMonitor_MonotonicWithRandomFailures(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	readErr := errors.New("transient")

	const nodes, polls = 2, 200
	reader := newFakeReader(0)
	regs := []rapl.Register{rapl.PkgEnergyStatus, rapl.PP0EnergyStatus, rapl.DRAMEnergyStatus}
	for node := range nodes {
		for _, reg := range regs {
			raw := uint64(rng.Uint32())
			reader.values(node, reg, raw)
			for range polls {
				if rng.Intn(5) == 0 {
					reader.script(node, reg, result{err: readErr})
					continue
				}
				// at most one wrap between two successful reads
				raw = (raw + uint64(rng.Intn(1<<30))) & math.MaxUint32
				reader.values(node, reg, raw)
			}
		}
	}

	m := newTestMonitor(reader, rapl.NewSupport(regs...), nodes)
	require.NoError(t, m.Init())

	prev, err := m.Snapshot()
	require.NoError(t, err)
	for range polls {
		_ = m.Poll()
		cur, err := m.Snapshot()
		require.NoError(t, err)
		for i := range cur.Readings {
			assert.GreaterOrEqual(t, cur.Readings[i].Energy, prev.Readings[i].Energy,
				"node %d domain %s", cur.Readings[i].Node, cur.Readings[i].Domain)
		}
		prev = cur
	}
}

func TestEnergyMonitor_WindowUsesClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fakeClock := testingclock.NewFakeClock(start)
	m := newTestMonitor(newFakeReader(1), rapl.NewSupport(rapl.PkgEnergyStatus), 1, WithClock(fakeClock))
	require.NoError(t, m.Init())

	fakeClock.Step(3 * time.Second)
	require.NoError(t, m.Poll())
	fakeClock.Step(2 * time.Second)
	require.NoError(t, m.Poll())

	s, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, start, s.Window.Start)
	assert.Equal(t, start.Add(5*time.Second), s.Window.End)
	assert.Equal(t, 5*time.Second, s.Window.Duration())
	assert.Equal(t, s.Window.End, s.Timestamp)
}

func TestEnergyMonitor_SnapshotIsACopy(t *testing.T) {
	m := newTestMonitor(newFakeReader(10), rapl.NewSupport(rapl.PkgEnergyStatus), 1)
	require.NoError(t, m.Init())
	require.NoError(t, m.Poll())

	s, err := m.Snapshot()
	require.NoError(t, err)
	s.Readings[0].Energy = 12345

	assert.InDelta(t, 10*testEnergyUnit, energyOf(t, m, 0, rapl.PKG).Energy.Joules(), 1e-9)
}
