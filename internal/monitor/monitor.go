// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/rapl"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/service"
)

var (
	// ErrNoReadings is returned when there is no supported energy counter to sample
	ErrNoReadings = errors.New("no supported energy counters")
	// ErrNotSampling is returned when polling outside the Sampling state
	ErrNotSampling = errors.New("monitor is not sampling")
)

// Reporter receives intermediate and final reports
type Reporter interface {
	Report(*Report) error
}

type SnapshotProvider interface {
	// Snapshot returns a copy of the current cumulative totals
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals after every sweep
	DataChannel() <-chan struct{}

	// Domains returns the sampled domains
	Domains() []Domain
}

// Service defines the interface for the energy monitoring service
type Service interface {
	service.Service
	SnapshotProvider
}

// counter is the sampling state of one (node, domain) pair
type counter struct {
	previous Energy // last successful reading
	total    Energy
	errors   uint64
}

// EnergyMonitor samples the RAPL energy counters of every node and keeps
// overflow corrected cumulative totals
type EnergyMonitor struct {
	// passed externally
	logger   *slog.Logger
	reader   device.RegisterReader
	units    rapl.Units
	nodes    int
	domains  []Domain
	interval time.Duration
	clock    clock.WithTicker
	reporter Reporter

	requests chan Request
	stop     chan struct{}
	stopOnce sync.Once

	// signals when a sweep has completed
	dataCh chan struct{}

	mu        sync.RWMutex
	state     State
	window    Window
	lastSweep time.Time
	counters  [][]counter // node -> index in domains
}

var _ Service = (*EnergyMonitor)(nil)

// NewEnergyMonitor creates an EnergyMonitor sampling the supported domains
// of nodes nodes through reader
func NewEnergyMonitor(reader device.RegisterReader, support *rapl.Support, units rapl.Units, nodes int, applyOpts ...OptionFn) *EnergyMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &EnergyMonitor{
		logger:   opts.logger.With("service", "monitor"),
		reader:   reader,
		units:    units,
		nodes:    nodes,
		domains:  support.Domains(),
		interval: opts.interval,
		clock:    opts.clock,
		reporter: opts.reporter,
		requests: make(chan Request, 8),
		stop:     make(chan struct{}),
		dataCh:   make(chan struct{}, 1),
		state:    Initializing,
	}
}

func (m *EnergyMonitor) Name() string {
	return "monitor"
}

// Init performs the seeding sweep: every sampled pair is read once to set
// its previous reading, and the measurement window is opened. A failed
// read of any pair fails Init.
func (m *EnergyMonitor) Init() error {
	if m.nodes <= 0 {
		return fmt.Errorf("invalid node count %d", m.nodes)
	}
	if len(m.domains) == 0 {
		return ErrNoReadings
	}
	if m.interval <= 0 {
		return fmt.Errorf("invalid polling interval %s", m.interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Initializing {
		return fmt.Errorf("monitor already initialized (%s)", m.state)
	}

	counters := make([][]counter, m.nodes)
	for node := range counters {
		counters[node] = make([]counter, len(m.domains))
		for i, d := range m.domains {
			energy, err := m.read(node, d)
			if err != nil {
				return fmt.Errorf("initial read of %s on node %d: %w", d, node, err)
			}
			counters[node][i].previous = energy
		}
	}

	now := m.clock.Now()
	m.counters = counters
	m.window = Window{Start: now, End: now}
	m.lastSweep = now
	m.state = Sampling

	m.logger.Info("Energy monitor initialized",
		"nodes", m.nodes, "domains", m.domains, "interval", m.interval)
	m.signalNewData()
	return nil
}

func (m *EnergyMonitor) read(node int, d Domain) (Energy, error) {
	reg := d.EnergyRegister()
	raw, err := m.reader.Read(node, uint32(reg))
	if err != nil {
		return 0, err
	}
	return m.units.Joules(raw, reg), nil
}

// Poll performs one sweep over every sampled pair. A failed read leaves the
// pair untouched and the sweep continues; the failures are returned joined.
func (m *EnergyMonitor) Poll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Sampling {
		return fmt.Errorf("%w: %s", ErrNotSampling, m.state)
	}

	var errs []error
	for node := range m.counters {
		for i, d := range m.domains {
			c := &m.counters[node][i]
			current, err := m.read(node, d)
			if err != nil {
				c.errors++
				m.logger.Warn("Failed to read energy counter",
					"node", node, "domain", d, "register", d.EnergyRegister(), "error", err)
				errs = append(errs, fmt.Errorf("node %d %s: %w", node, d, err))
				continue
			}
			c.total += m.units.Delta(c.previous, current, d.EnergyRegister())
			c.previous = current
		}
	}

	now := m.clock.Now()
	m.window.End = now
	m.lastSweep = now
	m.signalNewData()

	return errors.Join(errs...)
}

// Notify passes a request to the sampling loop without blocking. Report and
// none requests are dropped when the queue is full; a stop is never lost.
func (m *EnergyMonitor) Notify(r Request) {
	if r == RequestStop {
		m.stopOnce.Do(func() { close(m.stop) })
		return
	}
	select {
	case m.requests <- r:
	default:
		m.logger.Warn("Request queue full, dropping request", "request", r)
	}
}

// Run polls every interval until a stop request arrives or ctx is done.
// Each wakeup, by timer or request, is followed by a poll; the request is
// handled afterwards so that reports include the latest data.
func (m *EnergyMonitor) Run(ctx context.Context) error {
	if state := m.State(); state != Sampling {
		return fmt.Errorf("%w: %s", ErrNotSampling, state)
	}
	m.logger.Info("Monitor is running...", "interval", m.interval)

	for {
		req, woken := m.wait(ctx)

		if err := m.Poll(); err != nil {
			m.logger.Warn("Poll completed with errors", "error", err)
		}

		switch {
		case req == RequestStop:
			return m.terminate()
		case req == RequestReport:
			if err := m.report(false); err != nil {
				m.logger.Error("Failed to emit report", "error", err)
			}
		case woken:
			m.logger.Debug("Woken without request, continuing")
		}
	}
}

// wait blocks until the interval elapses, a request arrives or ctx is
// done. woken is false on timeout.
func (m *EnergyMonitor) wait(ctx context.Context) (req Request, woken bool) {
	timer := m.clock.NewTimer(m.interval)
	defer timer.Stop()

	select {
	case <-timer.C():
		return RequestNone, false
	case r := <-m.requests:
		return r, true
	case <-m.stop:
		return RequestStop, true
	case <-ctx.Done():
		m.logger.Info("Context done, stopping")
		return RequestStop, true
	}
}

func (m *EnergyMonitor) terminate() error {
	m.mu.Lock()
	m.state = Terminating
	m.mu.Unlock()

	err := m.report(true)
	m.logger.Info("Monitor has terminated.")
	return err
}

func (m *EnergyMonitor) report(final bool) error {
	if m.reporter == nil {
		return nil
	}
	snapshot := m.snapshot()
	if err := m.reporter.Report(NewReport(snapshot, final)); err != nil {
		return fmt.Errorf("failed to report: %w", err)
	}
	return nil
}

// Shutdown stops the sampling loop
func (m *EnergyMonitor) Shutdown() error {
	m.logger.Info("shutting down monitor")
	m.Notify(RequestStop)
	return nil
}

// State returns the current state
func (m *EnergyMonitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Interval returns the polling interval
func (m *EnergyMonitor) Interval() time.Duration {
	return m.interval
}

func (m *EnergyMonitor) Domains() []Domain {
	// need not lock since it is read-only
	return m.domains
}

func (m *EnergyMonitor) DataChannel() <-chan struct{} {
	return m.dataCh
}

func (m *EnergyMonitor) signalNewData() {
	select {
	case m.dataCh <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current totals
func (m *EnergyMonitor) Snapshot() (*Snapshot, error) {
	if m.State() == Initializing {
		return nil, fmt.Errorf("%w: %s", ErrNotSampling, Initializing)
	}
	return m.snapshot(), nil
}

func (m *EnergyMonitor) snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Snapshot{
		Timestamp: m.lastSweep,
		State:     m.state,
		NumNodes:  m.nodes,
		Window:    m.window,
		Readings:  make([]Reading, 0, m.nodes*len(m.domains)),
	}
	for node := range m.counters {
		for i, d := range m.domains {
			c := m.counters[node][i]
			s.Readings = append(s.Readings, Reading{
				Node:   node,
				Domain: d,
				Energy: c.total,
				Errors: c.errors,
			})
		}
	}
	return s
}
