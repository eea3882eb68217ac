// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/monitor"
)

const (
	meterNS         = "cpu_energy_meter"
	nodeLabel       = "node"
	domainLabel     = "domain"
	energySubsystem = "energy"
)

type SnapshotProvider = monitor.SnapshotProvider

// EnergyCollector exposes the cumulative energy totals of the monitor.
// All metrics of one scrape come from a single snapshot.
type EnergyCollector struct {
	sp     SnapshotProvider
	logger *slog.Logger

	mutex sync.RWMutex
	ready bool

	joulesDesc   *prometheus.Desc
	errorsDesc   *prometheus.Desc
	durationDesc *prometheus.Desc
}

var _ prometheus.Collector = (*EnergyCollector)(nil)

// NewEnergyCollector creates a collector that reports nothing until the
// monitor has completed its first sweep
func NewEnergyCollector(sp SnapshotProvider, logger *slog.Logger) *EnergyCollector {
	c := &EnergyCollector{
		sp:     sp,
		logger: logger.With("collector", "energy"),

		joulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(meterNS, energySubsystem, "joules_total"),
			"Energy consumed by a RAPL domain of a CPU package since the measurement started, in joules",
			[]string{nodeLabel, domainLabel}, nil),
		errorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(meterNS, "read", "errors_total"),
			"Number of failed energy counter reads",
			[]string{nodeLabel, domainLabel}, nil),
		durationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(meterNS, "measurement", "duration_seconds"),
			"Time between the seeding sweep and the latest sweep",
			nil, nil),
	}

	go c.waitForData()

	return c
}

func (c *EnergyCollector) waitForData() {
	<-c.sp.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *EnergyCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *EnergyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.joulesDesc
	ch <- c.errorsDesc
	ch <- c.durationDesc
}

// Collect implements the prometheus.Collector interface
func (c *EnergyCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	snapshot, err := c.sp.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect energy data", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.durationDesc,
		prometheus.GaugeValue,
		snapshot.Window.Duration().Seconds(),
	)

	for _, r := range snapshot.Readings {
		node := strconv.Itoa(r.Node)
		domain := r.Domain.String()

		ch <- prometheus.MustNewConstMetric(
			c.joulesDesc,
			prometheus.CounterValue,
			r.Energy.Joules(),
			node, domain,
		)
		ch <- prometheus.MustNewConstMetric(
			c.errorsDesc,
			prometheus.CounterValue,
			float64(r.Errors),
			node, domain,
		)
	}
}
