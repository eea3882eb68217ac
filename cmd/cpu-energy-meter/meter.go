// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sustainable-computing-io/cpu-energy-meter/config"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/rapl"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/topology"
)

// meter holds everything the energy monitor needs from the hardware
type meter struct {
	reader   *device.MSRReader
	support  *rapl.Support
	units    rapl.Units
	nodes    int
	interval time.Duration
}

// openMeter detects the processor and the package topology, opens one MSR
// handle per package and decodes the RAPL units. The registers must be
// opened before privileges are dropped.
func openMeter(logger *slog.Logger, cfg *config.Config) (*meter, error) {
	cpu := rapl.DetectProcessor()
	logger.Info("Detected processor", "processor", cpu)
	if err := cpu.Validate(); err != nil {
		return nil, err
	}

	src, err := topology.NewSource(cfg.Topology.Source, cfg.Host.SysFS)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Discover(src, logger)
	if err != nil {
		return nil, err
	}
	nodes := topo.NumNodes()

	reader := device.NewMSRReader(cfg.Host.MSR, logger)
	if err := reader.Open(nodes, topo.CPUForNode); err != nil {
		return nil, err
	}

	m, err := probeMeter(logger, reader, cpu, nodes, cfg.Sampling.Delay)
	if err != nil {
		return nil, errors.Join(err, reader.Close())
	}
	m.reader = reader
	return m, nil
}

// probeMeter probes the registers of node 0, decodes the units and picks
// the sampling interval. A zero delay selects the computed safe interval.
func probeMeter(logger *slog.Logger, reader device.RegisterReader, cpu rapl.Processor, nodes int, delay time.Duration) (*meter, error) {
	support := rapl.ProbeSupport(func(r rapl.Register) error {
		_, err := reader.Read(0, uint32(r))
		return err
	}, logger)
	if !support.Register(rapl.PowerUnit) {
		return nil, fmt.Errorf("failed to read %s: RAPL is not available", rapl.PowerUnit)
	}
	logger.Info("RAPL domains supported", "domains", support.Domains())

	raw, err := reader.Read(0, uint32(rapl.PowerUnit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rapl.PowerUnit, err)
	}
	units := rapl.DecodeUnits(raw, cpu)
	logger.Debug("RAPL units", "power", units.Power, "energy", units.Energy, "time", units.Time, "dram_energy", units.DRAMEnergy)

	interval := delay
	if interval == 0 {
		params := packageParameters(logger, reader, support, units, nodes)
		maxPower, assumed := rapl.MaxPower(params)
		if assumed {
			logger.Warn("Maximum power of some packages unknown, assuming a default", "fallback", rapl.FallbackMaxPower, "power", maxPower)
		}
		interval = rapl.SafeInterval(units, maxPower)
		logger.Debug("Computed sampling interval", "interval", interval, "max_power", maxPower)
	}

	return &meter{
		support:  support,
		units:    units,
		nodes:    nodes,
		interval: interval,
	}, nil
}

// packageParameters reads the power limits of every node. A node whose
// register can't be read gets zero parameters. Nothing is read when the
// processor does not report them.
func packageParameters(logger *slog.Logger, reader device.RegisterReader, support *rapl.Support, units rapl.Units, nodes int) []rapl.PackageParameters {
	if !support.PackageParameters() {
		return nil
	}

	params := make([]rapl.PackageParameters, 0, nodes)
	for node := range nodes {
		raw, err := reader.Read(node, uint32(rapl.PkgPowerInfo))
		if err != nil {
			logger.Warn("Failed to read package power info", "node", node, "register", rapl.PkgPowerInfo, "error", err)
			params = append(params, rapl.PackageParameters{})
			continue
		}
		p := rapl.DecodePowerInfo(raw).Parameters(units)
		logger.Debug("Package power parameters", "node", node, "parameters", p)
		params = append(params, p)
	}
	return params
}
