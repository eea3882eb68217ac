// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrDiscovery is returned when the topology cannot be fully determined
var ErrDiscovery = errors.New("cpu topology discovery failed")

// LogicalCPU is an operating system CPU and its position in the package
// hierarchy
type LogicalCPU struct {
	ID      int `json:"id" yaml:"id"`
	Package int `json:"package" yaml:"package"`
	Core    int `json:"core" yaml:"core"`
	SMT     int `json:"smt" yaml:"smt"`
}

// Source enumerates logical CPUs and identifies their position
type Source interface {
	// Name of the source, used in logs
	Name() string
	// CPUs returns the ids of the logical CPUs present
	CPUs() ([]int, error)
	// Identify returns the package, core and SMT ids of cpu
	Identify(cpu int) (LogicalCPU, error)
}

// Topology maps nodes (physical packages) to the logical CPU used to
// access each of them
type Topology struct {
	CPUs  []LogicalCPU
	nodes []int // node -> representative logical CPU
}

// NumNodes returns the number of nodes
func (t *Topology) NumNodes() int {
	return len(t.nodes)
}

// CPUForNode returns the logical CPU representing node
func (t *Topology) CPUForNode(node int) (int, error) {
	if node < 0 || node >= len(t.nodes) {
		return 0, fmt.Errorf("node %d out of range [0, %d)", node, len(t.nodes))
	}
	return t.nodes[node], nil
}

// Nodes returns the representative CPU of each node, indexed by node
func (t *Topology) Nodes() []int {
	return slices.Clone(t.nodes)
}

// Discover identifies every logical CPU of src and picks, for each package,
// the first CPU with SMT and core id 0 (or else the first CPU seen on it).
// Any failure discards the partial result.
func Discover(src Source, logger *slog.Logger) (*Topology, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "topology", "source", src.Name())

	ids, err := src.CPUs()
	if err != nil {
		return nil, fmt.Errorf("%w: listing cpus: %w", ErrDiscovery, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no cpus found", ErrDiscovery)
	}
	slices.Sort(ids)

	cpus := make([]LogicalCPU, 0, len(ids))
	maxPkg := -1
	for _, id := range ids {
		cpu, err := src.Identify(id)
		if err != nil {
			return nil, fmt.Errorf("%w: cpu %d: %w", ErrDiscovery, id, err)
		}
		if cpu.Package < 0 {
			return nil, fmt.Errorf("%w: cpu %d: invalid package id %d", ErrDiscovery, id, cpu.Package)
		}
		logger.Debug("Identified cpu", "cpu", cpu.ID, "package", cpu.Package, "core", cpu.Core, "smt", cpu.SMT)
		cpus = append(cpus, cpu)
		maxPkg = max(maxPkg, cpu.Package)
	}

	nodes := make([]int, maxPkg+1)
	firstSeen := make([]int, maxPkg+1)
	for i := range nodes {
		nodes[i], firstSeen[i] = -1, -1
	}
	for _, cpu := range cpus {
		if firstSeen[cpu.Package] < 0 {
			firstSeen[cpu.Package] = cpu.ID
		}
		if nodes[cpu.Package] < 0 && cpu.Core == 0 && cpu.SMT == 0 {
			nodes[cpu.Package] = cpu.ID
		}
	}
	for node := range nodes {
		if nodes[node] >= 0 {
			continue
		}
		if firstSeen[node] < 0 {
			return nil, fmt.Errorf("%w: package %d has no cpu", ErrDiscovery, node)
		}
		nodes[node] = firstSeen[node]
	}

	logger.Info("CPU topology discovered", "cpus", len(cpus), "nodes", len(nodes), "node-cpus", nodes)
	return &Topology{CPUs: cpus, nodes: nodes}, nil
}
