// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package topology

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// cpuLister enumerates CPUs from /sys/devices/system/cpu
type cpuLister struct {
	fs   sysfs.FS
	cpus map[int]sysfs.CPU
}

func newCPULister(sysfsPath string) (*cpuLister, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs at %s: %w", sysfsPath, err)
	}
	return &cpuLister{fs: fs}, nil
}

// CPUs returns the ids of the logical CPUs listed in sysfs
func (l *cpuLister) CPUs() ([]int, error) {
	cpus, err := l.fs.CPUs()
	if err != nil {
		return nil, err
	}
	l.cpus = make(map[int]sysfs.CPU, len(cpus))
	ids := make([]int, 0, len(cpus))
	for _, cpu := range cpus {
		id, err := strconv.Atoi(cpu.Number())
		if err != nil {
			continue
		}
		l.cpus[id] = cpu
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (l *cpuLister) lookup(id int) (sysfs.CPU, error) {
	if l.cpus == nil {
		if _, err := l.CPUs(); err != nil {
			return "", err
		}
	}
	cpu, ok := l.cpus[id]
	if !ok {
		return "", fmt.Errorf("cpu %d not found in sysfs", id)
	}
	return cpu, nil
}

// SysfsSource identifies CPUs from the kernel's topology files. It works
// without raw CPUID access, e.g. inside virtual machines hiding leaf 0xB.
type SysfsSource struct {
	*cpuLister
}

var _ Source = (*SysfsSource)(nil)

// NewSysfsSource returns a SysfsSource reading sysfs at sysfsPath
func NewSysfsSource(sysfsPath string) (*SysfsSource, error) {
	l, err := newCPULister(sysfsPath)
	if err != nil {
		return nil, err
	}
	return &SysfsSource{cpuLister: l}, nil
}

func newSysfsSource(sysfsPath string) (Source, error) {
	return NewSysfsSource(sysfsPath)
}

func (s *SysfsSource) Name() string {
	return SourceSysfs
}

// Identify reads the topology directory of cpu. The SMT id is the position
// of cpu among its thread siblings.
func (s *SysfsSource) Identify(id int) (LogicalCPU, error) {
	cpu, err := s.lookup(id)
	if err != nil {
		return LogicalCPU{}, err
	}
	topo, err := cpu.Topology()
	if err != nil {
		return LogicalCPU{}, fmt.Errorf("failed to read topology of cpu %d: %w", id, err)
	}

	pkg, err := strconv.Atoi(strings.TrimSpace(topo.PhysicalPackageID))
	if err != nil {
		return LogicalCPU{}, fmt.Errorf("cpu %d: invalid physical_package_id %q: %w", id, topo.PhysicalPackageID, err)
	}
	core, err := strconv.Atoi(strings.TrimSpace(topo.CoreID))
	if err != nil {
		return LogicalCPU{}, fmt.Errorf("cpu %d: invalid core_id %q: %w", id, topo.CoreID, err)
	}
	siblings, err := ParseCPUList(topo.ThreadSiblingsList)
	if err != nil {
		return LogicalCPU{}, fmt.Errorf("cpu %d: invalid thread_siblings_list: %w", id, err)
	}
	smt := slices.Index(siblings, id)
	if smt < 0 {
		smt = 0
	}

	return LogicalCPU{ID: id, Package: pkg, Core: core, SMT: smt}, nil
}

// ParseCPUList parses a kernel cpu list such as "0-3,8,10-11"
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", s, err)
			}
			if last < first {
				return nil, fmt.Errorf("invalid cpu range %q", part)
			}
		}
		for c := first; c <= last; c++ {
			cpus = append(cpus, c)
		}
	}
	slices.Sort(cpus)
	return slices.Compact(cpus), nil
}
