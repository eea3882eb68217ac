// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package topology

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// cpuidex executes CPUID with the given leaf and sub-leaf on the current CPU
func cpuidex(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

func query(leaf, subleaf uint32) Leaf {
	a, b, c, d := cpuidex(leaf, subleaf)
	return Leaf{EAX: a, EBX: b, ECX: c, EDX: d}
}

// CPUIDSource identifies CPUs by running CPUID leaf 0xB on each of them
type CPUIDSource struct {
	*cpuLister
	onCPU func(cpu int, fn func()) error
}

var _ Source = (*CPUIDSource)(nil)

// NewCPUIDSource returns a CPUIDSource enumerating CPUs from sysfs at sysfsPath
func NewCPUIDSource(sysfsPath string) (*CPUIDSource, error) {
	l, err := newCPULister(sysfsPath)
	if err != nil {
		return nil, err
	}
	return &CPUIDSource{cpuLister: l, onCPU: runOnCPU}, nil
}

func newCPUIDSource(sysfsPath string) (Source, error) {
	return NewCPUIDSource(sysfsPath)
}

func (s *CPUIDSource) Name() string {
	return SourceCPUID
}

// Identify binds to cpu and decodes its x2APIC id
func (s *CPUIDSource) Identify(cpu int) (LogicalCPU, error) {
	var smt, core Leaf
	err := s.onCPU(cpu, func() {
		smt = query(extendedTopologyLeaf, smtLevel)
		core = query(extendedTopologyLeaf, coreLevel)
	})
	if err != nil {
		return LogicalCPU{}, err
	}
	if smt.EBX == 0 {
		return LogicalCPU{}, fmt.Errorf("cpu %d: CPUID leaf 0x%x not supported", cpu, extendedTopologyLeaf)
	}
	pkg, coreID, smtID := DecodeX2APIC(smt, core)
	return LogicalCPU{ID: cpu, Package: pkg, Core: coreID, SMT: smtID}, nil
}

// runOnCPU runs fn on a dedicated OS thread pinned to cpu. The previous
// affinity is restored afterwards; if that fails the thread stays locked
// so the runtime discards it when the goroutine exits.
func runOnCPU(cpu int, fn func()) error {
	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()

		var prev unix.CPUSet
		if err := unix.SchedGetaffinity(0, &prev); err != nil {
			runtime.UnlockOSThread()
			errCh <- fmt.Errorf("failed to get cpu affinity: %w", err)
			return
		}

		var set unix.CPUSet
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			runtime.UnlockOSThread()
			errCh <- fmt.Errorf("failed to bind to cpu %d: %w", cpu, err)
			return
		}

		fn()

		if err := unix.SchedSetaffinity(0, &prev); err != nil {
			errCh <- fmt.Errorf("failed to restore cpu affinity: %w", err)
			return
		}
		runtime.UnlockOSThread()
		errCh <- nil
	}()
	return <-errCh
}
