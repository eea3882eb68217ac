// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
)

// Topology source names accepted by NewSource
const (
	SourceCPUID = "cpuid"
	SourceSysfs = "sysfs"
)

// ErrUnsupportedPlatform is returned when a source cannot run on this OS or
// architecture
var ErrUnsupportedPlatform = errors.New("topology source not supported on this platform")

// NewSource returns the topology source named kind. sysfsPath is the sysfs
// mount point used to enumerate CPUs.
func NewSource(kind, sysfsPath string) (Source, error) {
	switch kind {
	case SourceCPUID:
		return newCPUIDSource(sysfsPath)
	case SourceSysfs:
		return newSysfsSource(sysfsPath)
	default:
		return nil, fmt.Errorf("unknown topology source %q", kind)
	}
}
