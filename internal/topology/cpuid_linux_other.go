// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && !amd64

package topology

import "fmt"

func newCPUIDSource(string) (Source, error) {
	return nil, fmt.Errorf("%w: cpuid requires amd64, use the sysfs source", ErrUnsupportedPlatform)
}
