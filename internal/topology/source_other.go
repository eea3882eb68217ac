// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package topology

func newCPUIDSource(string) (Source, error) {
	return nil, ErrUnsupportedPlatform
}

func newSysfsSource(string) (Source, error) {
	return nil, ErrUnsupportedPlatform
}
