// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package topology

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sysfsCPU struct {
	id, pkg, core int
	siblings      string
}

// createSysfs lays out devices/system/cpu/cpuN/topology for each cpu
func createSysfs(t *testing.T, cpus []sysfsCPU) string {
	t.Helper()
	root := t.TempDir()
	for _, c := range cpus {
		dir := filepath.Join(root, "devices", "system", "cpu", fmt.Sprintf("cpu%d", c.id), "topology")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		files := map[string]string{
			"physical_package_id":  fmt.Sprintf("%d\n", c.pkg),
			"core_id":              fmt.Sprintf("%d\n", c.core),
			"thread_siblings_list": c.siblings + "\n",
			"core_siblings_list":   "0-3\n",
		}
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		}
	}
	return root
}

func TestSysfsSource(t *testing.T) {
	root := createSysfs(t, []sysfsCPU{
		{id: 0, pkg: 0, core: 0, siblings: "0,2"},
		{id: 1, pkg: 1, core: 0, siblings: "1,3"},
		{id: 2, pkg: 0, core: 0, siblings: "0,2"},
		{id: 3, pkg: 1, core: 0, siblings: "1,3"},
	})

	src, err := NewSysfsSource(root)
	require.NoError(t, err)
	assert.Equal(t, SourceSysfs, src.Name())

	ids, err := src.CPUs()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, ids)

	cpu, err := src.Identify(3)
	require.NoError(t, err)
	assert.Equal(t, LogicalCPU{ID: 3, Package: 1, Core: 0, SMT: 1}, cpu)

	topo, err := Discover(src, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, topo.Nodes())
}

func TestSysfsSource_IdentifyBeforeListing(t *testing.T) {
	root := createSysfs(t, []sysfsCPU{{id: 0, pkg: 0, core: 0, siblings: "0"}})
	src, err := NewSysfsSource(root)
	require.NoError(t, err)

	cpu, err := src.Identify(0)
	require.NoError(t, err)
	assert.Equal(t, LogicalCPU{ID: 0}, cpu)

	_, err = src.Identify(7)
	assert.Error(t, err)
}

func TestSysfsSource_InvalidTopology(t *testing.T) {
	root := createSysfs(t, []sysfsCPU{{id: 0, pkg: 0, core: 0, siblings: "0"}})
	pkgFile := filepath.Join(root, "devices", "system", "cpu", "cpu0", "topology", "physical_package_id")
	require.NoError(t, os.WriteFile(pkgFile, []byte("socket0\n"), 0o644))

	src, err := NewSysfsSource(root)
	require.NoError(t, err)

	_, err = Discover(src, slog.Default())
	assert.ErrorIs(t, err, ErrDiscovery)
}

func TestNewSource_Sysfs(t *testing.T) {
	root := createSysfs(t, []sysfsCPU{{id: 0, pkg: 0, core: 0, siblings: "0"}})
	src, err := NewSource(SourceSysfs, root)
	require.NoError(t, err)
	assert.Equal(t, SourceSysfs, src.Name())
}

func TestNewSysfsSource_MissingMount(t *testing.T) {
	_, err := NewSysfsSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"0", []int{0}, false},
		{"0,4", []int{0, 4}, false},
		{"0-3", []int{0, 1, 2, 3}, false},
		{"0-1,8,10-11\n", []int{0, 1, 8, 10, 11}, false},
		{"4,0", []int{0, 4}, false},
		{"3-1", nil, true},
		{"a", nil, true},
		{"1-b", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCPUList(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
