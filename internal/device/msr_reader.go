// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// DefaultMSRPath is the msr driver device path template, %d is the logical CPU
const DefaultMSRPath = "/dev/cpu/%d/msr"

// ErrNotOpen is returned when reading from a node without an open handle
var ErrNotOpen = errors.New("msr handle not open")

// RegisterReader reads a raw 64-bit register value on a node
type RegisterReader interface {
	Read(node int, reg uint32) (uint64, error)
}

// MSRReader reads model specific registers through the Linux msr driver.
// It keeps one open handle per node (CPU package), on the CPU chosen to
// represent that node.
type MSRReader struct {
	devicePath string
	logger     *slog.Logger

	mu    sync.RWMutex
	files []*os.File // node -> handle
	cpus  []int      // node -> logical CPU backing the handle
}

var _ RegisterReader = (*MSRReader)(nil)

// NewMSRReader creates a new MSR reader using the specified device path template
func NewMSRReader(devicePath string, logger *slog.Logger) *MSRReader {
	if logger == nil {
		logger = slog.Default()
	}
	if devicePath == "" {
		devicePath = DefaultMSRPath
	}
	return &MSRReader{
		devicePath: devicePath,
		logger:     logger.With("service", "msr-reader"),
	}
}

// Open opens a handle for each node in [0, nodes) on the CPU returned by
// cpuForNode. Either all handles are opened or none are kept.
func (m *MSRReader) Open(nodes int, cpuForNode func(node int) (int, error)) error {
	if nodes <= 0 {
		return fmt.Errorf("invalid node count %d", nodes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files != nil {
		return fmt.Errorf("msr handles already open")
	}

	files := make([]*os.File, 0, nodes)
	cpus := make([]int, 0, nodes)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for node := 0; node < nodes; node++ {
		cpu, err := cpuForNode(node)
		if err != nil {
			closeAll()
			return fmt.Errorf("no cpu for node %d: %w", node, err)
		}
		path := fmt.Sprintf(m.devicePath, cpu)
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			closeAll()
			if errors.Is(err, os.ErrNotExist) {
				m.logger.Error("MSR device missing, is the msr kernel module loaded?", "path", path)
			} else if errors.Is(err, os.ErrPermission) {
				m.logger.Error("MSR device not accessible, root or CAP_SYS_RAWIO is required", "path", path)
			}
			return fmt.Errorf("failed to open MSR file %s: %w", path, err)
		}
		m.logger.Debug("Opened MSR handle", "node", node, "cpu", cpu, "path", path)
		files = append(files, f)
		cpus = append(cpus, cpu)
	}

	m.files = files
	m.cpus = cpus
	return nil
}

// Read returns the 64-bit value of register reg on node
func (m *MSRReader) Read(node int, reg uint32) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if node < 0 || node >= len(m.files) {
		return 0, fmt.Errorf("node %d: %w", node, ErrNotOpen)
	}

	var buf [8]byte
	n, err := m.files[node].ReadAt(buf[:], int64(reg))
	if n == len(buf) {
		// ReadAt may report io.EOF alongside a full read at the end of a file
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return 0, fmt.Errorf("failed to read MSR 0x%x on cpu %d: %w", reg, m.cpus[node], err)
}

// Nodes returns the number of open handles
func (m *MSRReader) Nodes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// CPU returns the logical CPU backing the handle of node
func (m *MSRReader) CPU(node int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if node < 0 || node >= len(m.cpus) {
		return 0, false
	}
	return m.cpus[node], true
}

// Close closes all handles. It is safe to call more than once.
func (m *MSRReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for node, f := range m.files {
		if err := f.Close(); err != nil {
			m.logger.Warn("Failed to close MSR file", "node", node, "cpu", m.cpus[node], "error", err)
			errs = append(errs, err)
		}
	}
	m.files = nil
	m.cpus = nil
	return errors.Join(errs...)
}
