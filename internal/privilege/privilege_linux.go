// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package privilege

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"
)

// identity is the subset of the credential syscalls used by the dropper.
// Every call applies to all threads of the process.
type identity interface {
	Geteuid() int
	Setgroups(gids []int) error
	Setresgid(rgid, egid, sgid int) error
	Setresuid(ruid, euid, suid int) error
	ClearCapabilities() error
}

type unixIdentity struct{}

func (unixIdentity) Geteuid() int { return unix.Geteuid() }

// unix.Setgroups only changes the calling thread
func (unixIdentity) Setgroups(gids []int) error           { return syscall.Setgroups(gids) }
func (unixIdentity) Setresgid(rgid, egid, sgid int) error { return unix.Setresgid(rgid, egid, sgid) }
func (unixIdentity) Setresuid(ruid, euid, suid int) error { return unix.Setresuid(ruid, euid, suid) }

// ClearCapabilities empties the effective, permitted and inheritable sets
// of every thread. It returns unix.ENOTSUP when the binary links cgo.
func (unixIdentity) ClearCapabilities() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	_, _, errno := syscall.AllThreadsSyscall(syscall.SYS_CAPSET,
		uintptr(unsafe.Pointer(&hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

type dropper struct {
	logger *slog.Logger
	id     identity
	caps   func() (capability.Capabilities, error)
}

func newDropper(logger *slog.Logger) *dropper {
	return &dropper{
		logger: logger.With("service", "privilege"),
		id:     unixIdentity{},
		caps: func() (capability.Capabilities, error) {
			return capability.NewPid2(0)
		},
	}
}

func (d *dropper) drop(creds Credentials) error {
	if d.id.Geteuid() == 0 {
		if err := creds.Validate(); err != nil {
			return err
		}
		// groups and gid first, changing them needs root
		if err := d.id.Setgroups([]int{creds.GID}); err != nil {
			return fmt.Errorf("failed to set supplementary groups: %w", err)
		}
		if err := d.id.Setresgid(creds.GID, creds.GID, creds.GID); err != nil {
			return fmt.Errorf("failed to set gid %d: %w", creds.GID, err)
		}
		if err := d.id.Setresuid(creds.UID, creds.UID, creds.UID); err != nil {
			return fmt.Errorf("failed to set uid %d: %w", creds.UID, err)
		}
		d.logger.Info("Dropped root identity", "uid", creds.UID, "gid", creds.GID)
	} else {
		d.logger.Debug("Not running as root, keeping identity")
	}

	caps, err := d.caps()
	if err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if err := d.id.ClearCapabilities(); err != nil {
		if !errors.Is(err, unix.ENOTSUP) {
			return fmt.Errorf("failed to clear capabilities: %w", err)
		}
		// capset through gocapability only reaches the calling thread
		d.logger.Warn("Clearing capabilities of the calling thread only", "error", err)
		caps.Clear(capability.CAPS)
		if err := caps.Apply(capability.CAPS); err != nil {
			return fmt.Errorf("failed to clear capabilities: %w", err)
		}
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("failed to read capabilities: %w", err)
	}
	if !caps.Empty(capability.PERMITTED) {
		return fmt.Errorf("capabilities still permitted: %s", caps.StringCap(capability.PERMITTED))
	}

	d.logger.Info("Cleared capabilities")
	return nil
}
