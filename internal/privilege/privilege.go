// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package privilege drops the root identity and the capabilities of the
// process once the register handles are open.
package privilege

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnsupportedPlatform is returned where privileges cannot be dropped
var ErrUnsupportedPlatform = errors.New("dropping privileges is not supported on this platform")

// Nobody is the identity used by default: nobody/nogroup
var Nobody = Credentials{UID: 65534, GID: 65534}

// Credentials is the identity the process switches to
type Credentials struct {
	UID int
	GID int
}

func (c Credentials) String() string {
	return fmt.Sprintf("uid=%d gid=%d", c.UID, c.GID)
}

// Validate rejects identities that would keep root privileges
func (c Credentials) Validate() error {
	if c.UID <= 0 {
		return fmt.Errorf("invalid uid %d: must be a non-root user", c.UID)
	}
	if c.GID <= 0 {
		return fmt.Errorf("invalid gid %d: must be a non-root group", c.GID)
	}
	return nil
}

// Drop switches to creds when running as root and clears every capability.
// Open file descriptors stay usable.
func Drop(creds Credentials, logger *slog.Logger) error {
	return newDropper(logger).drop(creds)
}
