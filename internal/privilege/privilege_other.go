// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package privilege

import "log/slog"

type dropper struct{}

func newDropper(*slog.Logger) *dropper {
	return &dropper{}
}

func (*dropper) drop(Credentials) error {
	return ErrUnsupportedPlatform
}
