// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"os"
	"syscall"
)

// Request is an external request to the sampling loop. Every request wakes
// the loop and is followed by a poll.
type Request int

const (
	// RequestNone wakes the loop without further action
	RequestNone Request = iota
	// RequestReport emits an intermediate report, totals are kept
	RequestReport
	// RequestStop emits the final report and ends sampling
	RequestStop
)

func (r Request) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestReport:
		return "report"
	case RequestStop:
		return "stop"
	default:
		return "unknown"
	}
}

// StopSignals and ReportSignals are the process signals mapped to requests
var (
	StopSignals   = []os.Signal{syscall.SIGINT, syscall.SIGQUIT}
	ReportSignals = []os.Signal{syscall.SIGUSR1}
)

// RequestForSignal maps a process signal to a request
func RequestForSignal(sig os.Signal) Request {
	for _, s := range StopSignals {
		if s == sig {
			return RequestStop
		}
	}
	for _, s := range ReportSignals {
		if s == sig {
			return RequestReport
		}
	}
	return RequestNone
}
