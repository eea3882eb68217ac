// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"
	"time"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/device"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/rapl"
)

type (
	Energy = device.Energy
	Domain = rapl.Domain
)

// State of the sampling engine
type State int

const (
	Initializing State = iota
	Sampling
	Terminating
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Sampling:
		return "sampling"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Window is the wall clock interval covered by the cumulative totals
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Reading is the running total of one (node, domain) pair
type Reading struct {
	Node   int
	Domain Domain
	Energy Energy // cumulative since the window start
	Errors uint64 // failed reads since the window start
}

// Snapshot is a point in time copy of the cumulative totals of every
// sampled (node, domain) pair, ordered by node then domain
type Snapshot struct {
	Timestamp time.Time // time of the last sweep
	State     State
	NumNodes  int
	Window    Window
	Readings  []Reading
}

func (s *Snapshot) Clone() *Snapshot {
	ret := *s
	ret.Readings = slices.Clone(s.Readings)
	return &ret
}

// Report is handed to a Reporter at each reporting event. Entries only holds
// pairs that accumulated energy.
type Report struct {
	NumNodes int
	Window   Window
	Entries  []Reading
	Final    bool
}

// NewReport builds the report of a snapshot
func NewReport(s *Snapshot, final bool) *Report {
	r := &Report{
		NumNodes: s.NumNodes,
		Window:   s.Window,
		Final:    final,
	}
	for _, rd := range s.Readings {
		if rd.Energy == 0 {
			continue
		}
		r.Entries = append(r.Entries, rd)
	}
	return r
}

// Node returns the entries of node in domain order
func (r *Report) Node(node int) []Reading {
	var ret []Reading
	for _, e := range r.Entries {
		if e.Node == node {
			ret = append(ret, e)
		}
	}
	return ret
}
