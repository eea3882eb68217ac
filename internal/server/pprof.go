// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/service"
)

const pprofPath = "/debug/pprof/"

type profiler struct {
	api APIService
}

var (
	_ service.Service     = (*profiler)(nil)
	_ service.Initializer = (*profiler)(nil)
)

// NewPprof creates a service exposing the runtime profiles under
// /debug/pprof/
func NewPprof(api APIService) *profiler {
	return &profiler{api: api}
}

func (p *profiler) Name() string {
	return "pprof"
}

func (p *profiler) Init() error {
	return p.api.Register(pprofPath, "pprof", "Profiling data of the meter", pprofHandlers())
}

// pprofHandlers serves the index and the named profiles (heap, goroutine,
// ...) through pprof.Index
func pprofHandlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pprofPath, pprof.Index)
	mux.HandleFunc(pprofPath+"cmdline", pprof.Cmdline)
	mux.HandleFunc(pprofPath+"profile", pprof.Profile)
	mux.HandleFunc(pprofPath+"symbol", pprof.Symbol)
	mux.HandleFunc(pprofPath+"trace", pprof.Trace)
	return mux
}
