// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sustainable-computing-io/cpu-energy-meter/internal/monitor"
	"github.com/sustainable-computing-io/cpu-energy-meter/internal/service"
)

// StateProvider reports the lifecycle state of the sampling engine
type StateProvider interface {
	State() monitor.State
}

type probe struct {
	api     APIService
	monitor StateProvider
}

var (
	_ service.Service     = (*probe)(nil)
	_ service.Initializer = (*probe)(nil)
)

// NewProbe creates a service that exposes the monitor state on /probe/readyz
// and /probe/livez
func NewProbe(api APIService, m StateProvider) *probe {
	return &probe{
		api:     api,
		monitor: m,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	return p.api.Register("/probe/", "probe", "Health check endpoints", p.handlers())
}

func (p *probe) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe/readyz", p.readyzHandler)
	mux.HandleFunc("/probe/livez", p.livezHandler)
	return mux
}

// readyzHandler succeeds once the seeding sweep is done and until the
// final report has been requested
func (p *probe) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if state := p.monitor.State(); state != monitor.Sampling {
		p.respond(w, http.StatusServiceUnavailable, "not ready", state)
		return
	}
	p.respond(w, http.StatusOK, "ok", monitor.Sampling)
}

// livezHandler fails only once the monitor is terminating
func (p *probe) livezHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := p.monitor.State()
	if state == monitor.Terminating {
		p.respond(w, http.StatusServiceUnavailable, "not alive", state)
		return
	}
	p.respond(w, http.StatusOK, "alive", state)
}

func (p *probe) respond(w http.ResponseWriter, code int, status string, state monitor.State) {
	response := map[string]string{
		"status": status,
		"state":  state.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
