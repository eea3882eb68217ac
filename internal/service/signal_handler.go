// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// SignalHandler relays OS signals to a callback. Without a callback it
// returns on the first signal, stopping the run group.
type SignalHandler struct {
	logger  *slog.Logger
	signals []os.Signal
	notify  func(os.Signal)
	ch      chan os.Signal
}

type SignalOpts struct {
	logger *slog.Logger
	notify func(os.Signal)
}

// SignalOptionFn is a function sets one more more options in SignalOpts struct
type SignalOptionFn func(*SignalOpts)

// WithSignalLogger sets the logger of the SignalHandler
func WithSignalLogger(logger *slog.Logger) SignalOptionFn {
	return func(o *SignalOpts) {
		o.logger = logger
	}
}

// WithNotify sets the function invoked for every received signal. The
// handler keeps running until its context is done.
func WithNotify(fn func(os.Signal)) SignalOptionFn {
	return func(o *SignalOpts) {
		o.notify = fn
	}
}

// NewSignalHandler catches signals right away. Signals received before Run
// are queued and relayed once it starts.
func NewSignalHandler(signals []os.Signal, applyOpts ...SignalOptionFn) *SignalHandler {
	opts := SignalOpts{logger: slog.Default()}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ch := make(chan os.Signal, 4)
	if len(signals) > 0 {
		signal.Notify(ch, signals...)
	}

	return &SignalHandler{
		logger:  opts.logger.With("service", "signal-handler"),
		signals: signals,
		notify:  opts.notify,
		ch:      ch,
	}
}

// Forward sets the function invoked for every received signal. It must be
// called before Run.
func (sh *SignalHandler) Forward(fn func(os.Signal)) {
	sh.notify = fn
}

// Stop stops catching signals, their default action applies again
func (sh *SignalHandler) Stop() {
	signal.Stop(sh.ch)
}

func (sh *SignalHandler) Name() string {
	return "signal-handler"
}

func (sh *SignalHandler) Run(ctx context.Context) error {
	defer sh.Stop()

	sh.logger.Info("Waiting for signals", "signals", sh.signals)

	for {
		select {
		case sig := <-sh.ch:
			sh.logger.Debug("Received signal", "signal", sig)
			if sh.notify == nil {
				return nil
			}
			sh.notify(sig)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
