// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// journal records the calls made to the fake services in order
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeService struct {
	name string
	log  *journal
}

func (f *fakeService) Name() string {
	return f.name
}

// fakeInitializer implements Initializer only
type fakeInitializer struct {
	fakeService
	initErr error
}

func (f *fakeInitializer) Init() error {
	f.log.add("init " + f.name)
	return f.initErr
}

// fakeLifecycle implements Initializer, Runner and Shutdowner
type fakeLifecycle struct {
	fakeService
	initErr     error
	shutdownErr error
	runFn       func(ctx context.Context) error
}

func (f *fakeLifecycle) Init() error {
	f.log.add("init " + f.name)
	return f.initErr
}

func (f *fakeLifecycle) Run(ctx context.Context) error {
	f.log.add("run " + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeLifecycle) Shutdown() error {
	f.log.add("shutdown " + f.name)
	return f.shutdownErr
}

func lifecycle(name string, log *journal) *fakeLifecycle {
	return &fakeLifecycle{fakeService: fakeService{name: name, log: log}}
}
