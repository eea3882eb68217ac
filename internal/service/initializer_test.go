// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	t.Run("initializes in order", func(t *testing.T) {
		log := &journal{}
		services := []Service{
			lifecycle("a", log),
			&fakeService{name: "plain", log: log},
			&fakeInitializer{fakeService: fakeService{name: "b", log: log}},
		}

		assert.NoError(t, Init(nil, services))
		assert.Equal(t, []string{"init a", "init b"}, log.list())
	})

	t.Run("failure shuts down initialized services in reverse", func(t *testing.T) {
		log := &journal{}
		initErr := errors.New("init error")

		failing := lifecycle("c", log)
		failing.initErr = initErr

		services := []Service{
			lifecycle("a", log),
			&fakeInitializer{fakeService: fakeService{name: "no-shutdown", log: log}},
			lifecycle("b", log),
			failing,
			lifecycle("d", log),
		}

		err := Init(nil, services)
		assert.ErrorIs(t, err, initErr)
		assert.ErrorContains(t, err, "failed to initialize service c")
		assert.Equal(t, []string{
			"init a", "init no-shutdown", "init b", "init c",
			"shutdown b", "shutdown a",
		}, log.list())
	})

	t.Run("shutdown error does not mask init error", func(t *testing.T) {
		log := &journal{}
		initErr := errors.New("init error")
		shutdownErr := errors.New("shutdown error")

		first := lifecycle("a", log)
		first.shutdownErr = shutdownErr
		second := lifecycle("b", log)
		second.initErr = initErr

		err := Init(nil, []Service{first, second})
		assert.ErrorIs(t, err, initErr)
		assert.NotErrorIs(t, err, shutdownErr)
		assert.Equal(t, []string{"init a", "init b", "shutdown a"}, log.list())
	})

	t.Run("empty service list", func(t *testing.T) {
		assert.NoError(t, Init(nil, []Service{}))
	})
}
