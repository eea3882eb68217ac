// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(ctx context.Context, services []Service) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, nil, services)
	}()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("first service to finish stops the others", func(t *testing.T) {
		log := &journal{}
		stop := make(chan struct{})

		first := lifecycle("first", log)
		first.runFn = func(ctx context.Context) error {
			<-stop
			return nil
		}
		other := lifecycle("other", log)

		errCh := runAsync(context.Background(), []Service{first, other, &fakeService{name: "plain"}})
		require.Eventually(t, func() bool { return len(log.list()) == 2 }, time.Second, time.Millisecond)

		close(stop)
		assert.NoError(t, waitRun(t, errCh), "error of the first service is returned")
		assert.Subset(t, log.list(), []string{"run first", "run other", "shutdown first", "shutdown other"})
	})

	t.Run("failing service returns its error", func(t *testing.T) {
		log := &journal{}
		runErr := errors.New("run error")

		failing := lifecycle("failing", log)
		failing.runFn = func(ctx context.Context) error { return runErr }
		failing.shutdownErr = errors.New("shutdown error")

		err := waitRun(t, runAsync(context.Background(), []Service{failing, lifecycle("other", log)}))
		assert.ErrorIs(t, err, runErr)
		assert.Contains(t, log.list(), "shutdown failing")
		assert.Contains(t, log.list(), "shutdown other")
	})

	t.Run("context cancellation stops all services", func(t *testing.T) {
		log := &journal{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := runAsync(ctx, []Service{lifecycle("a", log), lifecycle("b", log)})
		require.Eventually(t, func() bool { return len(log.list()) == 2 }, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, waitRun(t, errCh), context.Canceled)
	})

	t.Run("non-runner services are skipped", func(t *testing.T) {
		log := &journal{}
		services := []Service{
			&fakeService{name: "plain", log: log},
			&fakeInitializer{fakeService: fakeService{name: "init-only", log: log}},
		}
		assert.NoError(t, Run(context.Background(), nil, services))
		assert.Empty(t, log.list())
	})
}
