// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"
)

func TestDefaultOpts(t *testing.T) {
	opts := DefaultOpts()
	assert.Equal(t, time.Second, opts.interval)
	assert.Equal(t, slog.Default(), opts.logger)
	assert.IsType(t, clock.RealClock{}, opts.clock)
	assert.Nil(t, opts.reporter)
}

func TestOptions(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	logger := slog.Default().With("test", "options")
	reporter := make(chanReporter, 1)

	opts := DefaultOpts()
	for _, apply := range []OptionFn{
		WithInterval(250 * time.Millisecond),
		WithClock(fakeClock),
		WithLogger(logger),
		WithReporter(reporter),
	} {
		apply(&opts)
	}

	assert.Equal(t, 250*time.Millisecond, opts.interval)
	assert.Equal(t, fakeClock, opts.clock)
	assert.Equal(t, logger, opts.logger)
	assert.Equal(t, reporter, opts.reporter)
}
