// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner drives the delegator's flush pass on a fixed tick. It owns the
// scheduling loop; the delegator itself never blocks or sleeps.
type Runner struct {
	delegator *Delegator
	interval  time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a runner flushing every interval. Intervals below one
// millisecond are clamped to it.
func NewRunner(d *Delegator, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return &Runner{
		delegator: d,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the flush loop goroutine.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("relay flush loop started", slog.Duration("interval", r.interval))
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("relay flush loop stopped")
}

func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.delegator.Flush(context.Background())
		}
	}
}
