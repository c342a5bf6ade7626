// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedEndpoint wraps fakeEndpoint with a mutex so the runner goroutine
// and the test can touch it concurrently.
type lockedEndpoint struct {
	mu sync.Mutex
	ep fakeEndpoint
}

func (l *lockedEndpoint) IsBusy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep.IsBusy()
}

func (l *lockedEndpoint) CanTransmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep.CanTransmit()
}

func (l *lockedEndpoint) Score() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep.Score()
}

func (l *lockedEndpoint) Transmit(ctx context.Context, records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep.Transmit(ctx, records)
}

func (l *lockedEndpoint) batchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ep.batches)
}

func TestRunner_FlushesOnTick(t *testing.T) {
	ep := &lockedEndpoint{ep: fakeEndpoint{capable: true, score: 1}}

	d := New(nil)
	d.Discover([]Endpoint{ep})
	d.Submit(records("r1"))

	r := NewRunner(d, 5*time.Millisecond, nil)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return ep.batchCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The fake marks itself busy after accepting; the batch stays in the
	// backlog until the endpoint is observed idle again.
	assert.Len(t, d.QueuedRecords(), 1)
	ep.mu.Lock()
	ep.ep.busy = false
	ep.mu.Unlock()
	assert.Empty(t, d.QueuedRecords())
}

func TestRunner_StopTerminatesLoop(t *testing.T) {
	d := New(nil)
	r := NewRunner(d, time.Millisecond, nil)
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
