// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the transmission delegator: a façade that looks
// like a single endpoint to upstream code while load-balancing record
// batches across a pool of real endpoints it does not control.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Delegator accepts record batches and fans them out to registered
// endpoints. It implements Endpoint itself so it can be registered anywhere
// a real endpoint is expected. All state is session-local; nothing is
// persisted across restarts.
type Delegator struct {
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer // nil if tracing disabled

	mu        sync.Mutex
	endpoints []Endpoint
	pending   [][]Record // per endpoint, FIFO
	inflight  [][]Record // per endpoint, cleared once the endpoint reports idle
	unrouted  []Record   // records submitted before any endpoint exists
}

var _ Endpoint = (*Delegator)(nil)

// New creates a delegator with no endpoints registered. It stays inert
// (always ready, never able to transmit) until Discover supplies a pool.
func New(logger *slog.Logger) *Delegator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegator{logger: logger}
}

// SetObserver attaches an activity observer. Pass nil to detach.
func (d *Delegator) SetObserver(obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observer = obs
}

// SetTracer attaches a tracer; flush passes and batch handoffs emit spans.
// Pass nil to disable tracing.
func (d *Delegator) SetTracer(tracer trace.Tracer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tracer = tracer
}

// Discover registers the supplied endpoints. Other delegators are skipped
// so two instances can never chain into each other. An empty pool is not an
// error; it only leaves the delegator inert.
func (d *Delegator) Discover(endpoints []Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if _, ok := ep.(*Delegator); ok {
			continue
		}
		d.endpoints = append(d.endpoints, ep)
		d.pending = append(d.pending, nil)
		d.inflight = append(d.inflight, nil)
	}

	if len(d.endpoints) == 0 {
		d.logger.Warn("no transmission endpoints discovered, relay is inert")
		return
	}

	d.logger.Info("transmission endpoints discovered",
		slog.Int("count", len(d.endpoints)))
}

// Submit queues records onto the best-scoring endpoint's pending queue.
// Nothing is transmitted inline; the next flush pass moves the queue once
// the chosen endpoint is idle and capable.
func (d *Delegator) Submit(records []Record) {
	if len(records) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Debug("records submitted", slog.Int("count", len(records)))
	if d.observer != nil {
		d.observer.RecordsSubmitted(len(records))
		d.observer.BacklogChanged(len(records))
	}

	if len(d.endpoints) == 0 {
		d.unrouted = append(d.unrouted, records...)
		return
	}

	best := d.bestEndpoint()
	d.pending[best] = append(d.pending[best], records...)
}

// bestEndpoint returns the index of the lowest-scoring endpoint. Ties go to
// the earliest registered one. The full set is considered, busy or not.
// Caller must hold d.mu.
func (d *Delegator) bestEndpoint() int {
	best := 0
	bestScore := d.endpoints[0].Score()
	for i := 1; i < len(d.endpoints); i++ {
		if s := d.endpoints[i].Score(); s < bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

// Flush performs one pass over all endpoints in registration order. An
// endpoint observed idle has its previous in-flight batch marked complete.
// A non-empty pending queue moves to the endpoint whole, or not at all: a
// busy or incapable endpoint keeps its queue intact for the next pass.
func (d *Delegator) Flush(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "relay.flush",
			trace.WithAttributes(attribute.Int("endpoints", len(d.endpoints))))
		defer span.End()
	}

	// Records that arrived before discovery get routed first.
	if len(d.unrouted) > 0 && len(d.endpoints) > 0 {
		best := d.bestEndpoint()
		d.pending[best] = append(d.pending[best], d.unrouted...)
		d.unrouted = nil
	}

	for i, ep := range d.endpoints {
		if !ep.IsBusy() {
			d.completeInflight(i)
		}

		if len(d.pending[i]) == 0 {
			continue
		}
		if ep.IsBusy() || !ep.CanTransmit() {
			continue
		}

		batch := d.pending[i]
		d.pending[i] = nil
		d.inflight[i] = batch

		sendCtx := ctx
		var span trace.Span
		if d.tracer != nil {
			sendCtx, span = d.tracer.Start(ctx, "relay.transmit",
				trace.WithAttributes(
					attribute.Int("endpoint", i),
					attribute.Int("records", len(batch))))
		}
		err := ep.Transmit(sendCtx, batch)
		if span != nil {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}
		if err != nil {
			// The batch never left; put it back untouched.
			d.inflight[i] = nil
			d.pending[i] = batch
			d.logger.Warn("endpoint refused batch, keeping queue",
				slog.Int("endpoint", i),
				slog.Int("records", len(batch)),
				slog.String("error", err.Error()))
			continue
		}

		d.logger.Debug("batch handed to endpoint",
			slog.Int("endpoint", i),
			slog.Int("records", len(batch)))
		if d.observer != nil {
			d.observer.BatchTransmitted(len(batch))
		}
	}
}

// completeInflight drops endpoint i's in-flight batch, treating it as
// delivered. Caller must hold d.mu.
func (d *Delegator) completeInflight(i int) {
	n := len(d.inflight[i])
	if n == 0 {
		return
	}
	d.inflight[i] = nil
	if d.observer != nil {
		d.observer.BacklogChanged(-n)
	}
}

// IsBusy always reports false: upstream code must keep selecting the relay
// instead of stalling on a transiently busy real endpoint.
func (d *Delegator) IsBusy() bool {
	return false
}

// CanTransmit reports whether at least one registered endpoint is capable,
// regardless of busy state. With no endpoints it reports false.
func (d *Delegator) CanTransmit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ep := range d.endpoints {
		if ep.CanTransmit() {
			return true
		}
	}
	return false
}

// Score reports the best score available in the pool, so the relay ranks
// exactly as well as its best endpoint wherever scores are compared.
func (d *Delegator) Score() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.endpoints) == 0 {
		return 0
	}
	return d.endpoints[d.bestEndpoint()].Score()
}

// Transmit satisfies Endpoint by queueing the batch like Submit. The relay
// never rejects a batch.
func (d *Delegator) Transmit(_ context.Context, records []Record) error {
	d.Submit(records)
	return nil
}

// QueuedRecords returns every record still owned by the relay: pending
// queues, pre-discovery submissions, and in-flight batches whose endpoint
// is still busy. An idle endpoint's previous in-flight batch counts as
// delivered and is excluded.
func (d *Delegator) QueuedRecords() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Record
	out = append(out, d.unrouted...)
	for i, ep := range d.endpoints {
		if !ep.IsBusy() {
			d.completeInflight(i)
		}
		out = append(out, d.inflight[i]...)
		out = append(out, d.pending[i]...)
	}
	return out
}
