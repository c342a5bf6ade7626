// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dak180/Orbital-Science/relay"
)

// Metrics holds OpenTelemetry metric instruments for the relay. It
// implements relay.Observer so the delegator can feed it directly.
type Metrics struct {
	meter metric.Meter

	// Counters
	recordsSubmitted   metric.Int64Counter
	batchesTransmitted metric.Int64Counter
	recordsTransmitted metric.Int64Counter

	// UpDownCounters (Gauges)
	backlogDepth metric.Int64UpDownCounter

	// Histograms
	batchSize metric.Int64Histogram
}

var _ relay.Observer = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("orbital-relay"),
	}

	var err error

	m.recordsSubmitted, err = m.meter.Int64Counter(
		"relay.records.submitted.total",
		metric.WithDescription("Total records accepted by the relay"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recordsSubmitted counter: %w", err)
	}

	m.batchesTransmitted, err = m.meter.Int64Counter(
		"relay.batches.transmitted.total",
		metric.WithDescription("Total batches handed to uplink endpoints"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batchesTransmitted counter: %w", err)
	}

	m.recordsTransmitted, err = m.meter.Int64Counter(
		"relay.records.transmitted.total",
		metric.WithDescription("Total records handed to uplink endpoints"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recordsTransmitted counter: %w", err)
	}

	m.backlogDepth, err = m.meter.Int64UpDownCounter(
		"relay.backlog.depth",
		metric.WithDescription("Records currently pending or in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backlogDepth gauge: %w", err)
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"relay.batch.size",
		metric.WithDescription("Records per transmitted batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batchSize histogram: %w", err)
	}

	return m, nil
}

// RecordsSubmitted implements relay.Observer.
func (m *Metrics) RecordsSubmitted(n int) {
	m.recordsSubmitted.Add(context.Background(), int64(n))
}

// BatchTransmitted implements relay.Observer.
func (m *Metrics) BatchTransmitted(n int) {
	m.batchesTransmitted.Add(context.Background(), 1)
	m.recordsTransmitted.Add(context.Background(), int64(n))
	m.batchSize.Record(context.Background(), int64(n))
}

// BacklogChanged implements relay.Observer.
func (m *Metrics) BacklogChanged(delta int) {
	m.backlogDepth.Add(context.Background(), int64(delta))
}
