// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http implements a relay endpoint that delivers record batches to
// an HTTP collector, with a circuit breaker guarding a flaky collector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dak180/Orbital-Science/relay"
)

// ErrBusy is returned when a batch arrives while a previous one is still
// being sent. The relay keeps the queue intact and retries next pass.
var ErrBusy = errors.New("uplink is busy")

// Config holds HTTP uplink settings.
type Config struct {
	Name    string
	URL     string
	Score   float64
	Timeout time.Duration

	// Circuit breaker: consecutive failures before the uplink stops
	// reporting itself capable, and how long it stays that way.
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Uplink posts record batches to a collector URL. One batch is in flight at
// a time; the uplink reports busy until the POST completes.
type Uplink struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	busy    atomic.Bool
}

var _ relay.Endpoint = (*Uplink)(nil)

// New creates an HTTP uplink. Zero config fields fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Uplink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}

	u := &Uplink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}

	u.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("uplink circuit breaker state changed",
				slog.String("uplink", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return u
}

// Name returns the configured uplink name.
func (u *Uplink) Name() string {
	return u.cfg.Name
}

// IsBusy reports whether a batch is currently being sent.
func (u *Uplink) IsBusy() bool {
	return u.busy.Load()
}

// CanTransmit reports false while the circuit breaker is open.
func (u *Uplink) CanTransmit() bool {
	return u.breaker.State() != gobreaker.StateOpen
}

// Score returns the operator-assigned preference; lower is preferred.
func (u *Uplink) Score() float64 {
	return u.cfg.Score
}

// Transmit accepts a batch and sends it asynchronously. Completion is
// observed through IsBusy flipping back to false.
func (u *Uplink) Transmit(_ context.Context, records []relay.Record) error {
	if !u.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer u.busy.Store(false)
		u.send(records)
	}()

	return nil
}

type batchEnvelope struct {
	Records []relay.Record `json:"records"`
}

func (u *Uplink) send(records []relay.Record) {
	payload, err := json.Marshal(batchEnvelope{Records: records})
	if err != nil {
		u.logger.Error("failed to marshal record batch",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	_, err = u.breaker.Execute(func() (interface{}, error) {
		return nil, u.post(payload)
	})
	if err != nil {
		u.logger.Warn("batch delivery failed",
			slog.String("uplink", u.cfg.Name),
			slog.Int("records", len(records)),
			slog.String("error", err.Error()))
		return
	}

	u.logger.Debug("batch delivered",
		slog.String("uplink", u.cfg.Name),
		slog.Int("records", len(records)))
}

func (u *Uplink) post(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}
