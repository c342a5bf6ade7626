// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements a relay endpoint that posts record batches to a
// CoAP collector over UDP.
package coap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"github.com/dak180/Orbital-Science/relay"
)

// ErrBusy is returned when a batch arrives while a previous one is still
// being posted.
var ErrBusy = errors.New("uplink is busy")

// Config holds CoAP uplink settings.
type Config struct {
	Name    string
	Addr    string // UDP host:port
	Path    string // resource path, defaults to /records
	Score   float64
	Timeout time.Duration
}

// Uplink posts each batch as one JSON payload. The UDP session is dialed
// lazily and dropped on failure; the next batch redials.
type Uplink struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex // guards conn
	conn      *udpclient.Conn
	connected atomic.Bool
	busy      atomic.Bool
}

var _ relay.Endpoint = (*Uplink)(nil)

// New creates a CoAP uplink.
func New(cfg Config, logger *slog.Logger) *Uplink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/records"
	}

	u := &Uplink{
		cfg:    cfg,
		logger: logger,
	}
	u.connected.Store(true)

	return u
}

// Name returns the configured uplink name.
func (u *Uplink) Name() string {
	return u.cfg.Name
}

// IsBusy reports whether a batch is currently being posted.
func (u *Uplink) IsBusy() bool {
	return u.busy.Load()
}

// CanTransmit reports whether the last dial or post succeeded.
func (u *Uplink) CanTransmit() bool {
	return u.connected.Load()
}

// Score returns the operator-assigned preference; lower is preferred.
func (u *Uplink) Score() float64 {
	return u.cfg.Score
}

// Transmit posts the batch asynchronously.
func (u *Uplink) Transmit(_ context.Context, records []relay.Record) error {
	if !u.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer u.busy.Store(false)
		u.post(records)
	}()

	return nil
}

type batchEnvelope struct {
	Records []relay.Record `json:"records"`
}

func (u *Uplink) post(records []relay.Record) {
	payload, err := json.Marshal(batchEnvelope{Records: records})
	if err != nil {
		u.logger.Error("failed to marshal record batch",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	conn, err := u.connection()
	if err != nil {
		u.connected.Store(false)
		u.logger.Warn("coap dial failed",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.Timeout)
	defer cancel()

	resp, err := conn.Post(ctx, u.cfg.Path, message.AppJSON, bytes.NewReader(payload))
	if err != nil {
		u.dropConn()
		u.logger.Warn("coap post failed",
			slog.String("uplink", u.cfg.Name),
			slog.Int("records", len(records)),
			slog.String("error", err.Error()))
		return
	}

	if err := checkCode(resp.Code()); err != nil {
		u.logger.Warn("coap collector rejected batch",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	u.logger.Debug("batch posted",
		slog.String("uplink", u.cfg.Name),
		slog.Int("records", len(records)))
}

func checkCode(code codes.Code) error {
	switch code {
	case codes.Created, codes.Changed, codes.Content, codes.Valid:
		return nil
	default:
		return fmt.Errorf("collector returned %v", code)
	}
}

// connection returns the live session, dialing if needed. Caller must hold
// u.mu.
func (u *Uplink) connection() (*udpclient.Conn, error) {
	if u.conn != nil {
		return u.conn, nil
	}

	conn, err := udp.Dial(u.cfg.Addr)
	if err != nil {
		return nil, err
	}

	u.conn = conn
	u.connected.Store(true)
	u.logger.Info("coap uplink connected",
		slog.String("uplink", u.cfg.Name),
		slog.String("addr", u.cfg.Addr))

	return conn, nil
}

// dropConn closes and forgets the session. Caller must hold u.mu.
func (u *Uplink) dropConn() {
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	u.connected.Store(false)
}

// Close tears down the session if one exists.
func (u *Uplink) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dropConn()
}
