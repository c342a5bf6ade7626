// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket implements a relay endpoint that streams record
// batches over a websocket connection.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dak180/Orbital-Science/relay"
)

// ErrBusy is returned when a batch arrives while a previous one is still
// being written.
var ErrBusy = errors.New("uplink is busy")

// Config holds websocket uplink settings.
type Config struct {
	Name    string
	URL     string // e.g. ws://collector.local/relay
	Score   float64
	Timeout time.Duration // dial and write deadline
}

// Uplink writes each batch as a single JSON message. The connection is
// dialed lazily and dropped on write failure; the next batch redials.
type Uplink struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex // guards conn
	conn      *websocket.Conn
	connected atomic.Bool
	busy      atomic.Bool
}

var _ relay.Endpoint = (*Uplink)(nil)

// New creates a websocket uplink. No connection is made until the first
// batch, so a dead collector only shows up as CanTransmit turning false
// after the first failed dial.
func New(cfg Config, logger *slog.Logger) *Uplink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	u := &Uplink{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		logger: logger,
	}
	// Optimistic until the first dial says otherwise.
	u.connected.Store(true)

	return u
}

// Name returns the configured uplink name.
func (u *Uplink) Name() string {
	return u.cfg.Name
}

// IsBusy reports whether a batch is currently being written.
func (u *Uplink) IsBusy() bool {
	return u.busy.Load()
}

// CanTransmit reports whether the last dial or write succeeded.
func (u *Uplink) CanTransmit() bool {
	return u.connected.Load()
}

// Score returns the operator-assigned preference; lower is preferred.
func (u *Uplink) Score() float64 {
	return u.cfg.Score
}

// Transmit writes the batch asynchronously as one JSON message.
func (u *Uplink) Transmit(_ context.Context, records []relay.Record) error {
	if !u.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer u.busy.Store(false)
		u.write(records)
	}()

	return nil
}

type batchEnvelope struct {
	Records []relay.Record `json:"records"`
}

func (u *Uplink) write(records []relay.Record) {
	u.mu.Lock()
	defer u.mu.Unlock()

	conn, err := u.connection()
	if err != nil {
		u.connected.Store(false)
		u.logger.Warn("websocket dial failed",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(u.cfg.Timeout)); err != nil {
		u.dropConn()
		u.logger.Warn("websocket deadline set failed",
			slog.String("uplink", u.cfg.Name),
			slog.String("error", err.Error()))
		return
	}
	if err := conn.WriteJSON(batchEnvelope{Records: records}); err != nil {
		u.dropConn()
		u.logger.Warn("websocket write failed",
			slog.String("uplink", u.cfg.Name),
			slog.Int("records", len(records)),
			slog.String("error", err.Error()))
		return
	}

	u.logger.Debug("batch written",
		slog.String("uplink", u.cfg.Name),
		slog.Int("records", len(records)))
}

// connection returns the live connection, dialing if needed. Caller must
// hold u.mu.
func (u *Uplink) connection() (*websocket.Conn, error) {
	if u.conn != nil {
		return u.conn, nil
	}

	conn, _, err := u.dialer.Dial(u.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	u.conn = conn
	u.connected.Store(true)
	u.logger.Info("websocket uplink connected",
		slog.String("uplink", u.cfg.Name),
		slog.String("url", u.cfg.URL))

	return conn, nil
}

// dropConn closes and forgets the connection. Caller must hold u.mu.
func (u *Uplink) dropConn() {
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	u.connected.Store(false)
}

// Close tears down the connection if one exists.
func (u *Uplink) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		u.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		u.conn.Close()
		u.conn = nil
	}
}
