// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements a relay endpoint that publishes records to an
// MQTT broker topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dak180/Orbital-Science/relay"
)

// ErrBusy is returned when a batch arrives while a previous one is still
// being published.
var ErrBusy = errors.New("uplink is busy")

// Config holds MQTT uplink settings.
type Config struct {
	Name     string
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
	Score    float64
	Timeout  time.Duration // per-publish wait
}

// Uplink publishes each record of a batch as one MQTT message at QoS 1.
// The client reconnects on its own; while disconnected the uplink simply
// reports itself incapable and the relay keeps its queue.
type Uplink struct {
	cfg    Config
	client paho.Client
	logger *slog.Logger
	busy   atomic.Bool
}

var _ relay.Endpoint = (*Uplink)(nil)

// New creates an MQTT uplink and starts connecting in the background.
func New(cfg Config, logger *slog.Logger) *Uplink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "orbital-relay-" + cfg.Name
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt uplink connected",
				slog.String("uplink", cfg.Name),
				slog.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt uplink connection lost",
				slog.String("uplink", cfg.Name),
				slog.String("error", err.Error()))
		})

	u := &Uplink{
		cfg:    cfg,
		client: paho.NewClient(opts),
		logger: logger,
	}
	u.client.Connect()

	return u
}

// Name returns the configured uplink name.
func (u *Uplink) Name() string {
	return u.cfg.Name
}

// IsBusy reports whether a batch is currently being published.
func (u *Uplink) IsBusy() bool {
	return u.busy.Load()
}

// CanTransmit mirrors broker connectivity.
func (u *Uplink) CanTransmit() bool {
	return u.client.IsConnectionOpen()
}

// Score returns the operator-assigned preference; lower is preferred.
func (u *Uplink) Score() float64 {
	return u.cfg.Score
}

// Transmit publishes the batch asynchronously, one message per record.
func (u *Uplink) Transmit(_ context.Context, records []relay.Record) error {
	if !u.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer u.busy.Store(false)
		u.publish(records)
	}()

	return nil
}

func (u *Uplink) publish(records []relay.Record) {
	for _, rec := range records {
		if err := u.publishOne(rec); err != nil {
			u.logger.Warn("record publish failed",
				slog.String("uplink", u.cfg.Name),
				slog.String("record", rec.ID),
				slog.String("error", err.Error()))
		}
	}

	u.logger.Debug("batch published",
		slog.String("uplink", u.cfg.Name),
		slog.Int("records", len(records)))
}

func (u *Uplink) publishOne(rec relay.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tok := u.client.Publish(u.cfg.Topic, 1, false, data)
	if !tok.WaitTimeout(u.cfg.Timeout) {
		return fmt.Errorf("publish timed out after %s", u.cfg.Timeout)
	}
	return tok.Error()
}

// Close disconnects from the broker, allowing in-flight publishes a short
// grace period.
func (u *Uplink) Close() {
	u.client.Disconnect(250)
}
