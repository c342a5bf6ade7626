// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the record intake API: producers POST record batches
// and query the relay backlog.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dak180/Orbital-Science/relay"
)

// Config holds intake API server configuration.
type Config struct {
	Address         string
	SubmitRate      float64 // submissions per second
	SubmitBurst     int
	MaxBatch        int // records per submission
	ShutdownTimeout time.Duration
}

// Server accepts record submissions over HTTP and hands them to the relay.
type Server struct {
	config   Config
	relay    *relay.Delegator
	limiter  *rate.Limiter
	logger   *slog.Logger
	tracer   trace.Tracer // nil if tracing disabled
	server   *http.Server
	listener net.Listener
}

// SetTracer attaches a tracer; accepted submissions emit spans. Pass nil
// to disable tracing.
func (s *Server) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

// New creates an intake API server.
func New(cfg Config, d *relay.Delegator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = 50
	}
	if cfg.SubmitBurst < 1 {
		cfg.SubmitBurst = 20
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 500
	}

	s := &Server{
		config:  cfg,
		relay:   d,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/records", s.handleRecords)
	mux.HandleFunc("/v1/backlog", s.handleBacklog)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Addr returns the listener's network address.
// Returns empty if the server hasn't started listening yet.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen starts the intake server and blocks until the context is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("Starting intake API server", "address", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Intake API server shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Intake API server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Intake API server stopped")
		return nil
	}
}

// submitRequest is the intake payload. Payloads arrive base64-encoded per
// encoding/json []byte convention.
type submitRequest struct {
	Records []submitRecord `json:"records"`
}

type submitRecord struct {
	Payload []byte `json:"payload"`
	Size    int64  `json:"size"`
}

// submitResponse reports how many records were accepted and their assigned
// IDs, in submission order.
type submitResponse struct {
	Accepted int      `json:"accepted"`
	IDs      []string `json:"ids"`
}

// handleRecords implements POST /v1/records.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limiter.Allow() {
		http.Error(w, "submission rate exceeded", http.StatusTooManyRequests)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Records) == 0 {
		http.Error(w, "records cannot be empty", http.StatusBadRequest)
		return
	}
	if len(req.Records) > s.config.MaxBatch {
		http.Error(w, "batch exceeds max_batch", http.StatusRequestEntityTooLarge)
		return
	}

	records := make([]relay.Record, 0, len(req.Records))
	ids := make([]string, 0, len(req.Records))
	for _, in := range req.Records {
		size := in.Size
		if size == 0 {
			size = int64(len(in.Payload))
		}
		rec := relay.Record{
			ID:      uuid.NewString(),
			Payload: in.Payload,
			Size:    size,
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}

	if s.tracer != nil {
		_, span := s.tracer.Start(r.Context(), "api.submit",
			trace.WithAttributes(attribute.Int("records", len(records))))
		defer span.End()
	}

	s.relay.Submit(records)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitResponse{Accepted: len(records), IDs: ids})
}

// backlogResponse lists records still owned by the relay. Payloads are
// omitted; this is an observability surface, not a retrieval one.
type backlogResponse struct {
	Count   int           `json:"count"`
	Records []backlogItem `json:"records"`
}

type backlogItem struct {
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

// handleBacklog implements GET /v1/backlog.
func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	queued := s.relay.QueuedRecords()
	resp := backlogResponse{
		Count:   len(queued),
		Records: make([]backlogItem, 0, len(queued)),
	}
	for _, rec := range queued {
		resp.Records = append(resp.Records, backlogItem{ID: rec.ID, Size: rec.Size})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
