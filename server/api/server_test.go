// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dak180/Orbital-Science/relay"
)

// captureEndpoint is the minimal capable endpoint for intake tests.
type captureEndpoint struct {
	batches [][]relay.Record
}

func (c *captureEndpoint) IsBusy() bool      { return false }
func (c *captureEndpoint) CanTransmit() bool { return true }
func (c *captureEndpoint) Score() float64    { return 1 }

func (c *captureEndpoint) Transmit(_ context.Context, records []relay.Record) error {
	c.batches = append(c.batches, records)
	return nil
}

func newTestServer(t *testing.T) (*Server, *relay.Delegator, *captureEndpoint) {
	t.Helper()

	ep := &captureEndpoint{}
	d := relay.New(nil)
	d.Discover([]relay.Endpoint{ep})

	return New(Config{SubmitRate: 100, SubmitBurst: 10, MaxBatch: 5}, d, nil), d, ep
}

func TestHandleRecords_AcceptsBatch(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := `{"records":[{"payload":"YWxwaGE=","size":5},{"payload":"YmV0YQ=="}]}`
	req := httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRecords(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Len(t, resp.IDs, 2)

	queued := d.QueuedRecords()
	require.Len(t, queued, 2)
	assert.Equal(t, []byte("alpha"), queued[0].Payload)
	assert.Equal(t, int64(5), queued[0].Size)
	// Missing size falls back to payload length.
	assert.Equal(t, int64(4), queued[1].Size)
}

func TestHandleRecords_EmptyBatchRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(`{"records":[]}`))
	rec := httptest.NewRecorder()

	srv.handleRecords(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecords_OversizedBatchRejected(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := `{"records":[{},{},{},{},{},{}]}`
	req := httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRecords(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, d.QueuedRecords())
}

func TestHandleRecords_RateLimited(t *testing.T) {
	ep := &captureEndpoint{}
	d := relay.New(nil)
	d.Discover([]relay.Endpoint{ep})
	srv := New(Config{SubmitRate: 1, SubmitBurst: 1, MaxBatch: 5}, d, nil)

	body := `{"records":[{"payload":"eA=="}]}`

	req := httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleRecords(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.handleRecords(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleRecords_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "http://test/v1/records", nil)
	rec := httptest.NewRecorder()

	srv.handleRecords(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleBacklog(t *testing.T) {
	srv, d, _ := newTestServer(t)

	d.Submit([]relay.Record{
		{ID: "r1", Payload: []byte("alpha"), Size: 5},
		{ID: "r2", Payload: []byte("beta"), Size: 4},
	})

	req := httptest.NewRequest(http.MethodGet, "http://test/v1/backlog", nil)
	rec := httptest.NewRecorder()

	srv.handleBacklog(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp backlogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "r1", resp.Records[0].ID)
	// Payloads never leave through the backlog surface.
	assert.NotContains(t, rec.Body.String(), "YWxwaGE=")
}

func TestHandleRecords_EmitsSubmitSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv, _, _ := newTestServer(t)
	srv.SetTracer(tp.Tracer("api-test"))

	body := `{"records":[{"payload":"YWxwaGE="}]}`
	req := httptest.NewRequest(http.MethodPost, "http://test/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleRecords(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "api.submit", spans[0].Name())
}
