// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/logging"
)

func TestRequestIDStampsHandshake(t *testing.T) {
	var ctxID string
	wrapped := RequestID(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	wrapped(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	headerID := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, headerID)
	assert.Len(t, headerID, 8)
	assert.Equal(t, headerID, ctxID)
}

func TestRequestIDKeepsUpstreamID(t *testing.T) {
	var ctxID string
	wrapped := RequestID(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "edge-7f3a91c2")
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, "edge-7f3a91c2", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "edge-7f3a91c2", ctxID)
}

func TestRequestIDsAreUnique(t *testing.T) {
	wrapped := RequestID(func(w http.ResponseWriter, r *http.Request) {})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		wrapped(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		id := rec.Header().Get("X-Request-ID")
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })

	wrapped := RequestID(func(w http.ResponseWriter, r *http.Request) {
		log := Logger(r.Context())
		log.Info().Msg("handshake accepted")
	})

	rec := httptest.NewRecorder()
	wrapped(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Contains(t, buf.String(), rec.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), "request_id")
}

func TestLoggerFallsBackToProcessLogger(t *testing.T) {
	// Outside a request the process logger is returned; logging through
	// it must not panic.
	log := Logger(context.Background())
	log.Debug().Msg("no request scope")
}

func TestPrometheusMetricsPassesStatusThrough(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name:    "explicit status",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			want:    http.StatusServiceUnavailable,
		},
		{
			name:    "implicit 200",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) },
			want:    http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			PrometheusMetrics(tt.handler)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouteLabelWithoutChiContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Equal(t, "/health", routeLabel(r))
}
