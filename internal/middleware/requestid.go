// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tatamilive/tatami/internal/logging"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// RequestID stamps each handshake with a short identifier, echoes it in
// the X-Request-ID response header and seeds the request context with a
// logger carrying it. An identifier already set by an upstream proxy
// wins, so one request keeps one identifier across hops.
//
// The identifier is short on purpose. It correlates the handshake logs
// with the hub's per-connection logs for the few milliseconds before
// the connection id takes over; it is not a tracing span.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)

		reqLogger := logging.With().Str("request_id", id).Logger()

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = context.WithValue(ctx, loggerKey, reqLogger)
		next(w, r.WithContext(ctx))
	}
}

// GetRequestID returns the identifier stamped by RequestID, or "" when
// the middleware did not run.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logger returns the request-scoped logger. Outside a request it falls
// back to the process logger so call sites never have to branch.
func Logger(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return logging.Logger()
}
