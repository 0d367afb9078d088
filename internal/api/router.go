// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tatamilive/tatami/internal/middleware"
)

// RouterConfig holds the HTTP surface policy.
type RouterConfig struct {
	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string

	// HandshakeRateLimit bounds WebSocket handshakes per IP per minute.
	HandshakeRateLimit int
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so the shared middleware works with
// r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// NewRouter assembles the Chi route tree.
//
// The handshake endpoints skip the Prometheus response wrapper: the
// wrapper does not forward http.Hijacker, which the WebSocket upgrade
// needs.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         86400,
	}))

	r.Route("/health", func(r chi.Router) {
		r.Use(httprate.Limit(1000, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Get("/", handler.Health)
	})

	r.Route("/api/v1/ws", func(r chi.Router) {
		if cfg.HandshakeRateLimit > 0 {
			r.Use(httprate.Limit(cfg.HandshakeRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/match/{matchID}", handler.MatchSocket)
		r.Get("/tournament/{tournamentID}", handler.TournamentSocket)
	})

	return r
}
