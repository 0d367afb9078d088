// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package api exposes the WebSocket handshake endpoints and the health
// probe over a Chi router.
//
// The handshake path verifies the bearer token, enforces the referee
// seat policy and hands the upgraded socket to the hub. Everything
// after the upgrade belongs to the hub; the handler never touches a
// live connection again.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tatamilive/tatami/internal/auth"
	"github.com/tatamilive/tatami/internal/hub"
	"github.com/tatamilive/tatami/internal/middleware"
	"github.com/tatamilive/tatami/internal/store"
)

// PubSubHealth reports whether the bus answers.
type PubSubHealth interface {
	IsHealthy(ctx context.Context) bool
}

// Handler serves the handshake and health endpoints.
type Handler struct {
	verifier *auth.Verifier
	hub      *hub.Hub
	store    store.MatchStore
	pubsub   PubSubHealth

	healthTimeout time.Duration
	upgrader      websocket.Upgrader
}

// NewHandler wires the HTTP surface.
func NewHandler(verifier *auth.Verifier, h *hub.Hub, st store.MatchStore, pubsub PubSubHealth, corsOrigins []string, healthTimeout time.Duration) *Handler {
	return &Handler{
		verifier:      verifier,
		hub:           h,
		store:         st,
		pubsub:        pubsub,
		healthTimeout: healthTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(corsOrigins),
		},
	}
}

// MatchSocket upgrades a client onto one match channel.
func (h *Handler) MatchSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, hub.MatchChannel(chi.URLParam(r, "matchID")))
}

// TournamentSocket upgrades a client onto one tournament channel.
func (h *Handler) TournamentSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, hub.TournamentChannel(chi.URLParam(r, "tournamentID")))
}

// serveSocket runs the handshake. Authentication failures close the
// upgraded socket with the 4401 policy code so browser clients, which
// cannot read HTTP error bodies on WebSocket requests, still learn why.
func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request, channel hub.Channel) {
	logger := middleware.Logger(r.Context())

	if err := channel.Validate(); err != nil {
		http.Error(w, "malformed channel", http.StatusBadRequest)
		return
	}

	identity, authErr := h.verifier.VerifyRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Debug().Err(err).Str("channel", string(channel)).Msg("websocket upgrade failed")
		return
	}

	if authErr != nil {
		closeSocket(ws, hub.CloseUnauthenticated, closeReason(authErr))
		return
	}

	// A client asking for the referee seat must hold a mutating role;
	// without one the handshake is refused with the 4403 policy code.
	referee := r.URL.Query().Get("role") == "referee"
	if referee && !identity.Roles.CanMutate() {
		logger.Warn().
			Str("subject_id", identity.SubjectID).
			Str("channel", string(channel)).
			Msg("referee seat refused")
		closeSocket(ws, hub.CloseForbidden, "referee seat requires a mutating role")
		return
	}

	var sinceVersion uint64
	if raw := r.URL.Query().Get("sinceVersion"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			sinceVersion = v
		}
	}

	if _, err := h.hub.Attach(r.Context(), ws, identity.SubjectID, identity.Roles, channel, referee, sinceVersion); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			closeSocket(ws, hub.ClosePolicyViolation, "unknown match")
		case errors.Is(err, store.ErrTimeout), errors.Is(err, store.ErrUnavailable):
			closeSocket(ws, hub.CloseServerError, "store unavailable")
		default:
			logger.Error().Err(err).Str("channel", string(channel)).Msg("websocket attach failed")
			closeSocket(ws, hub.CloseServerError, "internal error")
		}
	}
}

func closeSocket(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "token expired"
	case errors.Is(err, auth.ErrBadSignature):
		return "token signature invalid"
	case errors.Is(err, auth.ErrUnknownIssuer):
		return "token issuer unknown"
	default:
		return "token missing or malformed"
	}
}

// originChecker allows the configured origins plus non-browser clients,
// which send no Origin header at all.
func originChecker(origins []string) func(*http.Request) bool {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
