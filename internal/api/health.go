// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
)

// HealthResponse is the health probe's body.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	PubSub string `json:"pubsub"`
}

// Health reports process readiness. Each dependency is probed under the
// health timeout; a hung dependency reads as down, never as a hung probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Store: "ok", PubSub: "ok"}
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "down"
	}
	if h.pubsub != nil && !h.pubsub.IsHealthy(ctx) {
		resp.Status = "degraded"
		resp.PubSub = "down"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
