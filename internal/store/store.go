// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package store persists match aggregates and their event logs.
//
// The store is the single source of truth for match state. Every write is
// a compare-and-set on Match.Version: the snapshot update and the event
// inserts commit atomically or not at all, which keeps the event sequence
// dense and the version equal to the newest sequence.
package store

import (
	"context"
	"errors"

	"github.com/tatamilive/tatami/internal/models"
)

// Store failure classes.
var (
	// ErrNotFound is returned when the match id is unknown.
	ErrNotFound = errors.New("match not found")

	// ErrVersionConflict is returned when expectedVersion no longer
	// matches the stored row. The caller reloads and retries.
	ErrVersionConflict = errors.New("match version conflict")

	// ErrTimeout is returned when a call exceeded its context deadline.
	ErrTimeout = errors.New("store timeout")

	// ErrUnavailable is returned when the store is down or the circuit
	// breaker is open.
	ErrUnavailable = errors.New("store unavailable")
)

// MatchStore is the persistence contract for the control plane.
type MatchStore interface {
	// LoadMatch returns the current aggregate, or ErrNotFound.
	LoadMatch(ctx context.Context, id string) (*models.Match, error)

	// AppendEvents atomically persists the next snapshot and its emitted
	// events, guarded by expectedVersion. Returns the new version, or
	// ErrVersionConflict / ErrNotFound.
	AppendEvents(ctx context.Context, expectedVersion uint64, match *models.Match, events []*models.MatchEvent) (uint64, error)

	// RecentEvents returns up to limit events with sequence greater than
	// sinceSequence, in ascending sequence order. A limit of 0 or less
	// returns all of them.
	RecentEvents(ctx context.Context, matchID string, sinceSequence uint64, limit int) ([]*models.MatchEvent, error)

	// CreateMatch inserts a new aggregate at version 0. Match creation
	// happens in the external CRUD plane; the control plane uses this for
	// provisioning and tests.
	CreateMatch(ctx context.Context, match *models.Match) error

	// Ping verifies the store answers a trivial query.
	Ping(ctx context.Context) error
}
