// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package eventlog turns commands into durable match events.
//
// The appender is the only writer of match state. Each command runs a
// load, apply, append cycle: the aggregate is loaded, the engine computes
// the next snapshot and its events, and both are written back under the
// optimistic version guard. A concurrent writer surfaces as a version
// conflict, in which case the cycle restarts against the fresh state.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tatamilive/tatami/internal/engine"
	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/metrics"
	"github.com/tatamilive/tatami/internal/models"
	"github.com/tatamilive/tatami/internal/store"
)

// ErrConflict is returned when the retry budget is exhausted without a
// successful append. The caller reports it as a retryable condition.
var ErrConflict = errors.New("command lost every version race")

// Outcome is the durable result of an accepted command.
type Outcome struct {
	// Match is the snapshot after the command, as persisted.
	Match *models.Match

	// Events are the events emitted by the command, in sequence order.
	Events []*models.MatchEvent

	// AutoFinishCause is set when the command tripped an automatic
	// finish ("submission", "disqualification" or "timer").
	AutoFinishCause string
}

// Appender executes commands against the store.
type Appender struct {
	store    store.MatchStore
	retryMax int
	now      func() time.Time
}

// NewAppender creates an appender. retryMax bounds how many append
// attempts a command gets; a command that loses that many version races
// fails with ErrConflict. Values below 1 are raised to 1.
func NewAppender(st store.MatchStore, retryMax int) *Appender {
	if retryMax < 1 {
		retryMax = 1
	}
	return &Appender{
		store:    st,
		retryMax: retryMax,
		now:      time.Now,
	}
}

// Execute runs one command through the load, apply, append cycle.
//
// Rejections from the engine are returned as-is and never retried; only
// store version conflicts restart the cycle. On success the persisted
// snapshot and emitted events are returned for broadcast.
func (a *Appender) Execute(ctx context.Context, cmd engine.Command, actor engine.Actor) (*Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < a.retryMax; attempt++ {
		match, err := a.store.LoadMatch(ctx, cmd.MatchID)
		if err != nil {
			metrics.CommandsRejected.WithLabelValues(rejectionReason(err)).Inc()
			return nil, err
		}

		result, err := engine.Apply(match, cmd, actor, a.now())
		if err != nil {
			metrics.CommandsRejected.WithLabelValues(rejectionReason(err)).Inc()
			return nil, err
		}

		_, err = a.store.AppendEvents(ctx, match.Version, result.Match, result.Events)
		if err == nil {
			metrics.CommandsAccepted.WithLabelValues(string(cmd.Kind)).Inc()
			if result.AutoFinishCause != "" {
				metrics.AutoFinishes.WithLabelValues(result.AutoFinishCause).Inc()
			}
			return &Outcome{
				Match:           result.Match,
				Events:          result.Events,
				AutoFinishCause: result.AutoFinishCause,
			}, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			metrics.CommandsRejected.WithLabelValues(rejectionReason(err)).Inc()
			return nil, err
		}

		lastErr = err
		logging.Debug().
			Str("match_id", cmd.MatchID).
			Str("kind", string(cmd.Kind)).
			Int("attempt", attempt+1).
			Msg("version conflict, replaying command")
	}

	metrics.CommandsRejected.WithLabelValues("conflict").Inc()
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConflict, a.retryMax, lastErr)
}

// rejectionReason maps a failure onto the rejection metric label set.
func rejectionReason(err error) string {
	if rej, ok := engine.AsRejection(err); ok {
		switch rej.Kind {
		case engine.RejectInvalidTransition:
			return "invalid_transition"
		case engine.RejectUnauthorized:
			return "unauthorized"
		case engine.RejectUnknownParticipant:
			return "unknown_participant"
		case engine.RejectMatchTerminal:
			return "terminal"
		default:
			return "malformed"
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, store.ErrTimeout):
		return "timeout"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
