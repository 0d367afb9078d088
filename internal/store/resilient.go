// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/models"
)

// Resilient wraps a MatchStore with a per-call deadline and a circuit
// breaker. An open breaker surfaces as ErrUnavailable; an exceeded
// deadline surfaces as ErrTimeout.
//
// Expected domain failures (ErrNotFound, ErrVersionConflict) do not count
// against the breaker.
type Resilient struct {
	inner   MatchStore
	breaker *gobreaker.CircuitBreaker[interface{}]
	timeout time.Duration
}

// NewResilient wraps the store. timeout bounds every call.
func NewResilient(inner MatchStore, timeout time.Duration) *Resilient {
	settings := gobreaker.Settings{
		Name:        "match-store",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "store").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrVersionConflict)
		},
	}
	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		timeout: timeout,
	}
}

func (r *Resilient) execute(ctx context.Context, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return op(callCtx)
	})
	return out, r.translate(callCtx, err)
}

// translate maps infrastructure failures onto the store error classes.
func (r *Resilient) translate(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	default:
		return errors.Join(ErrUnavailable, err)
	}
}

// LoadMatch implements MatchStore.
func (r *Resilient) LoadMatch(ctx context.Context, id string) (*models.Match, error) {
	out, err := r.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.inner.LoadMatch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.Match), nil
}

// AppendEvents implements MatchStore.
func (r *Resilient) AppendEvents(ctx context.Context, expectedVersion uint64, match *models.Match, events []*models.MatchEvent) (uint64, error) {
	out, err := r.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.inner.AppendEvents(ctx, expectedVersion, match, events)
	})
	if err != nil {
		return 0, err
	}
	return out.(uint64), nil
}

// RecentEvents implements MatchStore.
func (r *Resilient) RecentEvents(ctx context.Context, matchID string, sinceSequence uint64, limit int) ([]*models.MatchEvent, error) {
	out, err := r.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return r.inner.RecentEvents(ctx, matchID, sinceSequence, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.MatchEvent), nil
}

// CreateMatch implements MatchStore.
func (r *Resilient) CreateMatch(ctx context.Context, match *models.Match) error {
	_, err := r.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, r.inner.CreateMatch(ctx, match)
	})
	return err
}

// Ping implements MatchStore. The health probe bypasses the breaker so
// that readiness reporting keeps working while the breaker is open.
func (r *Resilient) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Ping(callCtx)
}
