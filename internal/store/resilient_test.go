// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/models"
)

// faultStore fails every call with a fixed error, or blocks until the
// context dies when block is set.
type faultStore struct {
	err   error
	block bool
}

func (f *faultStore) call(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *faultStore) LoadMatch(ctx context.Context, _ string) (*models.Match, error) {
	if err := f.call(ctx); err != nil {
		return nil, err
	}
	return &models.Match{ID: "match-1"}, nil
}

func (f *faultStore) AppendEvents(ctx context.Context, _ uint64, m *models.Match, _ []*models.MatchEvent) (uint64, error) {
	if err := f.call(ctx); err != nil {
		return 0, err
	}
	return m.Version, nil
}

func (f *faultStore) RecentEvents(ctx context.Context, _ string, _ uint64, _ int) ([]*models.MatchEvent, error) {
	if err := f.call(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *faultStore) CreateMatch(ctx context.Context, _ *models.Match) error {
	return f.call(ctx)
}

func (f *faultStore) Ping(ctx context.Context) error {
	return f.call(ctx)
}

func TestResilientPassesThroughSuccess(t *testing.T) {
	r := NewResilient(&faultStore{}, time.Second)

	m, err := r.LoadMatch(context.Background(), "match-1")
	require.NoError(t, err)
	assert.Equal(t, "match-1", m.ID)
	assert.NoError(t, r.Ping(context.Background()))
}

func TestResilientKeepsDomainErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		r := NewResilient(&faultStore{err: ErrNotFound}, time.Second)
		_, err := r.LoadMatch(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("version conflict", func(t *testing.T) {
		r := NewResilient(&faultStore{err: ErrVersionConflict}, time.Second)
		_, err := r.AppendEvents(context.Background(), 3, &models.Match{ID: "match-1"}, nil)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})
}

func TestResilientTranslatesTimeout(t *testing.T) {
	r := NewResilient(&faultStore{block: true}, 20*time.Millisecond)

	_, err := r.LoadMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestResilientWrapsInfrastructureErrors(t *testing.T) {
	r := NewResilient(&faultStore{err: errors.New("connection refused")}, time.Second)

	_, err := r.LoadMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResilientOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	inner := &faultStore{err: errors.New("connection refused")}
	r := NewResilient(inner, time.Second)

	for i := 0; i < 5; i++ {
		_, err := r.LoadMatch(context.Background(), "match-1")
		assert.ErrorIs(t, err, ErrUnavailable)
	}

	// The breaker is open now; the inner store is no longer reached.
	inner.err = nil
	_, err := r.LoadMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResilientDomainErrorsDoNotTripBreaker(t *testing.T) {
	inner := &faultStore{err: ErrVersionConflict}
	r := NewResilient(inner, time.Second)

	for i := 0; i < 10; i++ {
		_, err := r.AppendEvents(context.Background(), 0, &models.Match{ID: "match-1"}, nil)
		assert.ErrorIs(t, err, ErrVersionConflict)
	}

	inner.err = nil
	_, err := r.LoadMatch(context.Background(), "match-1")
	assert.NoError(t, err)
}

func TestResilientPingBypassesBreaker(t *testing.T) {
	inner := &faultStore{err: errors.New("connection refused")}
	r := NewResilient(inner, time.Second)

	for i := 0; i < 5; i++ {
		_, _ = r.LoadMatch(context.Background(), "match-1")
	}

	// Calls fail open, but the probe still reaches the inner store.
	inner.err = nil
	assert.NoError(t, r.Ping(context.Background()))
}
