// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/models"
)

func seedMatch(t *testing.T, s *MemoryStore) *models.Match {
	t.Helper()
	m := &models.Match{
		ID:                   "match-1",
		Participant1:         models.Participant{ID: "p1"},
		Participant2:         models.Participant{ID: "p2"},
		DurationSeconds:      300,
		TimeRemainingSeconds: 300,
		State:                models.MatchStateScheduled,
	}
	require.NoError(t, s.CreateMatch(context.Background(), m))
	return m
}

func event(matchID string, seq uint64, et models.EventType) *models.MatchEvent {
	return &models.MatchEvent{
		ID:        fmt.Sprintf("ev-%s-%d", matchID, seq),
		MatchID:   matchID,
		Sequence:  seq,
		Timestamp: time.Now(),
		EventType: et,
	}
}

func TestMemoryStoreLoadMatch(t *testing.T) {
	s := NewMemoryStore()
	seedMatch(t, s)

	t.Run("returns an independent copy", func(t *testing.T) {
		got, err := s.LoadMatch(context.Background(), "match-1")
		require.NoError(t, err)

		got.State = models.MatchStateCancelled
		again, err := s.LoadMatch(context.Background(), "match-1")
		require.NoError(t, err)
		assert.Equal(t, models.MatchStateScheduled, again.State)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.LoadMatch(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.LoadMatch(ctx, "match-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryStoreAppendEvents(t *testing.T) {
	t.Run("accepts a matching version", func(t *testing.T) {
		s := NewMemoryStore()
		m := seedMatch(t, s)

		next := m.Clone()
		next.State = models.MatchStateInProgress
		next.Version = 1

		v, err := s.AppendEvents(context.Background(), 0, next, []*models.MatchEvent{
			event("match-1", 1, models.EventStart),
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), v)

		stored, err := s.LoadMatch(context.Background(), "match-1")
		require.NoError(t, err)
		assert.Equal(t, models.MatchStateInProgress, stored.State)
		assert.Equal(t, uint64(1), stored.Version)
	})

	t.Run("rejects a stale version", func(t *testing.T) {
		s := NewMemoryStore()
		m := seedMatch(t, s)

		next := m.Clone()
		next.Version = 1
		_, err := s.AppendEvents(context.Background(), 7, next, nil)
		assert.ErrorIs(t, err, ErrVersionConflict)

		stored, err := s.LoadMatch(context.Background(), "match-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), stored.Version)
	})

	t.Run("unknown match", func(t *testing.T) {
		s := NewMemoryStore()
		m := &models.Match{ID: "ghost"}
		_, err := s.AppendEvents(context.Background(), 0, m, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("only one concurrent writer wins", func(t *testing.T) {
		s := NewMemoryStore()
		m := seedMatch(t, s)

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := m.Clone()
				next.Version = 1
				_, errs[i] = s.AppendEvents(context.Background(), 0, next, []*models.MatchEvent{
					event("match-1", 1, models.EventStart),
				})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrVersionConflict)
			}
		}
		assert.Equal(t, 1, wins)

		events, err := s.RecentEvents(context.Background(), "match-1", 0, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestMemoryStoreRecentEvents(t *testing.T) {
	s := NewMemoryStore()
	m := seedMatch(t, s)

	for seq := uint64(1); seq <= 5; seq++ {
		next := m.Clone()
		next.Version = seq
		_, err := s.AppendEvents(context.Background(), seq-1, next, []*models.MatchEvent{
			event("match-1", seq, models.EventComment),
		})
		require.NoError(t, err)
		m.Version = seq
	}

	t.Run("filters by sequence", func(t *testing.T) {
		events, err := s.RecentEvents(context.Background(), "match-1", 3, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(4), events[0].Sequence)
		assert.Equal(t, uint64(5), events[1].Sequence)
	})

	t.Run("honors the limit", func(t *testing.T) {
		events, err := s.RecentEvents(context.Background(), "match-1", 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(1), events[0].Sequence)
		assert.Equal(t, uint64(2), events[1].Sequence)
	})

	t.Run("unknown match", func(t *testing.T) {
		_, err := s.RecentEvents(context.Background(), "missing", 0, 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreCreateMatch(t *testing.T) {
	s := NewMemoryStore()
	seedMatch(t, s)

	err := s.CreateMatch(context.Background(), &models.Match{ID: "match-1"})
	assert.Error(t, err)
}

func TestMemoryStorePing(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
