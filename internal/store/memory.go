// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tatamilive/tatami/internal/models"
)

// MemoryStore is an in-process MatchStore with the same compare-and-set
// semantics as the Postgres store. It backs single-node development runs
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*models.Match
	events  map[string][]*models.MatchEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: make(map[string]*models.Match),
		events:  make(map[string][]*models.MatchEvent),
	}
}

// LoadMatch returns a copy of the stored aggregate.
func (s *MemoryStore) LoadMatch(ctx context.Context, id string) (*models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// AppendEvents applies the snapshot and events under the version guard.
func (s *MemoryStore) AppendEvents(ctx context.Context, expectedVersion uint64, match *models.Match, events []*models.MatchEvent) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.matches[match.ID]
	if !ok {
		return 0, ErrNotFound
	}
	if current.Version != expectedVersion {
		return 0, ErrVersionConflict
	}

	s.matches[match.ID] = match.Clone()
	for _, ev := range events {
		copied := *ev
		s.events[match.ID] = append(s.events[match.ID], &copied)
	}
	return match.Version, nil
}

// RecentEvents returns events after sinceSequence in ascending order.
func (s *MemoryStore) RecentEvents(ctx context.Context, matchID string, sinceSequence uint64, limit int) ([]*models.MatchEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.matches[matchID]; !ok {
		return nil, ErrNotFound
	}

	var out []*models.MatchEvent
	for _, ev := range s.events[matchID] {
		if ev.Sequence > sinceSequence {
			copied := *ev
			out = append(out, &copied)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// CreateMatch inserts a new aggregate.
func (s *MemoryStore) CreateMatch(ctx context.Context, match *models.Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[match.ID]; exists {
		return fmt.Errorf("match %s already exists", match.ID)
	}
	s.matches[match.ID] = match.Clone()
	return nil
}

// Ping succeeds for the in-memory store unless the context is already done.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
