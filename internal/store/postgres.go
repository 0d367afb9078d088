// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tatamilive/tatami/internal/metrics"
	"github.com/tatamilive/tatami/internal/models"
)

// PostgresStore is the durable MatchStore backed by Postgres through GORM.
//
// AppendEvents relies on a conditional UPDATE for the version guard: the
// snapshot row only changes when the stored version still equals the
// caller's expectation, and the event inserts share the same transaction.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to the given DSN and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := db.AutoMigrate(&models.Match{}, &models.MatchEvent{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadMatch returns the current aggregate, or ErrNotFound.
func (s *PostgresStore) LoadMatch(ctx context.Context, id string) (*models.Match, error) {
	start := time.Now()
	var match models.Match
	err := s.db.WithContext(ctx).First(&match, "id = ?", id).Error
	metrics.RecordStoreOperation("load_match", start, err)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load match %s: %w", id, err)
	}
	return &match, nil
}

// AppendEvents persists the snapshot and events under the version guard.
func (s *PostgresStore) AppendEvents(ctx context.Context, expectedVersion uint64, match *models.Match, events []*models.MatchEvent) (uint64, error) {
	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ? AND version = ?", match.ID, expectedVersion).
			Select("*").
			Omit("id", "created_at").
			Updates(match)
		if res.Error != nil {
			return fmt.Errorf("update match %s: %w", match.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Match{}).Where("id = ?", match.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("probe match %s: %w", match.ID, err)
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		if len(events) > 0 {
			if err := tx.Create(events).Error; err != nil {
				return fmt.Errorf("insert events for match %s: %w", match.ID, err)
			}
		}
		return nil
	})
	metrics.RecordStoreOperation("append_events", start, err)
	if err != nil {
		return 0, err
	}
	return match.Version, nil
}

// RecentEvents returns events after sinceSequence in ascending order.
func (s *PostgresStore) RecentEvents(ctx context.Context, matchID string, sinceSequence uint64, limit int) ([]*models.MatchEvent, error) {
	start := time.Now()
	q := s.db.WithContext(ctx).
		Where("match_id = ? AND sequence > ?", matchID, sinceSequence).
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var events []*models.MatchEvent
	err := q.Find(&events).Error
	metrics.RecordStoreOperation("recent_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("load events for match %s: %w", matchID, err)
	}
	return events, nil
}

// CreateMatch inserts a new aggregate.
func (s *PostgresStore) CreateMatch(ctx context.Context, match *models.Match) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(match).Error
	metrics.RecordStoreOperation("create_match", start, err)
	if err != nil {
		return fmt.Errorf("create match %s: %w", match.ID, err)
	}
	return nil
}

// Ping verifies the database answers a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
