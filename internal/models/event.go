// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// EventType classifies an entry in the match event log.
type EventType string

const (
	EventPoints2      EventType = "POINTS_2"
	EventAdvantage    EventType = "ADVANTAGE"
	EventPenalty      EventType = "PENALTY"
	EventSubmission   EventType = "SUBMISSION"
	EventStart        EventType = "START"
	EventStop         EventType = "STOP"
	EventReset        EventType = "RESET"
	EventComment      EventType = "COMMENT"
	EventMatchCreated EventType = "MATCH_CREATED"
	EventStateChange  EventType = "STATE_CHANGE"
	EventTimerUpdate  EventType = "TIMER_UPDATE"
	EventAutoFinish   EventType = "AUTO_FINISH"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPoints2, EventAdvantage, EventPenalty, EventSubmission,
		EventStart, EventStop, EventReset, EventComment, EventMatchCreated,
		EventStateChange, EventTimerUpdate, EventAutoFinish:
		return true
	}
	return false
}

// Metadata is an opaque key/value map attached to an event.
// It is stored as a JSON column.
type Metadata map[string]string

// Value implements driver.Valuer for database storage.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal event metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan event metadata: unsupported type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal event metadata: %w", err)
	}
	return nil
}

// MatchEvent is one immutable entry in a match's audit log.
//
// Sequence is dense per match, starting at 1. Events are never updated
// or deleted after the append commits.
type MatchEvent struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MatchID       string    `gorm:"uniqueIndex:idx_match_sequence,priority:1;type:varchar(64)" json:"matchId"`
	Sequence      uint64    `gorm:"uniqueIndex:idx_match_sequence,priority:2;not null" json:"sequence"`
	Timestamp     time.Time `gorm:"not null" json:"timestamp"`
	ActorID       string    `gorm:"type:varchar(64)" json:"actorId"`
	ParticipantID *string   `gorm:"type:varchar(64)" json:"participantId,omitempty"`
	EventType     EventType `gorm:"type:varchar(32);not null" json:"eventType"`
	Value         *string   `gorm:"type:varchar(256)" json:"value,omitempty"`
	Metadata      Metadata  `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// TableName sets the GORM table name.
func (MatchEvent) TableName() string {
	return "match_events"
}
