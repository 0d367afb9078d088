// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package models

import (
	"time"
)

// MatchState is the lifecycle state of a match.
type MatchState string

const (
	MatchStateScheduled  MatchState = "SCHEDULED"
	MatchStateInProgress MatchState = "IN_PROGRESS"
	MatchStatePaused     MatchState = "PAUSED"
	MatchStateFinished   MatchState = "FINISHED"
	MatchStateCancelled  MatchState = "CANCELLED"
)

// Valid reports whether s is a known match state.
func (s MatchState) Valid() bool {
	switch s {
	case MatchStateScheduled, MatchStateInProgress, MatchStatePaused,
		MatchStateFinished, MatchStateCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s MatchState) Terminal() bool {
	return s == MatchStateFinished || s == MatchStateCancelled
}

// Participant identifies one side of a match.
type Participant struct {
	ID          string  `gorm:"column:id" json:"id"`
	DisplayName string  `gorm:"column:display_name" json:"displayName"`
	Team        *string `gorm:"column:team" json:"team,omitempty"`
	Weight      *string `gorm:"column:weight" json:"weight,omitempty"`
	Grade       *string `gorm:"column:grade" json:"grade,omitempty"`
}

// Score is the scoreboard for one participant.
type Score struct {
	Points      uint `gorm:"column:points" json:"points"`
	Advantages  uint `gorm:"column:advantages" json:"advantages"`
	Penalties   uint `gorm:"column:penalties" json:"penalties"`
	Submissions uint `gorm:"column:submissions" json:"submissions"`
}

// Match is the authoritative aggregate for one bout.
//
// Version equals the sequence of the most recent accepted event and is the
// compare-and-set key for all writes. In-process copies are caches; the
// store row is the only source of truth.
type Match struct {
	ID           string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TournamentID string `gorm:"index;type:varchar(64)" json:"tournamentId"`

	Participant1 Participant `gorm:"embedded;embeddedPrefix:participant1_" json:"participant1"`
	Participant2 Participant `gorm:"embedded;embeddedPrefix:participant2_" json:"participant2"`

	Score1 Score `gorm:"embedded;embeddedPrefix:score1_" json:"score1"`
	Score2 Score `gorm:"embedded;embeddedPrefix:score2_" json:"score2"`

	DurationSeconds      uint `json:"durationSeconds"`
	TimeRemainingSeconds uint `json:"timeRemainingSeconds"`

	State               MatchState `gorm:"type:varchar(16);index" json:"state"`
	WinnerParticipantID *string    `gorm:"type:varchar(64)" json:"winnerParticipantId,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	Version uint64 `gorm:"not null;default:0" json:"version"`
}

// TableName sets the GORM table name.
func (Match) TableName() string {
	return "matches"
}

// Clone returns a deep copy safe for independent mutation.
func (m *Match) Clone() *Match {
	out := *m
	if m.WinnerParticipantID != nil {
		v := *m.WinnerParticipantID
		out.WinnerParticipantID = &v
	}
	if m.StartedAt != nil {
		v := *m.StartedAt
		out.StartedAt = &v
	}
	if m.FinishedAt != nil {
		v := *m.FinishedAt
		out.FinishedAt = &v
	}
	out.Participant1 = cloneParticipant(m.Participant1)
	out.Participant2 = cloneParticipant(m.Participant2)
	return &out
}

func cloneParticipant(p Participant) Participant {
	out := p
	if p.Team != nil {
		v := *p.Team
		out.Team = &v
	}
	if p.Weight != nil {
		v := *p.Weight
		out.Weight = &v
	}
	if p.Grade != nil {
		v := *p.Grade
		out.Grade = &v
	}
	return out
}

// ScoreFor returns a pointer to the scoreboard of the given participant,
// or nil when the id is not on this match.
func (m *Match) ScoreFor(participantID string) *Score {
	switch participantID {
	case m.Participant1.ID:
		return &m.Score1
	case m.Participant2.ID:
		return &m.Score2
	}
	return nil
}

// HasParticipant reports whether the id belongs to either side.
func (m *Match) HasParticipant(participantID string) bool {
	return m.ScoreFor(participantID) != nil
}

// OpponentOf returns the id of the other participant.
func (m *Match) OpponentOf(participantID string) string {
	switch participantID {
	case m.Participant1.ID:
		return m.Participant2.ID
	case m.Participant2.ID:
		return m.Participant1.ID
	}
	return ""
}
