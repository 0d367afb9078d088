// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package engine

import (
	"github.com/tatamilive/tatami/internal/models"
)

// Kind discriminates the command variants accepted by the engine.
// Unknown kinds are a MalformedCommand rejection, never a pass-through.
type Kind string

const (
	KindStart    Kind = "START"
	KindPause    Kind = "PAUSE"
	KindReset    Kind = "RESET"
	KindEnd      Kind = "END"
	KindCancel   Kind = "CANCEL"
	KindScore    Kind = "SCORE"
	KindTimerSet Kind = "TIMER_SET"
	KindComment  Kind = "COMMENT"

	// KindTimerExpired is synthesized by the timer ticker when the clock
	// reaches zero. It is never accepted from a client.
	KindTimerExpired Kind = "TIMER_EXPIRED"
)

// ScoreKind selects the scoreboard field a SCORE command mutates.
type ScoreKind string

const (
	ScorePoints2    ScoreKind = "POINTS_2"
	ScoreAdvantage  ScoreKind = "ADVANTAGE"
	ScorePenalty    ScoreKind = "PENALTY"
	ScoreSubmission ScoreKind = "SUBMISSION"
)

// EventType maps the score kind to its event log type.
func (k ScoreKind) EventType() (models.EventType, bool) {
	switch k {
	case ScorePoints2:
		return models.EventPoints2, true
	case ScoreAdvantage:
		return models.EventAdvantage, true
	case ScorePenalty:
		return models.EventPenalty, true
	case ScoreSubmission:
		return models.EventSubmission, true
	}
	return "", false
}

// Command is one inbound intent against a match.
type Command struct {
	Kind    Kind
	MatchID string

	// ParticipantID and ScoreKind are set for SCORE commands.
	ParticipantID string
	ScoreKind     ScoreKind

	// Seconds is set for TIMER_SET commands.
	Seconds uint

	// Text is set for COMMENT commands.
	Text string

	// CorrelationID is echoed back on the resulting frames.
	CorrelationID string
}

// Actor is the authenticated principal issuing a command.
type Actor struct {
	SubjectID string
	Roles     models.RoleSet

	// System marks engine-internal actors (the timer ticker). System
	// actors bypass the role gate.
	System bool
}

// SystemActor is the actor attached to synthetic commands.
func SystemActor() Actor {
	return Actor{SubjectID: "system", System: true}
}

// CanMutate reports whether the actor may issue mutating commands.
func (a Actor) CanMutate() bool {
	return a.System || a.Roles.CanMutate()
}
