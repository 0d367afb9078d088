// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// FrameType enumerates WebSocket frame types on both directions.
type FrameType string

// Client to server.
const (
	FramePing             FrameType = "PING"
	FrameScoreUpdate      FrameType = "SCORE_UPDATE"
	FrameMatchStateUpdate FrameType = "MATCH_STATE_UPDATE"
	FrameTimerUpdate      FrameType = "TIMER_UPDATE"
	FrameComment          FrameType = "COMMENT"
)

// Server to client. FrameTimerUpdate is shared by both directions.
const (
	FramePong             FrameType = "PONG"
	FrameMatchUpdate      FrameType = "MATCH_UPDATE"
	FrameEventAppended    FrameType = "EVENT_APPENDED"
	FrameConnectionStatus FrameType = "CONNECTION_STATUS"
	FrameError            FrameType = "ERROR"
)

// Frame is an outbound WebSocket message.
type Frame struct {
	Type          FrameType   `json:"type"`
	MatchID       string      `json:"matchId,omitempty"`
	TournamentID  string      `json:"tournamentId,omitempty"`
	Data          interface{} `json:"data"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Version       uint64      `json:"version,omitempty"`
}

// InboundFrame is a client message with its payload left raw until the
// frame type selects a concrete shape.
type InboundFrame struct {
	Type          FrameType       `json:"type"`
	MatchID       string          `json:"matchId,omitempty"`
	Data          json.RawMessage `json:"data"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// MatchUpdateData is the payload of a MATCH_UPDATE frame: the full match
// snapshot plus the events emitted since the client's last known version.
type MatchUpdateData struct {
	Match         *Match        `json:"match"`
	EmittedEvents []*MatchEvent `json:"emittedEvents"`
}

// TimerUpdateData is the payload of a server TIMER_UPDATE frame.
// Durable marks ticks that were persisted through the command path;
// clients treat non-durable ticks as advisory.
type TimerUpdateData struct {
	TimeRemainingSeconds uint       `json:"timeRemainingSeconds"`
	State                MatchState `json:"state"`
	Durable              bool       `json:"durable"`
}

// EventAppendedData is the payload of an EVENT_APPENDED frame.
type EventAppendedData struct {
	Event *MatchEvent `json:"event"`
}

// ConnectionStatusData is broadcast when a channel's membership changes.
type ConnectionStatusData struct {
	Connections int `json:"connections"`
	Referees    int `json:"referees"`
	Viewers     int `json:"viewers"`
}

// ErrorData is the payload of an ERROR frame.
type ErrorData struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// TournamentDeltaData is the compact cross-match summary published to a
// tournament channel after each accepted command.
type TournamentDeltaData struct {
	MatchID             string     `json:"matchId"`
	State               MatchState `json:"state"`
	Score1              Score      `json:"score1"`
	Score2              Score      `json:"score2"`
	TimeRemaining       uint       `json:"timeRemainingSeconds"`
	WinnerParticipantID *string    `json:"winnerParticipantId,omitempty"`
	Version             uint64     `json:"version"`
}

// ScoreUpdatePayload is the client payload for SCORE_UPDATE.
type ScoreUpdatePayload struct {
	Kind          string `json:"kind" validate:"required,oneof=POINTS_2 ADVANTAGE PENALTY SUBMISSION"`
	ParticipantID string `json:"participantId" validate:"required,max=64"`
}

// MatchStatePayload is the client payload for MATCH_STATE_UPDATE.
type MatchStatePayload struct {
	Action string `json:"action" validate:"required,oneof=START PAUSE RESET END CANCEL"`
}

// TimerSetPayload is the client payload for TIMER_UPDATE.
type TimerSetPayload struct {
	Seconds uint `json:"seconds" validate:"lte=86400"`
}

// CommentPayload is the client payload for COMMENT.
type CommentPayload struct {
	Text string `json:"text" validate:"required,max=500"`
}
