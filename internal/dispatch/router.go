// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package dispatch connects the WebSocket hub to the command and
// broadcast paths.
//
// The router turns inbound client frames into engine commands and
// publishes the durable result to the bus. The dispatcher runs the
// per-channel bus consumers and hands envelopes back to the hub for
// local fan-out. Neither side talks to a socket directly; the hub owns
// connection lifecycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/engine"
	"github.com/tatamilive/tatami/internal/eventlog"
	"github.com/tatamilive/tatami/internal/hub"
	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/models"
	"github.com/tatamilive/tatami/internal/store"
)

// EnvelopePublisher pushes envelopes onto the bus.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, env *bus.Envelope) error
}

// Router executes inbound command frames. It implements both
// hub.CommandHandler for client frames and hub.SystemCommands for the
// timer ticker's synthetic commands.
type Router struct {
	appender  *eventlog.Appender
	publisher EnvelopePublisher
	validate  *validator.Validate
}

// NewRouter wires the command path.
func NewRouter(appender *eventlog.Appender, publisher EnvelopePublisher) *Router {
	return &Router{
		appender:  appender,
		publisher: publisher,
		validate:  validator.New(),
	}
}

// Handle executes one client frame. Rejections go back to the
// originating connection only; accepted commands reach everyone through
// the bus.
func (r *Router) Handle(ctx context.Context, conn *hub.Conn, frame *models.InboundFrame) {
	if conn.Channel().Kind() != hub.ChannelMatch {
		conn.SendError("MalformedCommand", "commands are only accepted on match channels", frame.CorrelationID)
		return
	}
	matchID := conn.Channel().TargetID()
	if frame.MatchID != "" && frame.MatchID != matchID {
		conn.SendError("MalformedCommand", "matchId does not name the subscribed match", frame.CorrelationID)
		return
	}

	cmd, err := r.decode(frame, matchID)
	if err != nil {
		conn.SendError("MalformedCommand", err.Error(), frame.CorrelationID)
		return
	}

	actor := engine.Actor{SubjectID: conn.SubjectID(), Roles: conn.Roles()}
	outcome, err := r.appender.Execute(ctx, cmd, actor)
	if err != nil {
		kind, message := classify(err)
		conn.SendError(kind, message, frame.CorrelationID)
		return
	}

	r.publishOutcome(ctx, outcome)
}

// ExecuteSystem runs a ticker-synthesized command through the same
// append and publish path as client commands.
func (r *Router) ExecuteSystem(ctx context.Context, cmd engine.Command) error {
	outcome, err := r.appender.Execute(ctx, cmd, engine.SystemActor())
	if err != nil {
		return err
	}
	r.publishOutcome(ctx, outcome)
	return nil
}

// decode selects the payload shape by frame type and builds the engine
// command. Validation failures surface as MalformedCommand.
func (r *Router) decode(frame *models.InboundFrame, matchID string) (engine.Command, error) {
	cmd := engine.Command{MatchID: matchID, CorrelationID: frame.CorrelationID}

	switch frame.Type {
	case models.FrameScoreUpdate:
		var p models.ScoreUpdatePayload
		if err := r.payload(frame, &p); err != nil {
			return cmd, err
		}
		cmd.Kind = engine.KindScore
		cmd.ScoreKind = engine.ScoreKind(p.Kind)
		cmd.ParticipantID = p.ParticipantID

	case models.FrameMatchStateUpdate:
		var p models.MatchStatePayload
		if err := r.payload(frame, &p); err != nil {
			return cmd, err
		}
		kind, ok := stateAction(p.Action)
		if !ok {
			return cmd, fmt.Errorf("unknown action %q", p.Action)
		}
		cmd.Kind = kind

	case models.FrameTimerUpdate:
		var p models.TimerSetPayload
		if err := r.payload(frame, &p); err != nil {
			return cmd, err
		}
		cmd.Kind = engine.KindTimerSet
		cmd.Seconds = p.Seconds

	case models.FrameComment:
		var p models.CommentPayload
		if err := r.payload(frame, &p); err != nil {
			return cmd, err
		}
		cmd.Kind = engine.KindComment
		cmd.Text = p.Text

	default:
		return cmd, fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return cmd, nil
}

// payload unmarshals and validates one frame payload.
func (r *Router) payload(frame *models.InboundFrame, dst interface{}) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%s requires a data payload", frame.Type)
	}
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		return fmt.Errorf("%s payload is not valid JSON", frame.Type)
	}
	if err := r.validate.Struct(dst); err != nil {
		return fmt.Errorf("%s payload invalid: %v", frame.Type, err)
	}
	return nil
}

func stateAction(action string) (engine.Kind, bool) {
	switch action {
	case "START":
		return engine.KindStart, true
	case "PAUSE":
		return engine.KindPause, true
	case "RESET":
		return engine.KindReset, true
	case "END":
		return engine.KindEnd, true
	case "CANCEL":
		return engine.KindCancel, true
	}
	return "", false
}

// publishOutcome pushes the accepted command's snapshot to the match
// subject and its compact delta to the tournament subject. A publish
// failure does not undo the append; the state is durable and the next
// snapshot read converges, so it is logged and dropped.
func (r *Router) publishOutcome(ctx context.Context, outcome *eventlog.Outcome) {
	match := outcome.Match

	env := &bus.Envelope{
		Kind:            bus.KindMatchUpdate,
		MatchID:         match.ID,
		TournamentID:    match.TournamentID,
		Match:           match,
		Events:          outcome.Events,
		Version:         match.Version,
		AutoFinishCause: outcome.AutoFinishCause,
	}
	if err := r.publisher.PublishEnvelope(ctx, env); err != nil {
		logging.Error().
			Str("match_id", match.ID).
			Uint64("version", match.Version).
			Err(err).
			Msg("match update publish failed")
	}

	if match.TournamentID == "" {
		return
	}
	delta := &bus.Envelope{
		Kind:         bus.KindTournamentDelta,
		MatchID:      match.ID,
		TournamentID: match.TournamentID,
		Version:      match.Version,
		Delta: &models.TournamentDeltaData{
			MatchID:             match.ID,
			State:               match.State,
			Score1:              match.Score1,
			Score2:              match.Score2,
			TimeRemaining:       match.TimeRemainingSeconds,
			WinnerParticipantID: match.WinnerParticipantID,
			Version:             match.Version,
		},
	}
	if err := r.publisher.PublishEnvelope(ctx, delta); err != nil {
		logging.Error().
			Str("tournament_id", match.TournamentID).
			Str("match_id", match.ID).
			Err(err).
			Msg("tournament delta publish failed")
	}
}

// classify maps a command failure onto the client-facing error taxonomy.
func classify(err error) (kind, message string) {
	if rej, ok := engine.AsRejection(err); ok {
		return string(rej.Kind), rej.Message
	}
	switch {
	case errors.Is(err, eventlog.ErrConflict):
		return "Conflict", "command lost every version race, retry"
	case errors.Is(err, store.ErrNotFound):
		return "MalformedCommand", "match not found"
	case errors.Is(err, store.ErrTimeout):
		return "StoreTimeout", "store did not answer in time"
	case errors.Is(err, store.ErrUnavailable):
		return "StoreUnavailable", "store is unavailable"
	default:
		return "StoreUnavailable", "command could not be executed"
	}
}
