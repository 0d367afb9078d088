// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/engine"
	"github.com/tatamilive/tatami/internal/eventlog"
	"github.com/tatamilive/tatami/internal/models"
	"github.com/tatamilive/tatami/internal/store"
)

// recordingPublisher captures envelopes instead of touching the bus.
type recordingPublisher struct {
	envelopes []*bus.Envelope
	err       error
}

func (p *recordingPublisher) PublishEnvelope(_ context.Context, env *bus.Envelope) error {
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func seededRouter(t *testing.T, m *models.Match) (*Router, *recordingPublisher) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateMatch(context.Background(), m))
	pub := &recordingPublisher{}
	return NewRouter(eventlog.NewAppender(st, 3), pub), pub
}

func inProgressMatch() *models.Match {
	return &models.Match{
		ID:                   "match-1",
		TournamentID:         "tourn-1",
		Participant1:         models.Participant{ID: "p1"},
		Participant2:         models.Participant{ID: "p2"},
		DurationSeconds:      300,
		TimeRemainingSeconds: 300,
		State:                models.MatchStateInProgress,
	}
}

func rawFrame(t *testing.T, frameType models.FrameType, payload interface{}) *models.InboundFrame {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.InboundFrame{Type: frameType, MatchID: "match-1", Data: data}
}

func TestDecode(t *testing.T) {
	r, _ := seededRouter(t, inProgressMatch())

	t.Run("score update", func(t *testing.T) {
		frame := rawFrame(t, models.FrameScoreUpdate, models.ScoreUpdatePayload{
			Kind: "POINTS_2", ParticipantID: "p1",
		})
		frame.CorrelationID = "corr-1"

		cmd, err := r.decode(frame, "match-1")
		require.NoError(t, err)
		assert.Equal(t, engine.KindScore, cmd.Kind)
		assert.Equal(t, engine.ScorePoints2, cmd.ScoreKind)
		assert.Equal(t, "p1", cmd.ParticipantID)
		assert.Equal(t, "match-1", cmd.MatchID)
		assert.Equal(t, "corr-1", cmd.CorrelationID)
	})

	t.Run("state actions", func(t *testing.T) {
		actions := map[string]engine.Kind{
			"START":  engine.KindStart,
			"PAUSE":  engine.KindPause,
			"RESET":  engine.KindReset,
			"END":    engine.KindEnd,
			"CANCEL": engine.KindCancel,
		}
		for action, want := range actions {
			frame := rawFrame(t, models.FrameMatchStateUpdate, models.MatchStatePayload{Action: action})
			cmd, err := r.decode(frame, "match-1")
			require.NoError(t, err, action)
			assert.Equal(t, want, cmd.Kind)
		}
	})

	t.Run("timer set", func(t *testing.T) {
		frame := rawFrame(t, models.FrameTimerUpdate, models.TimerSetPayload{Seconds: 90})
		cmd, err := r.decode(frame, "match-1")
		require.NoError(t, err)
		assert.Equal(t, engine.KindTimerSet, cmd.Kind)
		assert.Equal(t, uint(90), cmd.Seconds)
	})

	t.Run("comment", func(t *testing.T) {
		frame := rawFrame(t, models.FrameComment, models.CommentPayload{Text: "stalling warning"})
		cmd, err := r.decode(frame, "match-1")
		require.NoError(t, err)
		assert.Equal(t, engine.KindComment, cmd.Kind)
		assert.Equal(t, "stalling warning", cmd.Text)
	})

	t.Run("unknown frame type", func(t *testing.T) {
		frame := rawFrame(t, models.FrameType("GOSSIP"), models.CommentPayload{Text: "hi"})
		_, err := r.decode(frame, "match-1")
		assert.Error(t, err)
	})

	t.Run("missing payload", func(t *testing.T) {
		frame := &models.InboundFrame{Type: models.FrameScoreUpdate, MatchID: "match-1"}
		_, err := r.decode(frame, "match-1")
		assert.Error(t, err)
	})

	t.Run("payload not json", func(t *testing.T) {
		frame := &models.InboundFrame{
			Type:    models.FrameScoreUpdate,
			MatchID: "match-1",
			Data:    json.RawMessage("{oops"),
		}
		_, err := r.decode(frame, "match-1")
		assert.Error(t, err)
	})

	t.Run("validation failure", func(t *testing.T) {
		frame := rawFrame(t, models.FrameScoreUpdate, models.ScoreUpdatePayload{
			Kind: "POINTS_9", ParticipantID: "p1",
		})
		_, err := r.decode(frame, "match-1")
		assert.Error(t, err)
	})

	t.Run("unknown state action rejected by validation", func(t *testing.T) {
		frame := rawFrame(t, models.FrameMatchStateUpdate, models.MatchStatePayload{Action: "EXPLODE"})
		_, err := r.decode(frame, "match-1")
		assert.Error(t, err)
	})
}

func TestExecuteSystemPublishesOutcome(t *testing.T) {
	r, pub := seededRouter(t, inProgressMatch())

	cmd := engine.Command{Kind: engine.KindTimerExpired, MatchID: "match-1"}
	require.NoError(t, r.ExecuteSystem(context.Background(), cmd))

	require.Len(t, pub.envelopes, 2)

	update := pub.envelopes[0]
	assert.Equal(t, bus.KindMatchUpdate, update.Kind)
	assert.Equal(t, "match-1", update.MatchID)
	assert.Equal(t, "tourn-1", update.TournamentID)
	require.NotNil(t, update.Match)
	assert.Equal(t, models.MatchStateFinished, update.Match.State)
	assert.Equal(t, engine.CauseTimer, update.AutoFinishCause)
	assert.NotEmpty(t, update.Events)

	delta := pub.envelopes[1]
	assert.Equal(t, bus.KindTournamentDelta, delta.Kind)
	assert.Equal(t, "tourn-1", delta.TournamentID)
	require.NotNil(t, delta.Delta)
	assert.Equal(t, models.MatchStateFinished, delta.Delta.State)
	assert.Equal(t, update.Version, delta.Version)
}

func TestExecuteSystemSkipsDeltaWithoutTournament(t *testing.T) {
	m := inProgressMatch()
	m.TournamentID = ""
	r, pub := seededRouter(t, m)

	cmd := engine.Command{Kind: engine.KindTimerExpired, MatchID: "match-1"}
	require.NoError(t, r.ExecuteSystem(context.Background(), cmd))

	require.Len(t, pub.envelopes, 1)
	assert.Equal(t, bus.KindMatchUpdate, pub.envelopes[0].Kind)
}

func TestExecuteSystemReturnsAppendError(t *testing.T) {
	m := inProgressMatch()
	m.State = models.MatchStatePaused
	r, pub := seededRouter(t, m)

	cmd := engine.Command{Kind: engine.KindTimerExpired, MatchID: "match-1"}
	err := r.ExecuteSystem(context.Background(), cmd)
	require.Error(t, err)
	rej, ok := engine.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, engine.RejectInvalidTransition, rej.Kind)
	assert.Empty(t, pub.envelopes)
}

func TestExecuteSystemToleratesPublishFailure(t *testing.T) {
	r, pub := seededRouter(t, inProgressMatch())
	pub.err = errors.New("broker down")

	cmd := engine.Command{Kind: engine.KindTimerExpired, MatchID: "match-1"}
	assert.NoError(t, r.ExecuteSystem(context.Background(), cmd))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
	}{
		{"engine rejection keeps its kind", &engine.Rejection{Kind: engine.RejectMatchTerminal, Message: "done"}, "MatchTerminal"},
		{"conflict", eventlog.ErrConflict, "Conflict"},
		{"not found", store.ErrNotFound, "MalformedCommand"},
		{"timeout", store.ErrTimeout, "StoreTimeout"},
		{"unavailable", store.ErrUnavailable, "StoreUnavailable"},
		{"anything else", errors.New("boom"), "StoreUnavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, message := classify(tt.err)
			assert.Equal(t, tt.wantKind, kind)
			assert.NotEmpty(t, message)
		})
	}
}
