// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/models"
)

func matchUpdateEnvelope() *Envelope {
	return &Envelope{
		EnvelopeID: "env-1",
		Kind:       KindMatchUpdate,
		MatchID:    "match-1",
		Origin:     "inst-a",
		Match: &models.Match{
			ID:      "match-1",
			State:   models.MatchStateInProgress,
			Version: 3,
		},
		Version:     3,
		PublishedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr bool
	}{
		{"valid match update", func(e *Envelope) {}, false},
		{"missing envelope id", func(e *Envelope) { e.EnvelopeID = "" }, true},
		{"missing match id", func(e *Envelope) { e.MatchID = "" }, true},
		{"match update without snapshot", func(e *Envelope) { e.Match = nil }, true},
		{"unknown kind", func(e *Envelope) { e.Kind = "gossip" }, true},
		{
			"tournament delta without tournament id",
			func(e *Envelope) {
				e.Kind = KindTournamentDelta
				e.Delta = &models.TournamentDeltaData{MatchID: "match-1"}
			},
			true,
		},
		{
			"tournament delta without delta",
			func(e *Envelope) {
				e.Kind = KindTournamentDelta
				e.TournamentID = "tourn-1"
				e.Match = nil
			},
			true,
		},
		{
			"valid tournament delta",
			func(e *Envelope) {
				e.Kind = KindTournamentDelta
				e.TournamentID = "tourn-1"
				e.Delta = &models.TournamentDeltaData{MatchID: "match-1"}
			},
			false,
		},
		{
			"timer without payload",
			func(e *Envelope) { e.Kind = KindTimer },
			true,
		},
		{
			"valid timer",
			func(e *Envelope) {
				e.Kind = KindTimer
				e.Timer = &models.TimerUpdateData{TimeRemainingSeconds: 30, State: models.MatchStateInProgress}
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := matchUpdateEnvelope()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelopeSubject(t *testing.T) {
	e := matchUpdateEnvelope()
	assert.Equal(t, "match.match-1", e.Subject())

	e.Kind = KindTournamentDelta
	e.TournamentID = "tourn-1"
	assert.Equal(t, "tournament.tourn-1", e.Subject())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := matchUpdateEnvelope()
	e.Events = []*models.MatchEvent{
		{ID: "ev-1", MatchID: "match-1", Sequence: 3, EventType: models.EventPoints2},
	}
	e.AutoFinishCause = "submission"

	data, err := MarshalEnvelope(e)
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, e.EnvelopeID, got.EnvelopeID)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Version, got.Version)
	assert.Equal(t, e.AutoFinishCause, got.AutoFinishCause)
	require.NotNil(t, got.Match)
	assert.Equal(t, models.MatchStateInProgress, got.Match.State)
	require.Len(t, got.Events, 1)
	assert.Equal(t, uint64(3), got.Events[0].Sequence)
}

func TestMarshalEnvelopeRejectsInvalid(t *testing.T) {
	e := matchUpdateEnvelope()
	e.Match = nil
	_, err := MarshalEnvelope(e)
	assert.Error(t, err)
}

func TestUnmarshalEnvelopeRejectsInvalid(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte(`{"kind":"match_update"}`))
	assert.Error(t, err)

	_, err = UnmarshalEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestSubjectSanitization(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"plain-id", "match.plain-id"},
		{"has.dots", "match.has_dots"},
		{"has spaces", "match.has_spaces"},
		{"wild*card", "match.wild_card"},
		{"gt>char", "match.gt_char"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchSubject(tt.id))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "nats://localhost:4222", StreamName: "TATAMI", InstanceID: "inst-a"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"missing stream", func(c *Config) { c.StreamName = "" }},
		{"missing instance", func(c *Config) { c.InstanceID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
