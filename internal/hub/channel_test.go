// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelConstructors(t *testing.T) {
	m := MatchChannel("match-1")
	assert.Equal(t, Channel("match:match-1"), m)
	assert.Equal(t, ChannelMatch, m.Kind())
	assert.Equal(t, "match-1", m.TargetID())

	tc := TournamentChannel("tourn-1")
	assert.Equal(t, Channel("tournament:tourn-1"), tc)
	assert.Equal(t, ChannelTournament, tc.Kind())
	assert.Equal(t, "tourn-1", tc.TargetID())
}

func TestChannelValidate(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		wantErr bool
	}{
		{"match channel", MatchChannel("m1"), false},
		{"tournament channel", TournamentChannel("t1"), false},
		{"empty target", Channel("match:"), true},
		{"no separator", Channel("match"), true},
		{"unknown kind", Channel("bracket:b1"), true},
		{"empty", Channel(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.channel.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChannelTargetWithColon(t *testing.T) {
	// Only the first colon separates kind from target.
	c := Channel("match:weird:id")
	assert.NoError(t, c.Validate())
	assert.Equal(t, "weird:id", c.TargetID())
}
