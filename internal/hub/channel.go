// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package hub

import (
	"fmt"
	"strings"
)

// Channel is a logical fan-out topic: "match:{id}" or "tournament:{id}".
type Channel string

// ChannelKind discriminates the two channel forms.
type ChannelKind string

const (
	ChannelMatch      ChannelKind = "match"
	ChannelTournament ChannelKind = "tournament"
)

// MatchChannel returns the channel for one match.
func MatchChannel(matchID string) Channel {
	return Channel(string(ChannelMatch) + ":" + matchID)
}

// TournamentChannel returns the channel for one tournament.
func TournamentChannel(tournamentID string) Channel {
	return Channel(string(ChannelTournament) + ":" + tournamentID)
}

// Kind returns the channel form.
func (c Channel) Kind() ChannelKind {
	kind, _, _ := strings.Cut(string(c), ":")
	return ChannelKind(kind)
}

// TargetID returns the match or tournament id behind the channel.
func (c Channel) TargetID() string {
	_, id, _ := strings.Cut(string(c), ":")
	return id
}

// Validate checks the channel is one of the two known forms with a
// non-empty target.
func (c Channel) Validate() error {
	kind, id, ok := strings.Cut(string(c), ":")
	if !ok || id == "" {
		return fmt.Errorf("malformed channel %q", c)
	}
	switch ChannelKind(kind) {
	case ChannelMatch, ChannelTournament:
		return nil
	}
	return fmt.Errorf("unknown channel kind %q", kind)
}
