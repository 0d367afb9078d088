// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package bus

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tatamilive/tatami/internal/models"
)

// EnvelopeKind discriminates what an envelope carries.
type EnvelopeKind string

const (
	// KindMatchUpdate carries the full snapshot and the events one
	// command emitted. Published on the match subject.
	KindMatchUpdate EnvelopeKind = "match_update"

	// KindTournamentDelta carries the compact per-match delta for
	// tournament dashboards. Published on the tournament subject.
	KindTournamentDelta EnvelopeKind = "tournament_delta"

	// KindTimer carries an advisory countdown tick between durable
	// timer events. Published on the match subject.
	KindTimer EnvelopeKind = "timer"
)

// Envelope is the unit carried on the bus between instances. Consumers
// fan it out to local WebSocket clients; the version orders envelopes
// per match, so a consumer that saw version N can drop anything older.
type Envelope struct {
	// EnvelopeID deduplicates publish retries; it doubles as the
	// Nats-Msg-Id.
	EnvelopeID string `json:"envelope_id"`

	Kind EnvelopeKind `json:"kind"`

	MatchID      string `json:"match_id"`
	TournamentID string `json:"tournament_id,omitempty"`

	// Origin is the instance that produced the envelope.
	Origin string `json:"origin"`

	// Match and Events are set for match_update envelopes.
	Match  *models.Match        `json:"match,omitempty"`
	Events []*models.MatchEvent `json:"events,omitempty"`

	// Delta is set for tournament_delta envelopes.
	Delta *models.TournamentDeltaData `json:"delta,omitempty"`

	// Timer is set for timer envelopes.
	Timer *models.TimerUpdateData `json:"timer,omitempty"`

	// Version is the match version the envelope reflects.
	Version uint64 `json:"version"`

	// AutoFinishCause is set when the command tripped an automatic
	// finish.
	AutoFinishCause string `json:"auto_finish_cause,omitempty"`

	// PublishedAt stamps the broadcast for end-to-end latency tracking.
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the NATS subject the envelope belongs on.
func (e *Envelope) Subject() string {
	if e.Kind == KindTournamentDelta {
		return TournamentSubject(e.TournamentID)
	}
	return MatchSubject(e.MatchID)
}

// Validate checks the fields a consumer cannot proceed without.
func (e *Envelope) Validate() error {
	if e.EnvelopeID == "" {
		return fmt.Errorf("envelope id required")
	}
	if e.MatchID == "" {
		return fmt.Errorf("match id required")
	}
	switch e.Kind {
	case KindMatchUpdate:
		if e.Match == nil {
			return fmt.Errorf("match snapshot required")
		}
	case KindTournamentDelta:
		if e.TournamentID == "" {
			return fmt.Errorf("tournament id required")
		}
		if e.Delta == nil {
			return fmt.Errorf("delta required")
		}
	case KindTimer:
		if e.Timer == nil {
			return fmt.Errorf("timer payload required")
		}
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	return nil
}

// MarshalEnvelope serializes an envelope for the wire.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope deserializes a wire payload.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &e, nil
}
