// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tatamilive/tatami/internal/metrics"
)

// Publisher publishes envelopes onto match and tournament subjects through
// JetStream.
//
// A circuit breaker sits in front of every publish. The broker is not on
// the command accept path: a failed publish never rolls back the store
// write, it only delays fan-out until reconciliation catches up.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
	origin    string

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a resilient JetStream publisher. The stream is
// provisioned separately; publishes bind to the existing stream.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := NewWatermillLogger()

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: cfg.connectOptions("publisher"),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "bus-publisher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Publisher{
		publisher: pub,
		breaker:   gobreaker.NewCircuitBreaker[interface{}](settings),
		origin:    cfg.InstanceID,
	}, nil
}

// PublishEnvelope stamps and publishes one envelope on the subject its kind
// selects: the match subject, or the tournament subject for tournament deltas.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *Envelope) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher closed")
	}
	p.mu.RUnlock()

	if env.EnvelopeID == "" {
		env.EnvelopeID = uuid.New().String()
	}
	if env.Origin == "" {
		env.Origin = p.origin
	}
	if env.PublishedAt.IsZero() {
		env.PublishedAt = time.Now().UTC()
	}

	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.EnvelopeID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, env.EnvelopeID)
	msg.Metadata.Set("match_id", env.MatchID)
	msg.Metadata.Set("origin", env.Origin)
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(env.Subject(), msg)
	})
	if err != nil {
		return fmt.Errorf("publish envelope for match %s: %w", env.MatchID, err)
	}

	metrics.MessagesPublished.Inc()
	return nil
}

// Close shuts the publisher down. Further publishes fail fast.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
