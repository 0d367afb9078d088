// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package bus

import (
	"context"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/metrics"
)

// EnvelopeHandler consumes one envelope. Returning an error nacks the
// message for redelivery.
type EnvelopeHandler func(ctx context.Context, env *Envelope) error

// Subscriber consumes subjects from the match stream and hands
// envelopes to a handler.
//
// Consumers are ephemeral and run without a queue group, so each
// instance sees every broadcast on a subject it consumes. New consumers
// start at the tail of the stream; missed history is recovered from the
// store, not from the broker.
type Subscriber struct {
	subscriber message.Subscriber
	stream     string
}

// NewSubscriber creates the fan-out subscriber.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := NewWatermillLogger()

	subOpts := []natsgo.SubOpt{
		natsgo.BindStream(cfg.StreamName),
		natsgo.DeliverNew(),
		natsgo.MaxDeliver(3),
		natsgo.AckWait(30 * time.Second),
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      cfg.connectOptions("subscriber"),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	return &Subscriber{subscriber: sub, stream: cfg.StreamName}, nil
}

// Consume delivers one subject's envelopes to the handler until the
// context is canceled. The handler runs on the consumer goroutine; it
// must not block on slow clients.
func (s *Subscriber) Consume(ctx context.Context, subject string, handler EnvelopeHandler) error {
	messages, err := s.subscriber.Subscribe(ctx, subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	logging.Debug().Str("subject", subject).Msg("bus consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.process(ctx, msg, handler)
			metrics.PubSubBacklog.Set(float64(len(messages)))
		}
	}
}

func (s *Subscriber) process(ctx context.Context, msg *message.Message, handler EnvelopeHandler) {
	env, err := UnmarshalEnvelope(msg.Payload)
	if err != nil {
		// A payload that cannot parse will not parse on redelivery
		// either.
		logging.Warn().
			Str("message_uuid", msg.UUID).
			Err(err).
			Msg("dropping undecodable envelope")
		msg.Ack()
		return
	}

	if err := handler(ctx, env); err != nil {
		logging.Error().
			Str("match_id", env.MatchID).
			Str("envelope_id", env.EnvelopeID).
			Err(err).
			Msg("envelope handling failed")
		msg.Nack()
		return
	}

	metrics.ObserveBroadcastLatency(env.PublishedAt)
	msg.Ack()
}

// Close shuts the subscriber and all its consumers down.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}
