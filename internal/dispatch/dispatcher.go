// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/hub"
	"github.com/tatamilive/tatami/internal/logging"
)

// EnvelopeConsumer binds a handler to one bus subject and blocks until
// the context ends.
type EnvelopeConsumer interface {
	Consume(ctx context.Context, subject string, handler bus.EnvelopeHandler) error
}

// EnvelopeSink receives consumed envelopes for local fan-out.
type EnvelopeSink interface {
	DeliverEnvelope(ctx context.Context, env *bus.Envelope) error
}

// Dispatcher reference-counts one bus consumer per channel with local
// subscribers. The first attach on a channel starts its consumer, the
// last detach stops it; a process with no viewers for a match costs the
// bus nothing.
type Dispatcher struct {
	consumer EnvelopeConsumer
	sink     EnvelopeSink

	mu      sync.Mutex
	baseCtx context.Context
	subs    map[hub.Channel]*channelSub
}

type channelSub struct {
	count  int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher wires the broadcast path.
func NewDispatcher(consumer EnvelopeConsumer, sink EnvelopeSink) *Dispatcher {
	return &Dispatcher{
		consumer: consumer,
		sink:     sink,
		baseCtx:  context.Background(),
		subs:     make(map[hub.Channel]*channelSub),
	}
}

// Serve anchors consumer lifetimes to the supervision tree and stops
// every consumer on shutdown.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	subs := d.subs
	d.subs = make(map[hub.Channel]*channelSub)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return ctx.Err()
}

// Retain adds a local subscriber to the channel, starting its bus
// consumer on the first one.
func (d *Dispatcher) Retain(channel hub.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sub, ok := d.subs[channel]; ok {
		sub.count++
		return
	}

	ctx, cancel := context.WithCancel(d.baseCtx)
	sub := &channelSub{count: 1, cancel: cancel, done: make(chan struct{})}
	d.subs[channel] = sub
	go d.consume(ctx, channel, sub)
}

// Release drops a local subscriber from the channel, stopping its bus
// consumer with the last one.
func (d *Dispatcher) Release(channel hub.Channel) {
	d.mu.Lock()
	sub, ok := d.subs[channel]
	if ok {
		sub.count--
		if sub.count > 0 {
			d.mu.Unlock()
			return
		}
		delete(d.subs, channel)
	}
	d.mu.Unlock()

	if ok {
		sub.cancel()
	}
}

func (d *Dispatcher) consume(ctx context.Context, channel hub.Channel, sub *channelSub) {
	defer close(sub.done)

	err := d.consumer.Consume(ctx, subjectFor(channel), d.sink.DeliverEnvelope)
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		logging.Error().
			Str("channel", string(channel)).
			Err(err).
			Msg("channel consumer stopped")
	}
}

// subjectFor maps a hub channel onto its bus subject.
func subjectFor(channel hub.Channel) string {
	if channel.Kind() == hub.ChannelTournament {
		return bus.TournamentSubject(channel.TargetID())
	}
	return bus.MatchSubject(channel.TargetID())
}
