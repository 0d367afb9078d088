// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/hub"
)

// blockingConsumer records consumed subjects and blocks until its
// context ends, like the real subscriber.
type blockingConsumer struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startSig chan struct{}
}

func newBlockingConsumer() *blockingConsumer {
	return &blockingConsumer{startSig: make(chan struct{}, 16)}
}

func (c *blockingConsumer) Consume(ctx context.Context, subject string, _ bus.EnvelopeHandler) error {
	c.mu.Lock()
	c.started = append(c.started, subject)
	c.mu.Unlock()
	c.startSig <- struct{}{}

	<-ctx.Done()

	c.mu.Lock()
	c.stopped = append(c.stopped, subject)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *blockingConsumer) startedSubjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.started...)
}

func (c *blockingConsumer) stoppedSubjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stopped...)
}

// nullSink drops envelopes.
type nullSink struct{}

func (nullSink) DeliverEnvelope(_ context.Context, _ *bus.Envelope) error { return nil }

func waitStart(t *testing.T, c *blockingConsumer) {
	t.Helper()
	select {
	case <-c.startSig:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not start")
	}
}

func TestRetainStartsOneConsumerPerChannel(t *testing.T) {
	consumer := newBlockingConsumer()
	d := NewDispatcher(consumer, nullSink{})
	channel := hub.MatchChannel("match-1")

	d.Retain(channel)
	waitStart(t, consumer)
	d.Retain(channel)
	d.Retain(channel)

	assert.Equal(t, []string{"match.match-1"}, consumer.startedSubjects())

	// Still one holder after two releases; the consumer stays up.
	d.Release(channel)
	d.Release(channel)
	assert.Empty(t, consumer.stoppedSubjects())

	d.Release(channel)
	require.Eventually(t, func() bool {
		return len(consumer.stoppedSubjects()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetainAfterFullReleaseRestartsConsumer(t *testing.T) {
	consumer := newBlockingConsumer()
	d := NewDispatcher(consumer, nullSink{})
	channel := hub.TournamentChannel("tourn-1")

	d.Retain(channel)
	waitStart(t, consumer)
	d.Release(channel)
	require.Eventually(t, func() bool {
		return len(consumer.stoppedSubjects()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d.Retain(channel)
	waitStart(t, consumer)
	assert.Equal(t, []string{"tournament.tourn-1", "tournament.tourn-1"}, consumer.startedSubjects())
}

func TestReleaseUnknownChannelIsNoop(t *testing.T) {
	d := NewDispatcher(newBlockingConsumer(), nullSink{})
	d.Release(hub.MatchChannel("never-retained"))
}

func TestServeStopsAllConsumersOnShutdown(t *testing.T) {
	consumer := newBlockingConsumer()
	d := NewDispatcher(consumer, nullSink{})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- d.Serve(ctx) }()

	// Let Serve anchor the base context before consumers derive from it.
	time.Sleep(20 * time.Millisecond)
	d.Retain(hub.MatchChannel("match-1"))
	d.Retain(hub.TournamentChannel("tourn-1"))
	waitStart(t, consumer)
	waitStart(t, consumer)

	cancel()
	require.ErrorIs(t, <-served, context.Canceled)
	assert.Len(t, consumer.stoppedSubjects(), 2)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "match.m1", subjectFor(hub.MatchChannel("m1")))
	assert.Equal(t, "tournament.t1", subjectFor(hub.TournamentChannel("t1")))
}
