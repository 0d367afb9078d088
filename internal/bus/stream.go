// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Stream defaults. The stream is a short-horizon relay, not the system
// of record; the store keeps the full event history.
const (
	streamMaxAge          = 15 * time.Minute
	streamDuplicateWindow = 2 * time.Minute
)

// StreamInitializer provisions the match stream before publishers and
// subscribers bind to it. EnsureStream is idempotent.
type StreamInitializer struct {
	conn *natsgo.Conn
	js   jetstream.JetStream
	name string
}

// NewStreamInitializer connects and prepares a JetStream handle.
func NewStreamInitializer(cfg Config) (*StreamInitializer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := natsgo.Connect(cfg.URL, cfg.connectOptions("stream-init")...)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream handle: %w", err)
	}

	return &StreamInitializer{conn: conn, js: js, name: cfg.StreamName}, nil
}

// EnsureStream creates or updates the match stream.
func (s *StreamInitializer) EnsureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:        s.name,
		Subjects:    []string{MatchSubjectWildcard, TournamentSubjectWildcard},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		Duplicates:  streamDuplicateWindow,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := s.js.Stream(ctx, s.name)
	if err == nil {
		if _, err := s.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", s.name, err)
		}
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := s.js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
		return nil
	}
	return fmt.Errorf("check stream %s: %w", s.name, err)
}

// JetStream exposes the underlying handle for KV buckets.
func (s *StreamInitializer) JetStream() jetstream.JetStream {
	return s.js
}

// IsHealthy reports whether the stream answers a lookup.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.name)
	return err == nil
}

// Close releases the NATS connection.
func (s *StreamInitializer) Close() {
	s.conn.Close()
}
