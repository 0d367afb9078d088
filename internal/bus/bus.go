// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package bus carries broadcasts between instances over NATS JetStream.
//
// The instance that accepts a command persists it and publishes an
// Envelope on the match's subject; every instance, including the
// publisher, consumes the stream and fans the envelope out to its local
// WebSocket clients. Messages carry a Nats-Msg-Id so JetStream's
// duplicate window absorbs publish retries.
package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tatamilive/tatami/internal/logging"
)

// Subject roots. Each match and tournament gets one subject under its
// root; the stream captures both wildcards.
const (
	MatchSubjectRoot      = "match"
	TournamentSubjectRoot = "tournament"

	MatchSubjectWildcard      = MatchSubjectRoot + ".>"
	TournamentSubjectWildcard = TournamentSubjectRoot + ".>"
)

// MatchSubject returns the subject for one match's broadcasts. NATS
// subject tokens cannot contain dots, so ids are sanitized.
func MatchSubject(matchID string) string {
	return MatchSubjectRoot + "." + sanitizeToken(matchID)
}

// TournamentSubject returns the subject for one tournament's deltas.
func TournamentSubject(tournamentID string) string {
	return TournamentSubjectRoot + "." + sanitizeToken(tournamentID)
}

func sanitizeToken(id string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(id)
}

// Config holds the connection settings shared by publisher and
// subscriber.
type Config struct {
	// URL is the NATS server address.
	URL string

	// StreamName is the JetStream stream holding match subjects.
	StreamName string

	// InstanceID identifies this process in envelope origins and lease
	// ownership.
	InstanceID string

	MaxReconnects int
	ReconnectWait time.Duration
}

// Validate checks the settings a connection cannot work without.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("bus: url required")
	}
	if c.StreamName == "" {
		return fmt.Errorf("bus: stream name required")
	}
	if c.InstanceID == "" {
		return fmt.Errorf("bus: instance id required")
	}
	return nil
}

// connectOptions builds the shared NATS connection options with
// reconnection handling.
func (c *Config) connectOptions(component string) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("tatami-" + component + "-" + c.InstanceID),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(c.MaxReconnects),
		natsgo.ReconnectWait(c.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().
					Str("component", component).
					Err(err).
					Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().
				Str("component", component).
				Str("url", nc.ConnectedUrl()).
				Msg("NATS reconnected")
		}),
		natsgo.ErrorHandler(func(nc *natsgo.Conn, sub *natsgo.Subscription, err error) {
			ev := logging.Error().Str("component", component).Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS async error")
		}),
	}
}

// wmLogger adapts the process logger to watermill's logging contract.
type wmLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a watermill adapter over the process logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &wmLogger{}
}

func (l *wmLogger) emit(ev *zerolog.Event, msg string, err error, fields watermill.LogFields) {
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(logging.Error(), msg, err, fields)
}

func (l *wmLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(logging.Info(), msg, nil, fields)
}

func (l *wmLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, nil, fields)
}

func (l *wmLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(logging.Debug(), msg, nil, fields)
}

func (l *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := watermill.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &wmLogger{fields: merged}
}
