// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package hub holds the connection registry and the per-channel fan-out.
//
// The hub owns connection lifecycle: accept, heartbeat, backpressure
// eviction and detach. It never blocks a broadcast on one slow client;
// a connection whose queue is full is evicted and the rest of the
// channel keeps its frame order.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/metrics"
	"github.com/tatamilive/tatami/internal/models"
	"github.com/tatamilive/tatami/internal/store"
)

// Config is the hub's connection policy.
type Config struct {
	PingInterval  time.Duration
	IdleTimeout   time.Duration
	SendTimeout   time.Duration
	SendQueueSize int

	// CommandRate and CommandBurst bound inbound commands per
	// connection.
	CommandRate  float64
	CommandBurst int

	// StoreTimeout bounds the snapshot and resume reads on attach.
	StoreTimeout time.Duration
}

// CommandHandler consumes inbound client frames in receive order.
type CommandHandler interface {
	Handle(ctx context.Context, conn *Conn, frame *models.InboundFrame)
}

// SubscriptionManager reference-counts the per-channel bus consumers.
type SubscriptionManager interface {
	Retain(channel Channel)
	Release(channel Channel)
}

// Hub is the per-process connection registry.
type Hub struct {
	cfg   Config
	store store.MatchStore

	commands CommandHandler
	subs     SubscriptionManager
	tickers  *TickerManager

	mu        sync.RWMutex
	baseCtx   context.Context
	conns     map[uint64]*Conn
	byChannel map[Channel]map[uint64]*Conn
}

// New creates an empty hub. Commands, subscriptions and tickers are
// wired afterwards; they depend on the hub themselves.
func New(cfg Config, st store.MatchStore) *Hub {
	return &Hub{
		cfg:       cfg,
		store:     st,
		baseCtx:   context.Background(),
		conns:     make(map[uint64]*Conn),
		byChannel: make(map[Channel]map[uint64]*Conn),
	}
}

// SetCommands wires the command router.
func (h *Hub) SetCommands(c CommandHandler) { h.commands = c }

// SetSubscriptions wires the bus subscription manager.
func (h *Hub) SetSubscriptions(s SubscriptionManager) { h.subs = s }

// SetTickers wires the timer ticker manager.
func (h *Hub) SetTickers(t *TickerManager) { h.tickers = t }

// Serve blocks until the context is canceled, then closes every
// connection. Designed to run under supervision.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.baseCtx = ctx
	h.mu.Unlock()

	<-ctx.Done()

	h.mu.Lock()
	conns := sortedConns(h.conns)
	h.conns = make(map[uint64]*Conn)
	h.byChannel = make(map[Channel]map[uint64]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.close(CloseNormal, "shutting down")
		metrics.WSConnections.Dec()
	}
	logging.Info().
		Str("component", "hub").
		Int("clients_closed", len(conns)).
		Msg("hub stopped")
	return ctx.Err()
}

// Attach registers an upgraded connection on its channel and starts its
// pumps. For match channels the client immediately receives a snapshot,
// with the events after sinceVersion when the client is resuming.
func (h *Hub) Attach(ctx context.Context, ws *websocket.Conn, subjectID string, roles models.RoleSet, channel Channel, referee bool, sinceVersion uint64) (*Conn, error) {
	c := newConn(h, ws, subjectID, roles, channel, referee)

	var snapshot *models.Frame
	if channel.Kind() == ChannelMatch {
		frame, err := h.snapshotFrame(ctx, channel.TargetID(), sinceVersion)
		if err != nil {
			return nil, err
		}
		snapshot = frame
	}

	h.mu.Lock()
	// The connection outlives the handshake request; its context hangs
	// off the hub lifetime instead.
	connCtx, cancel := context.WithCancel(h.baseCtx)
	c.cancel = cancel
	h.conns[c.id] = c
	chans, ok := h.byChannel[channel]
	if !ok {
		chans = make(map[uint64]*Conn)
		h.byChannel[channel] = chans
	}
	first := len(chans) == 0
	chans[c.id] = c
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	if first && h.subs != nil {
		h.subs.Retain(channel)
	}
	if channel.Kind() == ChannelMatch && h.tickers != nil {
		h.tickers.EnsureTicker(channel.TargetID())
	}

	if snapshot != nil {
		c.Send(snapshot)
	}

	go c.writePump()
	go c.readPump(connCtx)

	h.broadcastStatus(channel)
	logging.Info().
		Uint64("conn_id", c.id).
		Str("subject_id", subjectID).
		Str("channel", string(channel)).
		Bool("referee", referee).
		Int("total_clients", h.ConnCount()).
		Msg("websocket client connected")
	return c, nil
}

// snapshotFrame builds the initial MATCH_UPDATE: the current snapshot
// plus the events the resuming client missed.
func (h *Hub) snapshotFrame(ctx context.Context, matchID string, sinceVersion uint64) (*models.Frame, error) {
	loadCtx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()

	match, err := h.store.LoadMatch(loadCtx, matchID)
	if err != nil {
		return nil, err
	}

	var missed []*models.MatchEvent
	if sinceVersion < match.Version {
		missed, err = h.store.RecentEvents(loadCtx, matchID, sinceVersion, 0)
		if err != nil {
			return nil, err
		}
	}

	return &models.Frame{
		Type:      models.FrameMatchUpdate,
		MatchID:   matchID,
		Timestamp: time.Now().UTC(),
		Version:   match.Version,
		Data: models.MatchUpdateData{
			Match:         match,
			EmittedEvents: missed,
		},
	}, nil
}

// detach unregisters the connection. Idempotent; every exit path funnels
// here through readPump's defer.
func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	_, present := h.conns[c.id]
	if present {
		delete(h.conns, c.id)
		if chans, ok := h.byChannel[c.channel]; ok {
			delete(chans, c.id)
			if len(chans) == 0 {
				delete(h.byChannel, c.channel)
			}
		}
	}
	last := h.byChannel[c.channel] == nil
	h.mu.Unlock()

	if !present {
		return
	}

	c.cancel()
	metrics.WSConnections.Dec()
	c.close(CloseNormal, "")

	if last {
		if h.subs != nil {
			h.subs.Release(c.channel)
		}
		if c.channel.Kind() == ChannelMatch && h.tickers != nil {
			h.tickers.StopTicker(c.channel.TargetID())
		}
	}

	h.broadcastStatus(c.channel)
	logging.Info().
		Uint64("conn_id", c.id).
		Str("channel", string(c.channel)).
		Int("total_clients", h.ConnCount()).
		Msg("websocket client disconnected")
}

// evict closes a connection for cause and records the eviction.
func (h *Hub) evict(c *Conn, code int, reason string) {
	switch code {
	case CloseSlowConsumer:
		metrics.SlowConsumerEvictions.Inc()
	case CloseIdle:
		metrics.IdleEvictions.Inc()
	}
	logging.Warn().
		Uint64("conn_id", c.id).
		Str("channel", string(c.channel)).
		Int("code", code).
		Str("reason", reason).
		Msg("evicting websocket client")
	c.close(code, reason)
	h.detach(c)
}

// Broadcast delivers one frame to every connection on the channel in
// connection-id order. Connections whose queue is full are evicted;
// surviving connections keep the frame order.
func (h *Hub) Broadcast(channel Channel, frame *models.Frame) {
	h.mu.RLock()
	conns := sortedConns(h.byChannel[channel])
	h.mu.RUnlock()

	var evicted []*Conn
	for _, c := range conns {
		if c.Send(frame) {
			metrics.MessagesBroadcasted.Inc()
		} else {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		h.evict(c, CloseSlowConsumer, "slow_consumer")
	}
}

// DeliverEnvelope fans a bus envelope out to the matching local channel.
// It is the bus consumer's entry point into the hub.
func (h *Hub) DeliverEnvelope(ctx context.Context, env *bus.Envelope) error {
	now := time.Now().UTC()
	switch env.Kind {
	case bus.KindMatchUpdate:
		if h.tickers != nil {
			h.tickers.Observe(env.Match)
		}
		h.Broadcast(MatchChannel(env.MatchID), &models.Frame{
			Type:      models.FrameMatchUpdate,
			MatchID:   env.MatchID,
			Timestamp: now,
			Version:   env.Version,
			Data: models.MatchUpdateData{
				Match:         env.Match,
				EmittedEvents: env.Events,
			},
		})
		for _, ev := range env.Events {
			if ev.EventType != models.EventComment {
				continue
			}
			h.Broadcast(MatchChannel(env.MatchID), &models.Frame{
				Type:      models.FrameEventAppended,
				MatchID:   env.MatchID,
				Timestamp: now,
				Version:   ev.Sequence,
				Data:      models.EventAppendedData{Event: ev},
			})
		}

	case bus.KindTimer:
		h.Broadcast(MatchChannel(env.MatchID), &models.Frame{
			Type:      models.FrameTimerUpdate,
			MatchID:   env.MatchID,
			Timestamp: now,
			Version:   env.Version,
			Data:      *env.Timer,
		})

	case bus.KindTournamentDelta:
		h.Broadcast(TournamentChannel(env.TournamentID), &models.Frame{
			Type:         models.FrameMatchUpdate,
			MatchID:      env.MatchID,
			TournamentID: env.TournamentID,
			Timestamp:    now,
			Version:      env.Version,
			Data:         *env.Delta,
		})
	}
	return nil
}

// broadcastStatus publishes the channel's membership counts to its
// local subscribers.
func (h *Hub) broadcastStatus(channel Channel) {
	status := h.Counts(channel)
	frame := &models.Frame{
		Type:      models.FrameConnectionStatus,
		Timestamp: time.Now().UTC(),
		Data:      status,
	}
	switch channel.Kind() {
	case ChannelMatch:
		frame.MatchID = channel.TargetID()
	case ChannelTournament:
		frame.TournamentID = channel.TargetID()
	}
	h.Broadcast(channel, frame)
}

// Counts returns the channel's membership summary.
func (h *Hub) Counts(channel Channel) models.ConnectionStatusData {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var status models.ConnectionStatusData
	for _, c := range h.byChannel[channel] {
		status.Connections++
		if c.referee {
			status.Referees++
		} else {
			status.Viewers++
		}
	}
	return status
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// HasSubscribers reports whether a channel has local connections.
func (h *Hub) HasSubscribers(channel Channel) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byChannel[channel]) > 0
}

func sortedConns(m map[uint64]*Conn) []*Conn {
	conns := make([]*Conn, 0, len(m))
	for _, c := range m {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].id < conns[j].id
	})
	return conns
}
