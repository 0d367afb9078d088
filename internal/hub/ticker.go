// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tatamilive/tatami/internal/bus"
	"github.com/tatamilive/tatami/internal/engine"
	"github.com/tatamilive/tatami/internal/logging"
	"github.com/tatamilive/tatami/internal/models"
	"github.com/tatamilive/tatami/internal/store"
)

// SystemCommands executes engine commands on behalf of the process
// itself, bypassing the role gate.
type SystemCommands interface {
	ExecuteSystem(ctx context.Context, cmd engine.Command) error
}

// TimerPublisher publishes advisory countdown envelopes.
type TimerPublisher interface {
	PublishEnvelope(ctx context.Context, env *bus.Envelope) error
}

// TickerManager drives match countdowns. A ticker runs per match
// channel with local subscribers; only the instance holding the match's
// lease actually ticks, everyone else waits on the lease and renders
// the broadcasts.
//
// The in-memory countdown is advisory. Every reconcile interval, and at
// zero, the remaining time goes through the command path and becomes a
// durable event.
type TickerManager struct {
	leases    *bus.TickerLeases
	publisher TimerPublisher
	commands  SystemCommands
	store     store.MatchStore

	reconcileEvery time.Duration
	storeTimeout   time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	tickers map[string]*matchTicker
}

// NewTickerManager wires the manager. Commands are set afterwards; the
// router depends on the hub which depends on the manager.
func NewTickerManager(leases *bus.TickerLeases, publisher TimerPublisher, st store.MatchStore, reconcileEvery, storeTimeout time.Duration) *TickerManager {
	return &TickerManager{
		leases:         leases,
		publisher:      publisher,
		store:          st,
		reconcileEvery: reconcileEvery,
		storeTimeout:   storeTimeout,
		baseCtx:        context.Background(),
		tickers:        make(map[string]*matchTicker),
	}
}

// SetCommands wires the durable reconcile path.
func (t *TickerManager) SetCommands(c SystemCommands) { t.commands = c }

// Serve anchors ticker lifetimes to the supervision tree and stops
// every ticker on shutdown.
func (t *TickerManager) Serve(ctx context.Context) error {
	t.mu.Lock()
	t.baseCtx = ctx
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	tickers := t.tickers
	t.tickers = make(map[string]*matchTicker)
	t.mu.Unlock()

	for _, mt := range tickers {
		mt.cancel()
		<-mt.done
	}
	return ctx.Err()
}

// EnsureTicker starts the match's ticker if it is not already running.
func (t *TickerManager) EnsureTicker(matchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, running := t.tickers[matchID]; running {
		return
	}
	ctx, cancel := context.WithCancel(t.baseCtx)
	mt := &matchTicker{
		manager: t,
		matchID: matchID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.tickers[matchID] = mt
	go mt.run(ctx)
}

// StopTicker stops the match's ticker. Called when the last local
// subscriber detaches.
func (t *TickerManager) StopTicker(matchID string) {
	t.mu.Lock()
	mt, ok := t.tickers[matchID]
	if ok {
		delete(t.tickers, matchID)
	}
	t.mu.Unlock()

	if ok {
		mt.cancel()
	}
}

// Observe feeds a broadcast snapshot into the match's ticker so the
// in-memory countdown tracks durable state.
func (t *TickerManager) Observe(match *models.Match) {
	if match == nil {
		return
	}
	t.mu.Lock()
	mt, ok := t.tickers[match.ID]
	t.mu.Unlock()

	if ok {
		mt.observe(match)
	}
}

// matchTicker is one match's countdown loop.
type matchTicker struct {
	manager *TickerManager
	matchID string
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	state     models.MatchState
	remaining uint
	version   uint64
}

func (mt *matchTicker) observe(match *models.Match) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.state = match.State
	mt.remaining = match.TimeRemainingSeconds
	mt.version = match.Version
}

// run alternates between waiting for the lease and ticking while it is
// held. Another holder's liveness is bounded by the lease TTL.
func (mt *matchTicker) run(ctx context.Context) {
	defer close(mt.done)

	retry := mt.manager.leases.RenewInterval()
	for {
		lease, err := mt.manager.leases.Acquire(ctx, mt.matchID)
		if err != nil {
			if !errors.Is(err, bus.ErrLeaseHeld) && ctx.Err() == nil {
				logging.Warn().Str("match_id", mt.matchID).Err(err).Msg("ticker lease acquire failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
				continue
			}
		}

		mt.hold(ctx, lease)
		if ctx.Err() != nil {
			return
		}
	}
}

// hold ticks until the context ends or the lease is lost.
func (mt *matchTicker) hold(ctx context.Context, lease *bus.Lease) {
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), mt.manager.storeTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logging.Debug().Str("match_id", mt.matchID).Err(err).Msg("ticker lease release failed")
		}
	}()

	mt.load(ctx)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	renew := time.NewTicker(mt.manager.leases.RenewInterval())
	defer renew.Stop()

	var sinceReconcile time.Duration
	for {
		select {
		case <-ctx.Done():
			return

		case <-renew.C:
			renewCtx, cancel := context.WithTimeout(ctx, mt.manager.storeTimeout)
			err := lease.Renew(renewCtx)
			cancel()
			if err != nil {
				logging.Warn().Str("match_id", mt.matchID).Err(err).Msg("ticker lease lost")
				return
			}

		case <-tick.C:
			sinceReconcile += time.Second
			if mt.tick(ctx, sinceReconcile >= mt.manager.reconcileEvery) {
				sinceReconcile = 0
			}
		}
	}
}

// load primes the countdown from the store.
func (mt *matchTicker) load(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, mt.manager.storeTimeout)
	defer cancel()

	match, err := mt.manager.store.LoadMatch(loadCtx, mt.matchID)
	if err != nil {
		logging.Warn().Str("match_id", mt.matchID).Err(err).Msg("ticker state load failed")
		return
	}
	mt.observe(match)
}

// tick advances the countdown one second. Returns true when it wrote a
// durable reconcile.
func (mt *matchTicker) tick(ctx context.Context, reconcile bool) bool {
	mt.mu.Lock()
	if mt.state != models.MatchStateInProgress {
		mt.mu.Unlock()
		return false
	}
	if mt.remaining > 0 {
		mt.remaining--
	}
	remaining := mt.remaining
	version := mt.version
	mt.mu.Unlock()

	env := &bus.Envelope{
		Kind:    bus.KindTimer,
		MatchID: mt.matchID,
		Version: version,
		Timer: &models.TimerUpdateData{
			TimeRemainingSeconds: remaining,
			State:                models.MatchStateInProgress,
			Durable:              false,
		},
	}
	pubCtx, cancel := context.WithTimeout(ctx, mt.manager.storeTimeout)
	if err := mt.manager.publisher.PublishEnvelope(pubCtx, env); err != nil {
		logging.Debug().Str("match_id", mt.matchID).Err(err).Msg("advisory timer publish failed")
	}
	cancel()

	if remaining == 0 {
		mt.expire(ctx)
		return true
	}
	if reconcile {
		mt.reconcile(ctx, remaining)
		return true
	}
	return false
}

// expire pushes the synthetic expiry through the command path. The
// engine finishes the match; the resulting broadcast flips the ticker's
// observed state to FINISHED.
func (mt *matchTicker) expire(ctx context.Context) {
	cmdCtx, cancel := context.WithTimeout(ctx, mt.manager.storeTimeout)
	defer cancel()

	err := mt.manager.commands.ExecuteSystem(cmdCtx, engine.Command{
		Kind:    engine.KindTimerExpired,
		MatchID: mt.matchID,
	})
	if err != nil {
		if _, rejected := engine.AsRejection(err); rejected {
			// Someone else already moved the match out of IN_PROGRESS.
			return
		}
		logging.Warn().Str("match_id", mt.matchID).Err(err).Msg("timer expiry command failed")
	}
}

// reconcile persists the advisory countdown as a durable timer event.
func (mt *matchTicker) reconcile(ctx context.Context, remaining uint) {
	cmdCtx, cancel := context.WithTimeout(ctx, mt.manager.storeTimeout)
	defer cancel()

	err := mt.manager.commands.ExecuteSystem(cmdCtx, engine.Command{
		Kind:    engine.KindTimerSet,
		MatchID: mt.matchID,
		Seconds: remaining,
	})
	if err != nil && !errors.Is(err, store.ErrVersionConflict) {
		if _, rejected := engine.AsRejection(err); !rejected {
			logging.Warn().Str("match_id", mt.matchID).Err(err).Msg("timer reconcile failed")
		}
	}
}
