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

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tatamilive/tatami/internal/metrics"
)

// leaseBucket holds one key per running match timer. The bucket TTL
// reclaims leases whose holder died without releasing.
const leaseBucket = "match-ticker-leases"

// ErrLeaseHeld is returned when another instance already drives the
// match's timer.
var ErrLeaseHeld = errors.New("ticker lease held elsewhere")

// ErrLeaseLost is returned when a renew finds the lease revision changed
// underneath the holder, or the lease was already given up.
var ErrLeaseLost = errors.New("ticker lease lost")

// TickerLeases hands out per-match timer leases backed by a JetStream
// key-value bucket. Exactly one instance holds a match's lease at a
// time; the holder runs the countdown and renews at half the TTL.
type TickerLeases struct {
	kv         jetstream.KeyValue
	instanceID string
	ttl        time.Duration
}

// NewTickerLeases creates or binds the lease bucket.
func NewTickerLeases(ctx context.Context, js jetstream.JetStream, instanceID string, ttl time.Duration) (*TickerLeases, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive")
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: leaseBucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create lease bucket: %w", err)
	}
	return &TickerLeases{kv: kv, instanceID: instanceID, ttl: ttl}, nil
}

// RenewInterval is how often a holder should renew to keep the lease
// comfortably inside the TTL.
func (t *TickerLeases) RenewInterval() time.Duration {
	return t.ttl / 2
}

// Acquire claims the match's timer lease. ErrLeaseHeld means another
// live holder exists; the caller backs off and relies on broadcasts.
func (t *TickerLeases) Acquire(ctx context.Context, matchID string) (*Lease, error) {
	rev, err := t.kv.Create(ctx, matchID, []byte(t.instanceID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("acquire lease for match %s: %w", matchID, err)
	}
	metrics.TickerLeasesHeld.Inc()
	return &Lease{
		leases:   t,
		matchID:  matchID,
		revision: rev,
	}, nil
}

// Lease is one held timer lease. Not safe for concurrent use; the
// holding ticker goroutine owns it.
type Lease struct {
	leases   *TickerLeases
	matchID  string
	revision uint64
	released bool
}

// MatchID returns the match the lease covers.
func (l *Lease) MatchID() string {
	return l.matchID
}

// Renew refreshes the TTL. ErrLeaseLost means another instance took
// over; the holder must stop its ticker immediately.
func (l *Lease) Renew(ctx context.Context) error {
	if l.released {
		return ErrLeaseLost
	}
	rev, err := l.leases.kv.Update(ctx, l.matchID, []byte(l.leases.instanceID), l.revision)
	if err != nil {
		l.released = true
		metrics.TickerLeasesHeld.Dec()
		return fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	l.revision = rev
	return nil
}

// Release gives the lease up. Safe to call after a lost renew.
func (l *Lease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	metrics.TickerLeasesHeld.Dec()
	if err := l.leases.kv.Delete(ctx, l.matchID, jetstream.LastRevision(l.revision)); err != nil {
		return fmt.Errorf("release lease for match %s: %w", l.matchID, err)
	}
	return nil
}
