// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the match control plane:
// - WebSocket connection lifecycle
// - Pub/sub publish and broadcast throughput
// - Command acceptance/rejection by the match engine
// - Store latency and availability

var (
	// WSConnections tracks the number of currently open WebSocket connections.
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "current_ws_connections",
			Help: "Current number of open WebSocket connections",
		},
	)

	// PubSubBacklog tracks pending messages across local channel subscriptions.
	PubSubBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubsub_backlog",
			Help: "Messages received from the bus and not yet dispatched locally",
		},
	)

	// BroadcastLatency measures publish-to-local-deliver latency.
	BroadcastLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_latency_ms",
			Help:    "Latency from bus publish to local fan-out delivery in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// MessagesPublished counts frames published to the bus by this instance.
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_published",
			Help: "Total frames published to the pub/sub bus",
		},
	)

	// MessagesBroadcasted counts frames delivered to local connections.
	MessagesBroadcasted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_broadcasted",
			Help: "Total frames delivered to local WebSocket connections",
		},
	)

	// CommandsAccepted counts accepted commands by kind.
	CommandsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_accepted_total",
			Help: "Total commands accepted by the match engine",
		},
		[]string{"kind"},
	)

	// CommandsRejected counts rejected commands by rejection reason.
	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_rejected_total",
			Help: "Total commands rejected by the match engine or router",
		},
		[]string{"reason"},
	)

	// AutoFinishes counts engine-initiated match finishes by cause.
	AutoFinishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_finish_total",
			Help: "Total automatic match finishes",
		},
		[]string{"cause"}, // "submission", "disqualification", "timer"
	)

	// StoreOperationDuration measures match store call latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of match store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// StoreErrors counts match store failures by operation and error class.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total match store errors",
		},
		[]string{"operation", "error_type"},
	)

	// SlowConsumerEvictions counts connections dropped for not keeping up.
	SlowConsumerEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_slow_consumer_evictions_total",
			Help: "Total connections evicted for exceeding the send queue",
		},
	)

	// IdleEvictions counts connections dropped for missing heartbeats.
	IdleEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_idle_evictions_total",
			Help: "Total connections evicted for heartbeat timeout",
		},
	)

	// TickerLeasesHeld tracks per-match timer leases owned by this instance.
	TickerLeasesHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "match_ticker_leases_held",
			Help: "Match timer leases currently owned by this instance",
		},
	)

	// HTTPActiveRequests tracks in-flight HTTP requests.
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "HTTP requests currently being served",
		},
	)

	// HTTPRequestDuration tracks HTTP request latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// TrackActiveRequest adjusts the in-flight HTTP request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveBroadcastLatency records the delay between bus publish and local delivery.
func ObserveBroadcastLatency(publishedAt time.Time) {
	BroadcastLatency.Observe(float64(time.Since(publishedAt).Microseconds()) / 1000.0)
}

// RecordStoreOperation records the outcome of one store call.
func RecordStoreOperation(operation string, start time.Time, err error) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(operation, classifyError(err)).Inc()
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
