// Package metrics defines the Prometheus collectors exported by BloodLink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundMessages counts dispatched inbound messages by flow and outcome.
	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_inbound_messages_total",
		Help: "Inbound chat messages dispatched, by flow and outcome",
	}, []string{"flow", "outcome"})

	// DispatchDuration observes end-to-end router latency.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bloodlink_dispatch_duration_seconds",
		Help:    "Latency of routing one inbound message, including store and provider calls",
		Buckets: prometheus.DefBuckets,
	})

	// DuplicateInbound counts webhook deliveries dropped by deduplication.
	DuplicateInbound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_inbound_duplicates_total",
		Help: "Inbound messages dropped because their provider message ID was already seen",
	})

	// SessionConflicts counts dispatches that lost a per-phone race.
	SessionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_session_conflicts_total",
		Help: "Dispatches rejected because the session changed or was locked concurrently",
	})

	// SessionStoreDuration observes session store operations in milliseconds.
	SessionStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bloodlink_session_store_duration_ms",
		Help:    "Latency of session store operations in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	}, []string{"op"})

	// VerificationAttempts counts KYC steps by kind and result.
	VerificationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_verification_attempts_total",
		Help: "Verification provider calls, by check kind and result",
	}, []string{"kind", "result"})

	// Pledges counts pledge attempts by result.
	Pledges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_pledges_total",
		Help: "Pledge attempts against blood requests, by result",
	}, []string{"result"})

	// OutboundMessages counts outbound sends by result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloodlink_outbound_messages_total",
		Help: "Outbound chat messages, by result",
	}, []string{"result"})

	// ExpiredRequests counts requests moved to expired by the sweep.
	ExpiredRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloodlink_requests_expired_total",
		Help: "Blood requests marked expired by the deadline sweep",
	})
)
